// Package config provides configuration for the export pipeline.
package config

import (
	"fmt"
	"runtime"

	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/errors"
)

// Format identifies the on-disk artifact layout.
type Format uint8

const (
	// FormatTagged is the self-describing tagged binary layout: one
	// header, one deduplicated call-stack table, fixed-layout records.
	FormatTagged Format = 1
	// FormatInterchange is the interchange binary layout: a msgpack
	// envelope behind the common header.
	FormatInterchange Format = 2
	// FormatChunked wraps independent length-prefixed chunks so readers
	// can stream and skip without a full decode.
	FormatChunked Format = 3
)

// String returns the format name as used in CLI flags and logs.
func (f Format) String() string {
	switch f {
	case FormatTagged:
		return "tagged"
	case FormatInterchange:
		return "interchange"
	case FormatChunked:
		return "chunked"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(f))
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "tagged":
		return FormatTagged, nil
	case "interchange":
		return FormatInterchange, nil
	case "chunked", "":
		return FormatChunked, nil
	default:
		return 0, fmt.Errorf("unknown format: %q", s)
	}
}

// ProcessingMode selects the processor strategy.
type ProcessingMode uint8

const (
	// ModeBatch materializes all records and encodes in one pass.
	ModeBatch ProcessingMode = 0
	// ModeStreaming encodes bounded windows with O(window) memory.
	ModeStreaming ProcessingMode = 1
	// ModeParallel processes windows on a worker pool, preserving order.
	ModeParallel ProcessingMode = 2
)

// String returns the mode name.
func (m ProcessingMode) String() string {
	switch m {
	case ModeBatch:
		return "batch"
	case ModeStreaming:
		return "streaming"
	case ModeParallel:
		return "parallel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ParseProcessingMode parses a processing-mode name.
func ParseProcessingMode(s string) (ProcessingMode, error) {
	switch s {
	case "batch":
		return ModeBatch, nil
	case "streaming", "":
		return ModeStreaming, nil
	case "parallel":
		return ModeParallel, nil
	default:
		return 0, fmt.Errorf("unknown processing mode: %q", s)
	}
}

// DefaultChunkSize is the target encoded size of one streaming window.
const DefaultChunkSize = 256 * 1024

// ExportConfig is the immutable configuration for a single export call.
// Construct it with a preset and adjust fields before first use; the
// pipeline never mutates it.
type ExportConfig struct {
	// Format selects the artifact layout.
	Format Format `mapstructure:"format"`

	// ChunkSize is the target encoded bytes per window for the chunked
	// format and the streaming/parallel strategies. A window holding a
	// single record may exceed it; records are never split.
	ChunkSize int `mapstructure:"chunk_size"`

	// Compression selects the payload compression algorithm.
	// AlgorithmAuto samples the first encoded window.
	Compression compression.Algorithm `mapstructure:"compression"`

	// CompressionLevel tunes the selected algorithm.
	CompressionLevel compression.Level `mapstructure:"compression_level"`

	// Mode selects the processor strategy.
	Mode ProcessingMode `mapstructure:"mode"`

	// Workers is the worker count for ModeParallel. Ignored otherwise.
	Workers int `mapstructure:"workers"`

	// ValidateOutput re-reads the artifact after writing and fails the
	// export if the independent check does not pass.
	ValidateOutput bool `mapstructure:"validate_output"`

	// MaxMemoryBytes caps buffer-pool checkout. Zero means no ceiling.
	MaxMemoryBytes int64 `mapstructure:"max_memory_bytes"`

	// SortByType groups records by type name before encoding for better
	// compression locality. Off by default: it reorders the record
	// stream, which callers relying on collection order must not enable.
	SortByType bool `mapstructure:"sort_by_type"`

	// StrictCollection fails collection on a dangling call-stack
	// reference instead of repairing it with a placeholder.
	StrictCollection bool `mapstructure:"strict_collection"`
}

// Balanced returns the default configuration: streaming chunked export
// with zstd at the default level.
func Balanced() ExportConfig {
	return ExportConfig{
		Format:           FormatChunked,
		ChunkSize:        DefaultChunkSize,
		Compression:      compression.AlgorithmZstd,
		CompressionLevel: compression.LevelDefault,
		Mode:             ModeStreaming,
	}
}

// HighPerformance returns a configuration optimized for export speed:
// large windows, lz4, parallel workers.
func HighPerformance() ExportConfig {
	return ExportConfig{
		Format:           FormatChunked,
		ChunkSize:        1024 * 1024,
		Compression:      compression.AlgorithmLz4,
		CompressionLevel: compression.LevelFastest,
		Mode:             ModeParallel,
		Workers:          runtime.NumCPU(),
	}
}

// MemoryEfficient returns a configuration with small windows, maximum
// compression, and a hard memory ceiling.
func MemoryEfficient() ExportConfig {
	return ExportConfig{
		Format:           FormatChunked,
		ChunkSize:        64 * 1024,
		Compression:      compression.AlgorithmZstd,
		CompressionLevel: compression.LevelBest,
		Mode:             ModeStreaming,
		MaxMemoryBytes:   64 * 1024 * 1024,
	}
}

// Validate checks the configuration for inconsistencies. It normalizes
// nothing; callers get an error, not a silent correction.
func (c ExportConfig) Validate() error {
	switch c.Format {
	case FormatTagged, FormatInterchange, FormatChunked:
	default:
		return errors.Config(fmt.Sprintf("invalid format: %d", c.Format))
	}
	switch c.Mode {
	case ModeBatch, ModeStreaming, ModeParallel:
	default:
		return errors.Config(fmt.Sprintf("invalid processing mode: %d", c.Mode))
	}
	if c.Mode == ModeParallel && c.Workers <= 0 {
		return errors.Config(fmt.Sprintf("parallel mode requires at least one worker, got %d", c.Workers))
	}
	if c.ChunkSize <= 0 {
		return errors.Config(fmt.Sprintf("chunk size must be positive, got %d", c.ChunkSize))
	}
	if c.MaxMemoryBytes < 0 {
		return errors.Config(fmt.Sprintf("max memory must be non-negative, got %d", c.MaxMemoryBytes))
	}
	switch c.Compression {
	case compression.AlgorithmNone, compression.AlgorithmLz4,
		compression.AlgorithmZstd, compression.AlgorithmGzip,
		compression.AlgorithmAuto:
	default:
		return errors.Config(fmt.Sprintf("invalid compression algorithm: %d", c.Compression))
	}
	return nil
}

// WithMode returns a copy with the processing mode replaced.
func (c ExportConfig) WithMode(m ProcessingMode) ExportConfig {
	c.Mode = m
	return c
}

// WithCompression returns a copy with the compression algorithm replaced.
func (c ExportConfig) WithCompression(a compression.Algorithm) ExportConfig {
	c.Compression = a
	return c
}
