// Package export is the public entry point to the artifact pipeline.
// Library callers construct a snapshot or a Source, pick a preset, and
// call one of the functions here; everything else is internal.
package export

import (
	"context"

	"github.com/memtrace/memexport/internal/collector"
	"github.com/memtrace/memexport/internal/exporter"
	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/internal/integrity"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/model"
)

// Source yields allocation records for export. See collector.Source.
type Source = collector.Source

// Outcome carries an asynchronous export's result.
type Outcome = exporter.Outcome

// NewSnapshotSource wraps an in-memory snapshot as a replayable Source.
func NewSnapshotSource(u *model.UnifiedData) Source {
	return collector.NewSnapshotSource(u)
}

// NewSliceSource wraps raw records and stacks as a replayable Source.
func NewSliceSource(records []model.AllocationRecord, stacks map[uint64]model.CallStack) Source {
	return collector.NewSliceSource(records, stacks)
}

// Default exports with the balanced preset and no deadline.
func Default(src Source, path string) (*model.ExportResult, error) {
	return WithConfig(context.Background(), src, config.Balanced(), path)
}

// WithConfig exports under an explicit configuration.
func WithConfig(ctx context.Context, src Source, cfg config.ExportConfig, path string) (*model.ExportResult, error) {
	e, err := exporter.New(cfg)
	if err != nil {
		return nil, err
	}
	return e.Export(ctx, src, path)
}

// Async starts an export with the balanced preset and returns a
// buffered channel the single Outcome arrives on.
func Async(ctx context.Context, src Source, path string) <-chan Outcome {
	e, err := exporter.New(config.Balanced())
	if err != nil {
		ch := make(chan Outcome, 1)
		ch <- Outcome{Err: err}
		close(ch)
		return ch
	}
	return e.ExportAsync(ctx, src, path)
}

// Load reads an artifact of any layout back into memory.
func Load(path string) (*model.UnifiedData, error) {
	return exporter.Load(path)
}

// ValidateFile runs the independent integrity check against an
// artifact on disk.
func ValidateFile(path string) (*model.ValidationReport, error) {
	return integrity.ValidateFile(path)
}

// ConvertFormat re-encodes artifact bytes into another layout,
// preserving the source's compression algorithm.
func ConvertFormat(data []byte, to config.Format) ([]byte, error) {
	return format.Convert(data, to)
}

// Detect parses an artifact prefix and reports its layout, compression,
// and version.
func Detect(prefix []byte) (*format.Header, error) {
	return format.Detect(prefix)
}
