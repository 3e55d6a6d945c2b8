// Package compression provides unified compression/decompression for
// encoded export payloads.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies the compression algorithm applied to a payload.
// The values are stable: they are written into artifact headers.
type Algorithm uint8

const (
	// AlgorithmNone leaves payloads uncompressed.
	AlgorithmNone Algorithm = 0
	// AlgorithmLz4 uses LZ4 frame compression (fast, modest ratio).
	AlgorithmLz4 Algorithm = 1
	// AlgorithmZstd uses Zstandard (slower than LZ4, better ratio).
	AlgorithmZstd Algorithm = 2
	// AlgorithmGzip uses gzip (legacy, kept for interoperability).
	AlgorithmGzip Algorithm = 3
	// AlgorithmAuto lets the pipeline choose per export by sampling the
	// encoded data. Never written to an artifact header.
	AlgorithmAuto Algorithm = 255
)

// String returns the algorithm name as used in logs and CLI flags.
func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmLz4:
		return "lz4"
	case AlgorithmZstd:
		return "zstd"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "lz4":
		return AlgorithmLz4, nil
	case "zstd":
		return AlgorithmZstd, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "auto":
		return AlgorithmAuto, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %q", s)
	}
}

// Level represents the compression level.
type Level int

const (
	// LevelFastest prioritizes speed over compression ratio.
	LevelFastest Level = 1
	// LevelDefault balances speed and compression ratio.
	LevelDefault Level = 3
	// LevelBest prioritizes compression ratio over speed.
	LevelBest Level = 9
)

// Codec provides a unified interface for compression operations.
type Codec interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	// Decompress decompresses the input data.
	Decompress(data []byte) ([]byte, error)
	// NewWriter returns a streaming compressor over w. The caller must
	// Close it to flush trailing frames.
	NewWriter(w io.Writer) io.WriteCloser
	// NewReader returns a streaming decompressor over r.
	NewReader(r io.Reader) (io.ReadCloser, error)
	// Algorithm returns the algorithm tag.
	Algorithm() Algorithm
	// Name returns the human-readable name of the codec.
	Name() string
}

// New creates a codec by algorithm and level. AlgorithmAuto is not a
// concrete codec; resolve it with AutoSelect first.
func New(a Algorithm, level Level) (Codec, error) {
	switch a {
	case AlgorithmNone:
		return NewNoOpCodec(), nil
	case AlgorithmLz4:
		return NewLz4Codec(level), nil
	case AlgorithmZstd:
		return NewZstdCodec(level)
	case AlgorithmGzip:
		return NewGzipCodec(level), nil
	default:
		return nil, fmt.Errorf("no codec for algorithm %s", a)
	}
}

// ============================================================================
// Zstd Codec
// ============================================================================

// ZstdCodec implements Codec using Zstandard.
type ZstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	level   zstd.EncoderLevel
}

// NewZstdCodec creates a new zstd codec. The codec is reusable and safe
// for concurrent Compress/Decompress calls.
func NewZstdCodec(level Level) (*ZstdCodec, error) {
	zstdLevel := zstd.SpeedDefault
	switch level {
	case LevelFastest:
		zstdLevel = zstd.SpeedFastest
	case LevelBest:
		zstdLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCodec{encoder: encoder, decoder: decoder, level: zstdLevel}, nil
}

// Compress compresses data using zstd.
func (c *ZstdCodec) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// Decompress decompresses zstd data.
func (c *ZstdCodec) Decompress(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// NewWriter returns a streaming zstd writer.
func (c *ZstdCodec) NewWriter(w io.Writer) io.WriteCloser {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(c.level))
	if err != nil {
		return &errWriter{err: err}
	}
	return zw
}

// NewReader returns a streaming zstd reader.
func (c *ZstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return zr.IOReadCloser(), nil
}

// Algorithm returns AlgorithmZstd.
func (c *ZstdCodec) Algorithm() Algorithm { return AlgorithmZstd }

// Name returns "zstd".
func (c *ZstdCodec) Name() string { return "zstd" }

// Close releases encoder and decoder resources.
func (c *ZstdCodec) Close() {
	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// ============================================================================
// LZ4 Codec
// ============================================================================

// Lz4Codec implements Codec using the LZ4 frame format.
type Lz4Codec struct {
	level lz4.CompressionLevel
}

// NewLz4Codec creates a new lz4 codec.
func NewLz4Codec(level Level) *Lz4Codec {
	lvl := lz4.Fast
	switch level {
	case LevelDefault:
		lvl = lz4.Level3
	case LevelBest:
		lvl = lz4.Level9
	}
	return &Lz4Codec{level: lvl}
}

// Compress compresses data into an LZ4 frame.
func (c *Lz4Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 64)
	w := lz4.NewWriter(&buf)
	if err := w.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return nil, fmt.Errorf("lz4 writer option: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses an LZ4 frame.
func (c *Lz4Codec) Decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}

// NewWriter returns a streaming lz4 writer.
func (c *Lz4Codec) NewWriter(w io.Writer) io.WriteCloser {
	lw := lz4.NewWriter(w)
	if err := lw.Apply(lz4.CompressionLevelOption(c.level)); err != nil {
		return &errWriter{err: err}
	}
	return lw
}

// NewReader returns a streaming lz4 reader.
func (c *Lz4Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

// Algorithm returns AlgorithmLz4.
func (c *Lz4Codec) Algorithm() Algorithm { return AlgorithmLz4 }

// Name returns "lz4".
func (c *Lz4Codec) Name() string { return "lz4" }

// ============================================================================
// Gzip Codec
// ============================================================================

// GzipCodec implements Codec using gzip.
type GzipCodec struct {
	level int
}

// NewGzipCodec creates a new gzip codec.
func NewGzipCodec(level Level) *GzipCodec {
	gzipLevel := gzip.DefaultCompression
	switch level {
	case LevelFastest:
		gzipLevel = gzip.BestSpeed
	case LevelBest:
		gzipLevel = gzip.BestCompression
	}
	return &GzipCodec{level: gzipLevel}
}

// Compress compresses data using gzip.
func (c *GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses gzip data.
func (c *GzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

// NewWriter returns a streaming gzip writer.
func (c *GzipCodec) NewWriter(w io.Writer) io.WriteCloser {
	gw, err := gzip.NewWriterLevel(w, c.level)
	if err != nil {
		return &errWriter{err: err}
	}
	return gw
}

// NewReader returns a streaming gzip reader.
func (c *GzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

// Algorithm returns AlgorithmGzip.
func (c *GzipCodec) Algorithm() Algorithm { return AlgorithmGzip }

// Name returns "gzip".
func (c *GzipCodec) Name() string { return "gzip" }

// ============================================================================
// No-Op Codec
// ============================================================================

// NoOpCodec is a pass-through codec that does not compress data.
type NoOpCodec struct{}

// NewNoOpCodec creates a new no-op codec.
func NewNoOpCodec() *NoOpCodec { return &NoOpCodec{} }

// Compress returns the data unchanged.
func (c *NoOpCodec) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress returns the data unchanged.
func (c *NoOpCodec) Decompress(data []byte) ([]byte, error) { return data, nil }

// NewWriter returns a pass-through writer.
func (c *NoOpCodec) NewWriter(w io.Writer) io.WriteCloser {
	return nopWriteCloser{w}
}

// NewReader returns a pass-through reader.
func (c *NoOpCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

// Algorithm returns AlgorithmNone.
func (c *NoOpCodec) Algorithm() Algorithm { return AlgorithmNone }

// Name returns "none".
func (c *NoOpCodec) Name() string { return "none" }

// ============================================================================
// Helpers
// ============================================================================

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// errWriter defers a construction error until first use, so NewWriter can
// keep the io.WriteCloser signature.
type errWriter struct {
	err error
}

func (e *errWriter) Write([]byte) (int, error) { return 0, e.err }
func (e *errWriter) Close() error              { return e.err }

// Closeable is an optional interface for codecs that hold resources.
type Closeable interface {
	Close()
}

// Close closes a codec if it implements Closeable.
func Close(c Codec) {
	if closer, ok := c.(Closeable); ok {
		closer.Close()
	}
}
