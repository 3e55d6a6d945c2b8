package format

import (
	"bytes"

	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

// RecordEstimate is the per-record size contribution used by window
// partitioning. Streaming pipelines that cut windows incrementally must
// use the same estimate as Partition, or the window boundaries drift
// between processing modes.
func RecordEstimate(r *model.AllocationRecord) int {
	return recordSize + len(r.TypeName)
}

// Partition splits records into windows targeting chunkSize encoded
// bytes each. Windows are subslices; records are never split and a
// single record larger than chunkSize gets a window of its own. The
// partition depends only on the record sequence and chunkSize, so every
// processing mode produces the same windows for the same input.
func Partition(records []model.AllocationRecord, chunkSize int) [][]model.AllocationRecord {
	if len(records) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	var windows [][]model.AllocationRecord
	start, est := 0, 0
	for i := range records {
		est += RecordEstimate(&records[i])
		if est >= chunkSize {
			windows = append(windows, records[start:i+1])
			start, est = i+1, 0
		}
	}
	if start < len(records) {
		windows = append(windows, records[start:])
	}
	return windows
}

// Encode serializes a snapshot into a complete artifact in memory.
// Streaming pipelines use ChunkedWriter instead; this path serves
// batch exports, conversion, and tests.
func Encode(u *model.UnifiedData, cfg config.ExportConfig) ([]byte, error) {
	algo := cfg.Compression
	if algo == compression.AlgorithmAuto {
		// Sample the first window so auto-selection sees real data.
		sampleWindows := Partition(u.Records, cfg.ChunkSize)
		var sample []byte
		if len(sampleWindows) > 0 {
			sample, _, _ = encodeWindow(sampleWindows[0], u.Stacks)
		}
		algo = compression.AutoSelect(sample)
	}
	codec, err := compression.New(algo, cfg.CompressionLevel)
	if err != nil {
		return nil, err
	}
	defer compression.Close(codec)

	switch cfg.Format {
	case config.FormatTagged, config.FormatInterchange:
		body, err := EncodeBody(u, cfg.Format)
		if err != nil {
			return nil, err
		}
		return Seal(cfg.Format, codec, body)
	case config.FormatChunked:
		var buf bytes.Buffer
		cw, err := NewChunkedWriter(&buf, codec, !u.Analysis.IsEmpty(), nil)
		if err != nil {
			return nil, err
		}
		for _, window := range Partition(u.Records, cfg.ChunkSize) {
			if err := cw.WriteWindow(window, u.Stacks); err != nil {
				return nil, err
			}
		}
		if err := cw.Finish(&u.Analysis); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, errors.Config("unknown export format")
	}
}

// EncodeBody serializes the uncompressed body of a single-block
// layout. Callers that need the raw body size pair it with Seal;
// everyone else uses Encode.
func EncodeBody(u *model.UnifiedData, f config.Format) ([]byte, error) {
	switch f {
	case config.FormatTagged:
		return encodeTaggedBody(u)
	case config.FormatInterchange:
		return encodeInterchangeBody(u)
	default:
		return nil, errors.Config("format has no single-block body")
	}
}

// Seal compresses a single-block body and prepends the header.
func Seal(f config.Format, codec compression.Codec, body []byte) ([]byte, error) {
	compressed, err := codec.Compress(body)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIO, "compress artifact body", err)
	}
	h := Header{Version: Version, Format: f, Compression: codec.Algorithm()}
	out := make([]byte, 0, HeaderSize+len(compressed))
	out = append(out, h.Marshal()...)
	out = append(out, compressed...)
	return out, nil
}

// Decode parses a complete artifact of any layout back into a
// snapshot. The returned header tells the caller what it was.
func Decode(data []byte) (*model.UnifiedData, *Header, error) {
	h, err := Detect(data)
	if err != nil {
		return nil, nil, err
	}
	codec, err := compression.New(h.Compression, compression.LevelDefault)
	if err != nil {
		return nil, nil, err
	}
	defer compression.Close(codec)

	switch h.Format {
	case config.FormatChunked:
		u, err := decodeChunked(data[HeaderSize:], h, codec)
		if err != nil {
			return nil, nil, err
		}
		return u, h, nil
	case config.FormatTagged, config.FormatInterchange:
		body, err := codec.Decompress(data[HeaderSize:])
		if err != nil {
			return nil, nil, errors.Wrap(errors.CodeCorruptData, "decompress artifact body", err)
		}
		var u *model.UnifiedData
		if h.Format == config.FormatTagged {
			u, err = decodeTaggedBody(body)
		} else {
			u, err = decodeInterchangeBody(body)
		}
		if err != nil {
			return nil, nil, err
		}
		return u, h, nil
	default:
		return nil, nil, errors.CorruptData("unknown format tag")
	}
}

// Convert re-encodes an artifact into another layout, preserving the
// source's compression algorithm.
func Convert(data []byte, to config.Format) ([]byte, error) {
	u, h, err := Decode(data)
	if err != nil {
		return nil, err
	}
	cfg := config.Balanced()
	cfg.Format = to
	cfg.Compression = h.Compression
	return Encode(u, cfg)
}
