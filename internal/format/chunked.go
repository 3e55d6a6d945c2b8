package format

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/memtrace/memexport/internal/memory"
	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

// Chunked layout:
//
//	header (16 bytes)
//	([chunk_len:u32][compressed window])*
//	[0:u32]                               end-of-chunks marker
//	[analysis_len:u32][compressed msgpack]   only with FlagHasAnalysis
//	[record_count:u64][checksum:u64]
//
// The checksum is a running xxhash64 over every compressed payload in
// write order, the analysis payload included. Readers can skip chunks
// by length without decompressing.

// ChunkedWriter emits the chunked layout incrementally. Windows arrive
// already partitioned; the writer never buffers more than one chunk.
type ChunkedWriter struct {
	w            io.Writer
	codec        compression.Codec
	mem          *memory.Manager
	hash         *xxhash.Digest
	recordCount  uint64
	uncompressed int64
	compressed   int64
	hasAnalysis  bool
	finished     bool
}

// NewChunkedWriter writes the artifact header and returns a writer for
// the chunk stream. hasAnalysis must be declared up front because it is
// recorded in the header flags. When mem is non-nil, window encode
// buffers are checked out of its pool and accounted against its
// ceiling, one window at a time.
func NewChunkedWriter(w io.Writer, codec compression.Codec, hasAnalysis bool, mem *memory.Manager) (*ChunkedWriter, error) {
	var flags uint8
	if hasAnalysis {
		flags |= FlagHasAnalysis
	}
	h := Header{
		Version:     Version,
		Format:      config.FormatChunked,
		Compression: codec.Algorithm(),
		Flags:       flags,
	}
	if _, err := w.Write(h.Marshal()); err != nil {
		return nil, errors.Wrap(errors.CodeIO, "write artifact header", err)
	}
	return &ChunkedWriter{
		w:           w,
		codec:       codec,
		mem:         mem,
		hash:        xxhash.New(),
		hasAnalysis: hasAnalysis,
	}, nil
}

// WriteWindow encodes, compresses, and frames one record window.
func (cw *ChunkedWriter) WriteWindow(records []model.AllocationRecord, stacks map[uint64]model.CallStack) error {
	payload, rawLen, err := EncodeChunk(records, stacks, cw.codec, cw.mem)
	if err != nil {
		return err
	}
	return cw.WriteCompressedChunk(payload, len(records), rawLen)
}

// WriteCompressedChunk frames an already-compressed window payload.
// Parallel pipelines compress off the writer goroutine and hand the
// result here in window order. rawLen is the payload's size before
// compression, kept for the export statistics.
func (cw *ChunkedWriter) WriteCompressedChunk(payload []byte, recordCount, rawLen int) error {
	if cw.finished {
		return errors.New(errors.CodeIO, "write after finish")
	}
	if len(payload) == 0 {
		return errors.New(errors.CodeIO, "empty chunk payload")
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := cw.w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(errors.CodeIO, "write chunk length", err)
	}
	if _, err := cw.w.Write(payload); err != nil {
		return errors.Wrap(errors.CodeIO, "write chunk payload", err)
	}
	_, _ = cw.hash.Write(payload)
	cw.recordCount += uint64(recordCount)
	cw.uncompressed += int64(rawLen)
	cw.compressed += int64(len(payload))
	return nil
}

// Finish writes the end marker, the optional analysis section, and the
// trailer. The writer is unusable afterwards.
func (cw *ChunkedWriter) Finish(analysis *model.AnalysisResults) error {
	if cw.finished {
		return errors.New(errors.CodeIO, "finish called twice")
	}
	cw.finished = true

	var marker [4]byte
	if _, err := cw.w.Write(marker[:]); err != nil {
		return errors.Wrap(errors.CodeIO, "write end marker", err)
	}

	if cw.hasAnalysis {
		raw, err := marshalAnalysis(analysis)
		if err != nil {
			return err
		}
		payload, err := cw.codec.Compress(raw)
		if err != nil {
			return errors.Wrap(errors.CodeIO, "compress analysis section", err)
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		if _, err := cw.w.Write(lenBuf[:]); err != nil {
			return errors.Wrap(errors.CodeIO, "write analysis length", err)
		}
		if _, err := cw.w.Write(payload); err != nil {
			return errors.Wrap(errors.CodeIO, "write analysis section", err)
		}
		_, _ = cw.hash.Write(payload)
	}

	var trailer [16]byte
	binary.LittleEndian.PutUint64(trailer[:8], cw.recordCount)
	binary.LittleEndian.PutUint64(trailer[8:], cw.hash.Sum64())
	if _, err := cw.w.Write(trailer[:]); err != nil {
		return errors.Wrap(errors.CodeIO, "write trailer", err)
	}
	return nil
}

// RecordCount returns the records framed so far.
func (cw *ChunkedWriter) RecordCount() uint64 { return cw.recordCount }

// UncompressedBytes returns the total window bytes before compression.
func (cw *ChunkedWriter) UncompressedBytes() int64 { return cw.uncompressed }

// CompressedBytes returns the total chunk payload bytes written.
func (cw *ChunkedWriter) CompressedBytes() int64 { return cw.compressed }

// EncodeChunk encodes and compresses one window without touching a
// writer. Used by parallel workers; the result goes through
// WriteCompressedChunk after reordering. The int result is the window
// size before compression. A non-nil mem supplies the encode scratch
// from its pool; the buffer is released before returning, so only
// in-flight windows count against the ceiling.
func EncodeChunk(records []model.AllocationRecord, stacks map[uint64]model.CallStack, codec compression.Codec, mem *memory.Manager) ([]byte, int, error) {
	var window []byte
	if mem != nil {
		buf, err := mem.Acquire(windowSizeHint(records))
		if err != nil {
			return nil, 0, err
		}
		defer mem.Release(buf)
		window, _, err = appendWindow(buf.Bytes(), records, stacks)
		if err != nil {
			return nil, 0, err
		}
	} else {
		var err error
		window, _, err = encodeWindow(records, stacks)
		if err != nil {
			return nil, 0, err
		}
	}
	payload, err := codec.Compress(window)
	if err != nil {
		return nil, 0, errors.Wrap(errors.CodeIO, "compress chunk", err)
	}
	// Pass-through codecs return their input. The pooled buffer is
	// reused after release, so an aliasing payload must be copied out.
	if mem != nil && len(payload) > 0 && len(window) > 0 && &payload[0] == &window[0] {
		payload = append([]byte(nil), payload...)
	}
	return payload, len(window), nil
}

// DecodeWindow parses an uncompressed window payload. Exposed for
// validators that walk the chunk framing themselves.
func DecodeWindow(data []byte) ([]model.AllocationRecord, map[uint64]model.CallStack, error) {
	return decodeWindow(data)
}

func decodeChunked(data []byte, h *Header, codec compression.Codec) (*model.UnifiedData, error) {
	u := model.NewUnifiedData()
	hash := xxhash.New()
	var total uint64
	off := 0

	for {
		if off+4 > len(data) {
			return nil, errors.CorruptData("truncated chunk length")
		}
		n := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		if n == 0 {
			break
		}
		payload, err := memory.View(data, off, int(n))
		if err != nil {
			return nil, errors.CorruptData("truncated chunk payload")
		}
		off += int(n)
		_, _ = hash.Write(payload)

		window, err := codec.Decompress(payload)
		if err != nil {
			return nil, errors.Wrap(errors.CodeCorruptData, "decompress chunk", err)
		}
		records, stacks, err := decodeWindow(window)
		if err != nil {
			return nil, err
		}
		u.Records = append(u.Records, records...)
		for hsh, cs := range stacks {
			u.Stacks[hsh] = cs
		}
		total += uint64(len(records))
	}

	if h.Flags&FlagHasAnalysis != 0 {
		if off+4 > len(data) {
			return nil, errors.CorruptData("truncated analysis length")
		}
		n := binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
		payload, err := memory.View(data, off, int(n))
		if err != nil {
			return nil, errors.CorruptData("truncated analysis section")
		}
		off += int(n)
		_, _ = hash.Write(payload)

		raw, err := codec.Decompress(payload)
		if err != nil {
			return nil, errors.Wrap(errors.CodeCorruptData, "decompress analysis section", err)
		}
		analysis, err := unmarshalAnalysis(raw)
		if err != nil {
			return nil, err
		}
		u.Analysis = analysis
	}

	if off+16 != len(data) {
		return nil, errors.CorruptData("malformed chunked trailer")
	}
	recordCount := binary.LittleEndian.Uint64(data[off : off+8])
	sum := binary.LittleEndian.Uint64(data[off+8 : off+16])
	if recordCount != total {
		return nil, errors.CorruptData("record count does not match trailer")
	}
	if hash.Sum64() != sum {
		return nil, errors.CorruptData("chunk stream checksum mismatch")
	}
	return u, nil
}
