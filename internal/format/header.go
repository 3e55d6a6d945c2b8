// Package format implements the binary artifact layouts: the tagged
// single-block layout, the msgpack interchange layout, and the chunked
// streaming layout. All three share a fixed 16-byte prefix so readers
// can identify any artifact from its first bytes.
package format

import (
	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
)

const (
	// Magic identifies an artifact written by this package.
	Magic = "MEXP"

	// Version is the current wire version. Readers accept artifacts up
	// to and including this version.
	Version = 1

	// HeaderSize is the fixed prefix length shared by every layout.
	HeaderSize = 16
)

// Header flags.
const (
	// FlagHasAnalysis marks a chunked artifact that carries an analysis
	// section after the chunk stream.
	FlagHasAnalysis = 0x01
)

// Header is the decoded artifact prefix.
//
// Layout: [magic:4][version:1][format:1][compression:1][flags:1][reserved:8].
type Header struct {
	Version     uint8
	Format      config.Format
	Compression compression.Algorithm
	Flags       uint8
}

// Marshal encodes the header into its 16-byte wire form.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, Magic)
	buf[4] = h.Version
	buf[5] = byte(h.Format)
	buf[6] = byte(h.Compression)
	buf[7] = h.Flags
	return buf
}

// Detect parses an artifact prefix. It needs at least HeaderSize bytes.
// A newer version is rejected as unsupported, not corrupt, so callers
// can distinguish "upgrade the reader" from "the file is damaged".
func Detect(prefix []byte) (*Header, error) {
	if len(prefix) < HeaderSize {
		return nil, errors.CorruptData("artifact shorter than header")
	}
	if string(prefix[:4]) != Magic {
		return nil, errors.CorruptData("bad magic, not a memexport artifact")
	}
	h := &Header{
		Version:     prefix[4],
		Format:      config.Format(prefix[5]),
		Compression: compression.Algorithm(prefix[6]),
		Flags:       prefix[7],
	}
	if h.Version > Version {
		return nil, errors.UnsupportedVersion(h.Version, Version)
	}
	switch h.Format {
	case config.FormatTagged, config.FormatInterchange, config.FormatChunked:
	default:
		return nil, errors.CorruptData("unknown format tag")
	}
	switch h.Compression {
	case compression.AlgorithmNone, compression.AlgorithmLz4,
		compression.AlgorithmZstd, compression.AlgorithmGzip:
	default:
		return nil, errors.CorruptData("unknown compression tag")
	}
	return h, nil
}
