// Package snapshot reads and writes memory snapshots in their JSON
// interchange form. A snapshot is the uncompressed source a binary
// export starts from, and what an artifact decodes back into.
package snapshot

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/memtrace/memexport/pkg/model"
)

// Writer writes snapshots as JSON.
type Writer struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
}

// NewWriter creates a snapshot writer with compact output.
func NewWriter() *Writer {
	return &Writer{Indent: ""}
}

// NewPrettyWriter creates a snapshot writer with pretty printing.
func NewPrettyWriter() *Writer {
	return &Writer{Indent: "  "}
}

// Write writes the snapshot as JSON to the writer.
func (w *Writer) Write(u *model.UnifiedData, out io.Writer) error {
	encoder := json.NewEncoder(out)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	return encoder.Encode(u)
}

// WriteFile writes the snapshot to a file. Paths ending in ".gz" are
// gzip compressed.
func (w *Writer) WriteFile(u *model.UnifiedData, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if !strings.HasSuffix(path, ".gz") {
		return w.Write(u, file)
	}

	gz := gzip.NewWriter(file)
	if err := w.Write(u, gz); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return file.Close()
}

// ReadFile reads a snapshot from a JSON file, transparently handling
// gzip compression by extension. Stack table entries whose Hash field
// is zero inherit the table key, so hand-written fixtures do not need
// to repeat it.
func ReadFile(path string) (*model.UnifiedData, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return Read(r)
}

// Read decodes a snapshot from JSON.
func Read(r io.Reader) (*model.UnifiedData, error) {
	var u model.UnifiedData
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if u.Stacks == nil {
		u.Stacks = make(map[uint64]model.CallStack)
	}
	for key, cs := range u.Stacks {
		if cs.Hash == 0 {
			cs.Hash = key
			u.Stacks[key] = cs
		}
	}
	return &u, nil
}
