package model

import "time"

// ExportStats breaks down where an export spent its time and memory.
type ExportStats struct {
	CollectionTime  time.Duration `json:"collection_time"`
	ProcessingTime  time.Duration `json:"processing_time"`
	CompressionTime time.Duration `json:"compression_time"`
	WriteTime       time.Duration `json:"write_time"`
	ValidationTime  time.Duration `json:"validation_time,omitempty"`

	// UncompressedSize is the encoded payload size before compression.
	UncompressedSize int64 `json:"uncompressed_size"`
	// CompressedSize is the payload size as written, excluding framing.
	CompressedSize int64 `json:"compressed_size"`
	// PeakMemory is the peak number of bytes checked out of the buffer
	// pool at any point during the export.
	PeakMemory int64 `json:"peak_memory"`
}

// CompressionRatio returns uncompressed/compressed, or 0 when unknown.
func (s *ExportStats) CompressionRatio() float64 {
	if s.CompressedSize <= 0 {
		return 0
	}
	return float64(s.UncompressedSize) / float64(s.CompressedSize)
}

// ExportResult is the outcome of a successful export call.
type ExportResult struct {
	Path         string        `json:"path"`
	BytesWritten int64         `json:"bytes_written"`
	Duration     time.Duration `json:"duration"`
	RecordCount  int           `json:"record_count"`
	StackCount   int           `json:"stack_count"`
	Stats        ExportStats   `json:"stats"`
	// Warnings collects non-fatal conditions encountered along the way,
	// such as repaired call-stack references.
	Warnings []string `json:"warnings,omitempty"`
}

// ValidationReport is produced by the integrity checker's independent
// re-read of an artifact.
type ValidationReport struct {
	Path        string   `json:"path"`
	Valid       bool     `json:"valid"`
	RecordCount int      `json:"record_count"`
	StackCount  int      `json:"stack_count"`
	ChecksumOK  bool     `json:"checksum_ok"`
	Errors      []string `json:"errors,omitempty"`
}

// AddError records a validation failure and marks the report invalid.
func (r *ValidationReport) AddError(msg string) {
	r.Valid = false
	r.Errors = append(r.Errors, msg)
}
