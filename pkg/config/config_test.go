package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/memtrace/memexport/pkg/compression"
)

func TestPresets(t *testing.T) {
	for name, cfg := range map[string]ExportConfig{
		"balanced":         Balanced(),
		"high_performance": HighPerformance(),
		"memory_efficient": MemoryEfficient(),
	} {
		if err := cfg.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}

	if Balanced().Mode != ModeStreaming {
		t.Error("balanced preset should default to streaming")
	}
	if HighPerformance().Mode != ModeParallel || HighPerformance().Workers <= 0 {
		t.Error("high performance preset should run parallel with workers")
	}
	if MemoryEfficient().MaxMemoryBytes == 0 {
		t.Error("memory efficient preset should set a memory ceiling")
	}
}

func TestValidateRejectsZeroWorkers(t *testing.T) {
	cfg := Balanced()
	cfg.Mode = ModeParallel
	cfg.Workers = 0
	if err := cfg.Validate(); err == nil {
		t.Error("parallel mode with zero workers should be invalid")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Balanced()
	cfg.ChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero chunk size should be invalid")
	}

	cfg = Balanced()
	cfg.Format = Format(99)
	if err := cfg.Validate(); err == nil {
		t.Error("unknown format should be invalid")
	}

	cfg = Balanced()
	cfg.MaxMemoryBytes = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative memory ceiling should be invalid")
	}
}

func TestParseRoundTrips(t *testing.T) {
	for _, f := range []Format{FormatTagged, FormatInterchange, FormatChunked} {
		got, err := ParseFormat(f.String())
		if err != nil || got != f {
			t.Errorf("ParseFormat(%q) = %v, %v", f.String(), got, err)
		}
	}
	for _, m := range []ProcessingMode{ModeBatch, ModeStreaming, ModeParallel} {
		got, err := ParseProcessingMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseProcessingMode(%q) = %v, %v", m.String(), got, err)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load should fall back to defaults: %v", err)
	}

	ec, err := cfg.ExportConfig()
	if err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}
	if ec.Format != FormatChunked || ec.Compression != compression.AlgorithmZstd {
		t.Errorf("unexpected defaults: %+v", ec)
	}
	if ec.ChunkSize != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", ec.ChunkSize, DefaultChunkSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memexport.yaml")
	content := []byte(`
export:
  format: tagged
  compression: lz4
  mode: parallel
  workers: 4
  validate_output: true
log:
  level: debug
`)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ec, err := cfg.ExportConfig()
	if err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	if ec.Format != FormatTagged {
		t.Errorf("Format = %v, want tagged", ec.Format)
	}
	if ec.Compression != compression.AlgorithmLz4 {
		t.Errorf("Compression = %v, want lz4", ec.Compression)
	}
	if ec.Mode != ModeParallel || ec.Workers != 4 {
		t.Errorf("Mode = %v Workers = %d", ec.Mode, ec.Workers)
	}
	if !ec.ValidateOutput {
		t.Error("ValidateOutput should be true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestWithHelpersCopy(t *testing.T) {
	base := Balanced()
	mod := base.WithMode(ModeBatch).WithCompression(compression.AlgorithmNone)
	if base.Mode != ModeStreaming {
		t.Error("WithMode must not mutate the receiver")
	}
	if mod.Mode != ModeBatch || mod.Compression != compression.AlgorithmNone {
		t.Errorf("unexpected copy: %+v", mod)
	}
}
