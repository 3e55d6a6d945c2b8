package integrity

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

func encodeSample(t *testing.T, f config.Format, records int) ([]byte, *model.UnifiedData) {
	t.Helper()
	u := model.NewUnifiedData()
	cs := model.CallStack{Frames: []model.StackFrame{{Function: "site", File: "a.c", Line: 7}}}
	cs.ComputeHash()
	u.Stacks[cs.Hash] = cs
	for i := 0; i < records; i++ {
		u.Records = append(u.Records, model.AllocationRecord{
			ID: uint64(i + 1), Size: 64, TypeName: fmt.Sprintf("T%d", i%3),
			Timestamp: int64(i), StackHash: cs.Hash,
		})
	}
	cfg := config.Balanced()
	cfg.Format = f
	cfg.ChunkSize = 1024
	cfg.Compression = compression.AlgorithmLz4
	data, err := format.Encode(u, cfg)
	require.NoError(t, err)
	return data, u
}

func TestValidateGoodArtifacts(t *testing.T) {
	for _, f := range []config.Format{config.FormatTagged, config.FormatInterchange, config.FormatChunked} {
		data, u := encodeSample(t, f, 200)
		report := Validate(data)
		assert.True(t, report.Valid, "format %s: %v", f, report.Errors)
		assert.True(t, report.ChecksumOK)
		assert.Equal(t, len(u.Records), report.RecordCount)
		assert.Equal(t, 1, report.StackCount)
	}
}

func TestValidateDetectsFlippedByte(t *testing.T) {
	for _, f := range []config.Format{config.FormatTagged, config.FormatChunked} {
		data, _ := encodeSample(t, f, 200)
		data[len(data)-20] ^= 0x01
		report := Validate(data)
		assert.False(t, report.Valid, "format %s must fail", f)
		assert.NotEmpty(t, report.Errors)
	}
}

func TestValidateDetectsTruncation(t *testing.T) {
	data, _ := encodeSample(t, config.FormatChunked, 500)
	report := Validate(data[:len(data)/2])
	assert.False(t, report.Valid)
}

func TestValidateRejectsGarbage(t *testing.T) {
	report := Validate([]byte("not an artifact at all"))
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
}

func TestValidateFile(t *testing.T) {
	data, _ := encodeSample(t, config.FormatChunked, 100)
	path := filepath.Join(t.TempDir(), "snap.mexp")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	report, err := ValidateFile(path)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, path, report.Path)
}

func TestValidateFileMissingIsIOError(t *testing.T) {
	_, err := ValidateFile(filepath.Join(t.TempDir(), "absent.mexp"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeIO, errors.Code(err))
	assert.False(t, errors.IsCorrupt(err), "a missing file is not corruption")
}
