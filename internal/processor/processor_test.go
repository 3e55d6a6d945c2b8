package processor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/internal/memory"
	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
	"github.com/memtrace/memexport/pkg/utils"
)

func testSnapshot(t *testing.T, n int) *model.UnifiedData {
	t.Helper()
	u := model.NewUnifiedData()
	var hashes []uint64
	for i := 0; i < 3; i++ {
		cs := model.CallStack{Frames: []model.StackFrame{
			{Function: fmt.Sprintf("site_%d", i), File: "alloc.c", Line: uint32(i + 1)},
		}}
		cs.ComputeHash()
		hashes = append(hashes, cs.Hash)
		u.Stacks[cs.Hash] = cs
	}
	for i := 0; i < n; i++ {
		u.Records = append(u.Records, model.AllocationRecord{
			ID:        uint64(i + 1),
			Size:      uint64(32 + i%128),
			TypeName:  fmt.Sprintf("Type%d", i%5),
			Timestamp: int64(i),
			ThreadID:  uint32(i % 2),
			StackHash: hashes[i%len(hashes)],
		})
	}
	u.Analysis.FragmentationScore = 0.5
	require.NoError(t, u.Validate())
	return u
}

func feed(records []model.AllocationRecord) <-chan model.AllocationRecord {
	ch := make(chan model.AllocationRecord, len(records)+1)
	for _, r := range records {
		ch <- r
	}
	close(ch)
	return ch
}

func runPipeline(t *testing.T, u *model.UnifiedData, cfg config.ExportConfig, ceiling int64) ([]byte, *Stats, error) {
	t.Helper()
	codec, err := compression.New(cfg.Compression, cfg.CompressionLevel)
	require.NoError(t, err)
	defer compression.Close(codec)

	var sink bytes.Buffer
	p := &Pipeline{
		Records:  feed(u.Records),
		Resolver: MapResolver(u.Stacks),
		Analysis: &u.Analysis,
		Sink:     &sink,
		Codec:    codec,
		Config:   cfg,
		Memory:   memory.NewManager(ceiling),
		Logger:   &utils.NullLogger{},
	}
	stats, err := ForMode(cfg.Mode).Process(context.Background(), p)
	return sink.Bytes(), stats, err
}

func chunkedConfig(mode config.ProcessingMode) config.ExportConfig {
	cfg := config.Balanced()
	cfg.Format = config.FormatChunked
	cfg.ChunkSize = 2048
	cfg.Compression = compression.AlgorithmZstd
	cfg.Mode = mode
	cfg.Workers = 4
	return cfg
}

func TestModesProduceIdenticalChunkedArtifacts(t *testing.T) {
	u := testSnapshot(t, 2000)

	batch, batchStats, err := runPipeline(t, u, chunkedConfig(config.ModeBatch), 0)
	require.NoError(t, err)
	streaming, _, err := runPipeline(t, u, chunkedConfig(config.ModeStreaming), 0)
	require.NoError(t, err)
	par, _, err := runPipeline(t, u, chunkedConfig(config.ModeParallel), 0)
	require.NoError(t, err)

	assert.Equal(t, batch, streaming, "streaming must match batch byte for byte")
	assert.Equal(t, batch, par, "parallel must match batch byte for byte")
	assert.Equal(t, 2000, batchStats.RecordCount)
	assert.Greater(t, batchStats.WindowCount, 1)
}

func TestProcessedArtifactDecodes(t *testing.T) {
	u := testSnapshot(t, 500)
	for _, mode := range []config.ProcessingMode{config.ModeBatch, config.ModeStreaming, config.ModeParallel} {
		data, stats, err := runPipeline(t, u, chunkedConfig(mode), 0)
		require.NoError(t, err, "mode %s", mode)
		require.Equal(t, 500, stats.RecordCount)

		got, _, err := format.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, u.Records, got.Records)
		assert.Equal(t, u.Stacks, got.Stacks)
		assert.Equal(t, u.Analysis.FragmentationScore, got.Analysis.FragmentationScore)
	}
}

func TestSingleBlockFormatsViaAnyMode(t *testing.T) {
	u := testSnapshot(t, 200)
	for _, f := range []config.Format{config.FormatTagged, config.FormatInterchange} {
		for _, mode := range []config.ProcessingMode{config.ModeBatch, config.ModeStreaming, config.ModeParallel} {
			cfg := chunkedConfig(mode)
			cfg.Format = f
			data, _, err := runPipeline(t, u, cfg, 0)
			require.NoError(t, err)

			got, h, err := format.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, h.Format)
			assert.Equal(t, u.Records, got.Records)
		}
	}
}

func TestEmptyInputYieldsHeaderOnlyArtifact(t *testing.T) {
	u := model.NewUnifiedData()
	data, stats, err := runPipeline(t, u, chunkedConfig(config.ModeStreaming), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.RecordCount)
	assert.Equal(t, 0, stats.WindowCount)

	got, _, err := format.Decode(data)
	require.NoError(t, err)
	assert.Empty(t, got.Records)
}

func TestSortByTypeGroupsRecords(t *testing.T) {
	u := testSnapshot(t, 100)
	cfg := chunkedConfig(config.ModeBatch)
	cfg.SortByType = true

	data, _, err := runPipeline(t, u, cfg, 0)
	require.NoError(t, err)

	got, _, err := format.Decode(data)
	require.NoError(t, err)
	require.Len(t, got.Records, 100)
	for i := 1; i < len(got.Records); i++ {
		assert.LessOrEqual(t, got.Records[i-1].TypeName, got.Records[i].TypeName)
	}
}

func TestMemoryCeilingSurfacesAsOutOfMemory(t *testing.T) {
	u := testSnapshot(t, 5000)
	cfg := chunkedConfig(config.ModeBatch)

	_, _, err := runPipeline(t, u, cfg, 1024)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrOutOfMemory))
	assert.True(t, errors.IsRetryable(err))
}

func TestCancellationStopsProcessing(t *testing.T) {
	u := testSnapshot(t, 100)
	cfg := chunkedConfig(config.ModeStreaming)

	codec, err := compression.New(cfg.Compression, cfg.CompressionLevel)
	require.NoError(t, err)
	defer compression.Close(codec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := make(chan model.AllocationRecord) // never closed, never read
	var sink bytes.Buffer
	p := &Pipeline{
		Records:  in,
		Resolver: MapResolver(u.Stacks),
		Sink:     &sink,
		Codec:    codec,
		Config:   cfg,
		Memory:   memory.NewManager(0),
		Logger:   &utils.NullLogger{},
	}
	_, err = (&Streaming{}).Process(ctx, p)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrCancelled))
}

func TestResolverMismatchIsCorrupt(t *testing.T) {
	u := testSnapshot(t, 10)
	cfg := chunkedConfig(config.ModeBatch)

	codec, err := compression.New(cfg.Compression, cfg.CompressionLevel)
	require.NoError(t, err)
	defer compression.Close(codec)

	var sink bytes.Buffer
	p := &Pipeline{
		Records:  feed(u.Records),
		Resolver: MapResolver{}, // empty on purpose
		Sink:     &sink,
		Codec:    codec,
		Config:   cfg,
		Memory:   memory.NewManager(0),
		Logger:   &utils.NullLogger{},
	}
	_, err = (&Batch{}).Process(context.Background(), p)
	require.Error(t, err)
	assert.True(t, errors.IsCorrupt(err))
}
