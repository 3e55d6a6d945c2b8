package format

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtrace/memexport/internal/memory"
	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
)

func sampleData(t *testing.T, records, stacks int) *model.UnifiedData {
	t.Helper()
	u := model.NewUnifiedData()
	hashes := make([]uint64, stacks)
	for i := 0; i < stacks; i++ {
		cs := model.CallStack{Frames: []model.StackFrame{
			{Function: fmt.Sprintf("alloc_site_%d", i), File: "alloc.c", Line: uint32(100 + i)},
			{Function: "main", File: "main.c", Line: 10},
		}}
		cs.ComputeHash()
		hashes[i] = cs.Hash
		u.Stacks[cs.Hash] = cs
	}
	for i := 0; i < records; i++ {
		r := model.AllocationRecord{
			ID:        uint64(i + 1),
			Size:      uint64(16 << (i % 8)),
			TypeName:  fmt.Sprintf("Type%d", i%7),
			Timestamp: int64(1700000000_000000000 + i),
			ThreadID:  uint32(i % 4),
		}
		if stacks > 0 {
			r.StackHash = hashes[i%stacks]
		}
		u.Records = append(u.Records, r)
	}
	u.Analysis = model.AnalysisResults{
		FragmentationScore: 0.42,
		LeakCandidates:     []uint64{3, 9},
		TypeAggregates: map[string]model.TypeAggregate{
			"Type0": {Count: 12, TotalBytes: 4096},
			"Type1": {Count: 3, TotalBytes: 768, PeakBytes: 512},
		},
	}
	require.NoError(t, u.Validate())
	return u
}

func assertEqualData(t *testing.T, want, got *model.UnifiedData) {
	t.Helper()
	require.Equal(t, len(want.Records), len(got.Records))
	assert.Equal(t, want.Records, got.Records)
	assert.Equal(t, want.Stacks, got.Stacks)
	assert.Equal(t, want.Analysis.FragmentationScore, got.Analysis.FragmentationScore)
	assert.Equal(t, want.Analysis.LeakCandidates, got.Analysis.LeakCandidates)
	assert.Equal(t, want.Analysis.TypeAggregates, got.Analysis.TypeAggregates)
}

func TestRoundTripAllFormats(t *testing.T) {
	u := sampleData(t, 500, 5)
	formats := []config.Format{config.FormatTagged, config.FormatInterchange, config.FormatChunked}
	algos := []compression.Algorithm{
		compression.AlgorithmNone, compression.AlgorithmLz4,
		compression.AlgorithmZstd, compression.AlgorithmGzip,
	}
	for _, f := range formats {
		for _, a := range algos {
			t.Run(fmt.Sprintf("%s_%s", f, a), func(t *testing.T) {
				cfg := config.Balanced()
				cfg.Format = f
				cfg.Compression = a
				data, err := Encode(u, cfg)
				require.NoError(t, err)

				h, err := Detect(data)
				require.NoError(t, err)
				assert.Equal(t, f, h.Format)
				assert.Equal(t, a, h.Compression)

				got, _, err := Decode(data)
				require.NoError(t, err)
				assertEqualData(t, u, got)
			})
		}
	}
}

func TestStackTableDeduplicates(t *testing.T) {
	u := sampleData(t, 10000, 5)

	window, _, err := encodeWindow(u.Records, u.Stacks)
	require.NoError(t, err)
	_, stacks, err := decodeWindow(window)
	require.NoError(t, err)
	assert.Len(t, stacks, 5, "table must hold one entry per distinct stack")

	// With five shared stacks the artifact must stay near the fixed
	// record size, nowhere near records x full stack encodings.
	assert.Less(t, len(window), 10000*(recordSize+16))
}

func TestDetectRejectsBadInput(t *testing.T) {
	_, err := Detect([]byte("MEX"))
	assert.True(t, errors.IsCorrupt(err))

	_, err = Detect([]byte("NOPE0000000000000000"))
	assert.True(t, errors.IsCorrupt(err))

	future := Header{Version: Version + 1, Format: config.FormatTagged, Compression: compression.AlgorithmNone}.Marshal()
	_, err = Detect(future)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnsupportedVersion))
	assert.False(t, errors.IsCorrupt(err), "future version is not corruption")

	badFormat := Header{Version: Version, Format: 9, Compression: compression.AlgorithmNone}.Marshal()
	_, err = Detect(badFormat)
	assert.True(t, errors.IsCorrupt(err))
}

func TestCorruptPayloadDetected(t *testing.T) {
	u := sampleData(t, 100, 3)
	for _, f := range []config.Format{config.FormatTagged, config.FormatInterchange, config.FormatChunked} {
		cfg := config.Balanced()
		cfg.Format = f
		cfg.Compression = compression.AlgorithmNone
		data, err := Encode(u, cfg)
		require.NoError(t, err)

		data[len(data)/2] ^= 0xFF
		_, _, err = Decode(data)
		require.Error(t, err, "format %s must detect a flipped byte", f)
		assert.True(t, errors.IsCorrupt(err))
	}
}

func TestEncodeEmptySnapshot(t *testing.T) {
	u := model.NewUnifiedData()
	for _, f := range []config.Format{config.FormatTagged, config.FormatInterchange, config.FormatChunked} {
		cfg := config.Balanced()
		cfg.Format = f
		data, err := Encode(u, cfg)
		require.NoError(t, err)

		got, _, err := Decode(data)
		require.NoError(t, err)
		assert.Empty(t, got.Records)
	}
}

func TestConvertRoundTrip(t *testing.T) {
	u := sampleData(t, 300, 4)
	cfg := config.Balanced()
	cfg.Format = config.FormatTagged
	cfg.Compression = compression.AlgorithmZstd
	tagged, err := Encode(u, cfg)
	require.NoError(t, err)

	inter, err := Convert(tagged, config.FormatInterchange)
	require.NoError(t, err)
	chunked, err := Convert(inter, config.FormatChunked)
	require.NoError(t, err)
	back, err := Convert(chunked, config.FormatTagged)
	require.NoError(t, err)

	got, h, err := Decode(back)
	require.NoError(t, err)
	assert.Equal(t, config.FormatTagged, h.Format)
	assert.Equal(t, compression.AlgorithmZstd, h.Compression, "compression survives conversion")
	assertEqualData(t, u, got)
}

func TestEncodeDeterministic(t *testing.T) {
	u := sampleData(t, 400, 5)
	cfg := config.Balanced()
	cfg.Format = config.FormatChunked
	cfg.Compression = compression.AlgorithmZstd

	a, err := Encode(u, cfg)
	require.NoError(t, err)
	b, err := Encode(u, cfg)
	require.NoError(t, err)
	assert.Equal(t, a, b, "same input and config must produce identical bytes")
}

func TestPartition(t *testing.T) {
	u := sampleData(t, 100, 2)

	one := Partition(u.Records, 1<<30)
	require.Len(t, one, 1)
	assert.Len(t, one[0], 100)

	small := Partition(u.Records, 1)
	assert.Len(t, small, 100, "tiny chunk size puts every record in its own window")

	total := 0
	for _, w := range Partition(u.Records, 1024) {
		require.NotEmpty(t, w)
		total += len(w)
	}
	assert.Equal(t, 100, total, "windows cover every record exactly once")

	assert.Nil(t, Partition(nil, 1024))
}

func TestEncodeWindowRejectsDanglingStack(t *testing.T) {
	records := []model.AllocationRecord{{ID: 1, Size: 8, StackHash: 0xdead}}
	_, _, err := encodeWindow(records, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCorrupt(err))
}

func TestChunkedWriterPoolsWindowBuffers(t *testing.T) {
	u := sampleData(t, 300, 4)
	mem := memory.NewManager(0)
	var sink bytes.Buffer

	cw, err := NewChunkedWriter(&sink, compression.NewNoOpCodec(), false, mem)
	require.NoError(t, err)
	require.NoError(t, cw.WriteWindow(u.Records[:150], u.Stacks))
	require.NoError(t, cw.WriteWindow(u.Records[150:], u.Stacks))
	require.NoError(t, cw.Finish(nil))

	assert.Greater(t, mem.Peak(), int64(0), "window encode must go through the pool")
	assert.Zero(t, mem.Outstanding(), "window buffers must be released after write")

	got, h, err := Decode(sink.Bytes())
	require.NoError(t, err)
	assert.Equal(t, config.FormatChunked, h.Format)
	assert.Equal(t, u.Records, got.Records)
	assert.Equal(t, u.Stacks, got.Stacks)
}

func TestChunkedWriterCeilingEnforced(t *testing.T) {
	u := sampleData(t, 200, 2)
	mem := memory.NewManager(1024)
	var sink bytes.Buffer

	cw, err := NewChunkedWriter(&sink, compression.NewNoOpCodec(), false, mem)
	require.NoError(t, err)
	err = cw.WriteWindow(u.Records, u.Stacks)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrOutOfMemory))
	assert.Zero(t, mem.Outstanding())
}

func TestEncodeChunkPooledDoesNotAliasScratch(t *testing.T) {
	u := sampleData(t, 50, 2)
	mem := memory.NewManager(0)
	codec := compression.NewNoOpCodec()

	first, _, err := EncodeChunk(u.Records[:25], u.Stacks, codec, mem)
	require.NoError(t, err)
	want := append([]byte(nil), first...)

	_, _, err = EncodeChunk(u.Records[25:], u.Stacks, codec, mem)
	require.NoError(t, err)

	assert.Equal(t, want, first, "earlier chunk must survive later encodes")
	assert.Zero(t, mem.Outstanding())
}
