package processor

import (
	"context"
	"sort"

	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
)

// Batch drains the whole record stream before encoding. Simplest mode,
// highest memory footprint. For the chunked layout it partitions into
// the same windows the streaming mode cuts, so the output bytes match.
type Batch struct{}

func (b *Batch) Name() string { return "batch" }

func (b *Batch) Process(ctx context.Context, p *Pipeline) (*Stats, error) {
	records, err := drain(ctx, p.Records)
	if err != nil {
		return nil, err
	}
	if p.Config.SortByType {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].TypeName < records[j].TypeName
		})
	}

	estimate := 0
	for i := range records {
		estimate += format.RecordEstimate(&records[i])
	}
	release, err := p.Memory.Reserve(estimate)
	if err != nil {
		return nil, err
	}
	defer release()

	if p.Config.Format == config.FormatChunked {
		return writeChunkedWindows(ctx, p, format.Partition(records, p.Config.ChunkSize))
	}

	u, err := snapshotFrom(records, p)
	if err != nil {
		return nil, err
	}
	body, err := format.EncodeBody(u, p.Config.Format)
	if err != nil {
		return nil, err
	}
	artifact, err := format.Seal(p.Config.Format, p.Codec, body)
	if err != nil {
		return nil, err
	}
	if _, err := p.Sink.Write(artifact); err != nil {
		return nil, errors.Wrap(errors.CodeIO, "write artifact", err).WithStage("write")
	}
	return &Stats{
		RecordCount:       len(records),
		WindowCount:       1,
		UncompressedBytes: int64(len(body)),
		CompressedBytes:   int64(len(artifact) - format.HeaderSize),
	}, nil
}

// writeChunkedWindows emits pre-partitioned windows through a
// ChunkedWriter. Shared by the batch and streaming strategies.
func writeChunkedWindows(ctx context.Context, p *Pipeline, windows [][]record) (*Stats, error) {
	cw, err := format.NewChunkedWriter(p.Sink, p.Codec, !p.analysis().IsEmpty(), p.Memory)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, window := range windows {
		if ctx.Err() != nil {
			return nil, errors.Wrap(errors.CodeCancelled, "processing cancelled", ctx.Err()).
				WithStage("process")
		}
		stacks, err := stacksFor(window, p.Resolver)
		if err != nil {
			return nil, err
		}
		if err := cw.WriteWindow(window, stacks); err != nil {
			return nil, err
		}
		total += len(window)
	}
	if err := cw.Finish(p.analysis()); err != nil {
		return nil, err
	}
	return &Stats{
		RecordCount:       total,
		WindowCount:       len(windows),
		UncompressedBytes: cw.UncompressedBytes(),
		CompressedBytes:   cw.CompressedBytes(),
	}, nil
}
