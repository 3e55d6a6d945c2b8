package processor

import (
	"context"

	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
)

// Streaming cuts windows as records arrive and writes each one before
// accepting the next, so memory stays proportional to one window. The
// window boundary rule is the same as format.Partition's; a batch run
// over the same stream produces the same artifact.
type Streaming struct{}

func (s *Streaming) Name() string { return "streaming" }

func (s *Streaming) Process(ctx context.Context, p *Pipeline) (*Stats, error) {
	// The single-block layouts have no incremental wire form; fall
	// back to draining.
	if p.Config.Format != config.FormatChunked {
		return (&Batch{}).Process(ctx, p)
	}

	chunkSize := p.Config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}

	cw, err := format.NewChunkedWriter(p.Sink, p.Codec, !p.analysis().IsEmpty(), p.Memory)
	if err != nil {
		return nil, err
	}

	winBuf := windowPool.Get()
	defer windowPool.Put(winBuf)

	var (
		est     int
		total   int
		windows int
	)
	flush := func() error {
		window := *winBuf
		if len(window) == 0 {
			return nil
		}
		stacks, err := stacksFor(window, p.Resolver)
		if err != nil {
			return err
		}
		if err := cw.WriteWindow(window, stacks); err != nil {
			return err
		}
		total += len(window)
		windows++
		*winBuf = window[:0]
		est = 0
		return nil
	}

	for {
		select {
		case r, ok := <-p.Records:
			if !ok {
				if err := flush(); err != nil {
					return nil, err
				}
				if err := cw.Finish(p.analysis()); err != nil {
					return nil, err
				}
				return &Stats{
					RecordCount:       total,
					WindowCount:       windows,
					UncompressedBytes: cw.UncompressedBytes(),
					CompressedBytes:   cw.CompressedBytes(),
				}, nil
			}
			*winBuf = append(*winBuf, r)
			est += format.RecordEstimate(&r)
			if est >= chunkSize {
				if err := flush(); err != nil {
					return nil, err
				}
			}
		case <-ctx.Done():
			return nil, errors.Wrap(errors.CodeCancelled, "processing cancelled", ctx.Err()).
				WithStage("process")
		}
	}
}
