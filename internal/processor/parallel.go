package processor

import (
	"context"

	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/parallel"
)

// Parallel encodes and compresses windows on a worker pool while a
// single goroutine cuts windows and another writes chunks in order.
// The window rule and the chunk layout match the other modes, so the
// artifact bytes do too.
type Parallel struct{}

func (par *Parallel) Name() string { return "parallel" }

type encodedChunk struct {
	payload []byte
	records int
	rawLen  int
}

func (par *Parallel) Process(ctx context.Context, p *Pipeline) (*Stats, error) {
	if p.Config.Format != config.FormatChunked {
		return (&Batch{}).Process(ctx, p)
	}
	// A failure on the writer side must unwind the cutter and the
	// workers, not strand them on full channels.
	parentCtx := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunkSize := p.Config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = config.DefaultChunkSize
	}
	poolCfg := parallel.DefaultPoolConfig()
	if p.Config.Workers > 0 {
		poolCfg = poolCfg.WithWorkers(p.Config.Workers)
	}

	winCh := make(chan *[]record, poolCfg.MaxWorkers)
	cutErr := make(chan error, 1)
	go func() {
		defer close(winCh)
		cutErr <- cutWindows(ctx, p.Records, chunkSize, winCh)
	}()

	results := parallel.RunOrdered(ctx, poolCfg, winCh,
		func(_ context.Context, winBuf *[]record) (encodedChunk, error) {
			window := *winBuf
			stacks, err := stacksFor(window, p.Resolver)
			if err != nil {
				return encodedChunk{}, err
			}
			payload, rawLen, err := format.EncodeChunk(window, stacks, p.Codec, p.Memory)
			if err != nil {
				return encodedChunk{}, err
			}
			n := len(window)
			windowPool.Put(winBuf)
			return encodedChunk{payload: payload, records: n, rawLen: rawLen}, nil
		})

	cw, err := format.NewChunkedWriter(p.Sink, p.Codec, !p.analysis().IsEmpty(), p.Memory)
	if err != nil {
		return nil, err
	}
	windows := 0
	total := 0
	for res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		if err := cw.WriteCompressedChunk(res.Value.payload, res.Value.records, res.Value.rawLen); err != nil {
			return nil, err
		}
		windows++
		total += res.Value.records
	}
	if parentCtx.Err() != nil {
		return nil, errors.Wrap(errors.CodeCancelled, "processing cancelled", parentCtx.Err()).
			WithStage("process")
	}
	if err := <-cutErr; err != nil {
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

// cutWindows partitions the incoming stream with the shared window
// rule and forwards each completed window.
func cutWindows(ctx context.Context, in <-chan record, chunkSize int, out chan<- *[]record) error {
	winBuf := windowPool.Get()
	est := 0
	emit := func() bool {
		if len(*winBuf) == 0 {
			return true
		}
		select {
		case out <- winBuf:
			// The worker that encodes this window returns it to the pool.
			winBuf = windowPool.Get()
			est = 0
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		select {
		case r, ok := <-in:
			if !ok {
				if !emit() {
					return ctx.Err()
				}
				windowPool.Put(winBuf)
				return nil
			}
			*winBuf = append(*winBuf, r)
			est += format.RecordEstimate(&r)
			if est >= chunkSize {
				if !emit() {
					return ctx.Err()
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
