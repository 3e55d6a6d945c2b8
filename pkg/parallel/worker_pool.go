// Package parallel provides generic parallel processing utilities.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// ============================================================================
// Pool Configuration
// ============================================================================

// PoolConfig configures worker pool behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int

	// JobBufferSize is the buffer size for the job channel. It bounds
	// how far the dispatcher can run ahead of the workers.
	// Default: MaxWorkers
	JobBufferSize int
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{
		MaxWorkers:    workers,
		JobBufferSize: workers,
	}
}

// WithWorkers returns a new config with the specified number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

func (c PoolConfig) normalized() PoolConfig {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	if c.JobBufferSize <= 0 {
		c.JobBufferSize = c.MaxWorkers
	}
	return c
}

// ============================================================================
// Ordered Streaming Pool
// ============================================================================

// TaskResult holds one processed item together with its input position.
type TaskResult[R any] struct {
	// Index is the zero-based position of the input item.
	Index uint64
	Value R
	Err   error
	// Duration is the time fn spent on this item.
	Duration time.Duration
}

type indexedJob[T any] struct {
	index uint64
	value T
}

// RunOrdered consumes items from in, processes them on a fixed-size
// worker pool, and emits results on the returned channel in input order
// even though workers complete out of order. Completed-but-not-yet-
// emittable results are held in a reorder buffer whose size is bounded by
// the in-flight job count, so memory stays bounded by the pool
// configuration, not the stream length.
//
// The returned channel is closed when in is closed and all results have
// been emitted, or when ctx is cancelled. After cancellation, results
// with indexes beyond the last in-order emission are dropped rather than
// emitted with a gap.
func RunOrdered[T any, R any](
	ctx context.Context,
	cfg PoolConfig,
	in <-chan T,
	fn func(ctx context.Context, item T) (R, error),
) <-chan TaskResult[R] {
	cfg = cfg.normalized()

	jobCh := make(chan indexedJob[T], cfg.JobBufferSize)
	resCh := make(chan TaskResult[R], cfg.MaxWorkers+cfg.JobBufferSize)
	out := make(chan TaskResult[R], cfg.JobBufferSize)

	// Dispatcher: index the input stream.
	go func() {
		defer close(jobCh)
		var index uint64
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-in:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case jobCh <- indexedJob[T]{index: index, value: item}:
					index++
				}
			}
		}
	}()

	// Workers.
	var wg sync.WaitGroup
	for i := 0; i < cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				start := time.Now()
				value, err := fn(ctx, job.value)
				result := TaskResult[R]{
					Index:    job.index,
					Value:    value,
					Err:      err,
					Duration: time.Since(start),
				}
				select {
				case <-ctx.Done():
					return
				case resCh <- result:
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resCh)
	}()

	// Reassembler: restore input order before emitting.
	go func() {
		defer close(out)
		pending := make(map[uint64]TaskResult[R])
		var next uint64
		for result := range resCh {
			pending[result.Index] = result
			for {
				r, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				select {
				case <-ctx.Done():
					return
				case out <- r:
					next++
				}
			}
		}
	}()

	return out
}

// ============================================================================
// Parallel For-Each over a slice
// ============================================================================

// ForEach executes fn for each item on the pool and returns the first
// error, if any. Unlike RunOrdered it has no output stream; it exists for
// side-effecting per-item work.
func ForEach[T any](
	ctx context.Context,
	cfg PoolConfig,
	items []T,
	fn func(ctx context.Context, item T) error,
) error {
	if len(items) == 0 {
		return nil
	}
	cfg = cfg.normalized()
	if cfg.MaxWorkers > len(items) {
		cfg.MaxWorkers = len(items)
	}

	jobCh := make(chan T, cfg.JobBufferSize)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i := 0; i < cfg.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobCh {
				select {
				case <-ctx.Done():
					return
				default:
				}
				if err := fn(ctx, item); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			mu.Lock()
			if firstErr == nil {
				firstErr = ctx.Err()
			}
			mu.Unlock()
		case jobCh <- item:
			continue
		}
		break
	}
	close(jobCh)
	wg.Wait()

	return firstErr
}
