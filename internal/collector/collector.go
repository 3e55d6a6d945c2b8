// Package collector turns an instrumentation source into a validated
// snapshot. It owns the referential-integrity repair policy and the
// cross-collection stack cache.
package collector

import (
	"context"
	"io"
	"sync"

	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
	"github.com/memtrace/memexport/pkg/utils"
)

// cancelCheckInterval is the record granularity at which the collector
// observes context cancellation.
const cancelCheckInterval = 256

// Source yields allocation records and the call stacks they reference.
// Next returns io.EOF after the last record.
type Source interface {
	Next(ctx context.Context) (*model.AllocationRecord, error)
	Stacks() map[uint64]model.CallStack
	EstimateCount() int
}

// SliceSource adapts an in-memory snapshot to the Source interface.
type SliceSource struct {
	records  []model.AllocationRecord
	stacks   map[uint64]model.CallStack
	analysis *model.AnalysisResults
	pos      int
}

// NewSliceSource wraps records and stacks already held in memory.
func NewSliceSource(records []model.AllocationRecord, stacks map[uint64]model.CallStack) *SliceSource {
	return &SliceSource{records: records, stacks: stacks}
}

func (s *SliceSource) Next(_ context.Context) (*model.AllocationRecord, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := &s.records[s.pos]
	s.pos++
	return r, nil
}

func (s *SliceSource) Stacks() map[uint64]model.CallStack {
	if s.stacks == nil {
		return map[uint64]model.CallStack{}
	}
	return s.stacks
}

func (s *SliceSource) EstimateCount() int { return len(s.records) }

// Analysis returns the snapshot's analysis results, if any.
func (s *SliceSource) Analysis() *model.AnalysisResults { return s.analysis }

// Reset rewinds the source so it can be replayed for a retry.
func (s *SliceSource) Reset() { s.pos = 0 }

// Resetter is implemented by sources that can be replayed. The error
// recovery ladder retries only sources that implement it.
type Resetter interface {
	Reset()
}

// StackCache deduplicates call stacks across repeated collections from
// the same process. Keyed by content hash; safe for concurrent use.
type StackCache struct {
	mu     sync.Mutex
	stacks map[uint64]model.CallStack
}

func NewStackCache() *StackCache {
	return &StackCache{stacks: make(map[uint64]model.CallStack)}
}

// Intern stores the stack if its hash is new and returns the cached
// copy, so repeated collections share one CallStack value per hash.
func (c *StackCache) Intern(cs model.CallStack) model.CallStack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.stacks[cs.Hash]; ok {
		return cached
	}
	c.stacks[cs.Hash] = cs
	return cs
}

// Lookup returns the cached stack for a hash.
func (c *StackCache) Lookup(hash uint64) (model.CallStack, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs, ok := c.stacks[hash]
	return cs, ok
}

// Len returns the number of distinct stacks cached.
func (c *StackCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stacks)
}

// Collector drains sources into snapshots.
type Collector struct {
	// Strict fails collection on a dangling stack reference instead of
	// repairing it with a placeholder.
	Strict bool

	cache    *StackCache
	logger   utils.Logger
	progress *model.CollectionProgress
}

// Option configures a Collector.
type Option func(*Collector)

// WithStrict makes dangling stack references fatal.
func WithStrict(strict bool) Option {
	return func(c *Collector) { c.Strict = strict }
}

// WithCache shares a stack cache across collectors.
func WithCache(cache *StackCache) Option {
	return func(c *Collector) { c.cache = cache }
}

// WithLogger overrides the package-default logger.
func WithLogger(l utils.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// WithProgress attaches a progress tracker updated during collection.
func WithProgress(p *model.CollectionProgress) Option {
	return func(c *Collector) { c.progress = p }
}

func New(opts ...Option) *Collector {
	c := &Collector{
		cache:  NewStackCache(),
		logger: utils.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Warnings returned by Collect are attached to the snapshot's export
// result by the exporter; they never fail the collection.
type Result struct {
	Data     *model.UnifiedData
	Warnings []string
}

// Collect drains the source into a snapshot. On cancellation it
// returns the partial snapshot together with a CANCELLED error, so the
// caller always knows the data is truncated.
func (c *Collector) Collect(ctx context.Context, src Source) (*Result, error) {
	res := &Result{Data: model.NewUnifiedData()}
	if n := src.EstimateCount(); n > 0 {
		res.Data.Records = make([]model.AllocationRecord, 0, n)
	}
	if c.progress != nil {
		c.progress.SetPhase("collecting")
	}

	srcStacks := src.Stacks()
	count := 0
	for {
		if count%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				if c.progress != nil {
					c.progress.Cancel()
				}
				return res, errors.Wrap(errors.CodeCancelled, "collection cancelled", ctx.Err()).
					WithStage("collect")
			default:
			}
		}
		rec, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, errors.Wrap(errors.CodeIO, "read source record", err).WithStage("collect")
		}

		if rec.StackHash != 0 {
			if err := c.resolveStack(res, srcStacks, rec.StackHash); err != nil {
				return res, err
			}
		}
		res.Data.Records = append(res.Data.Records, *rec)
		count++
		if c.progress != nil {
			c.progress.Add(1)
		}
	}

	if c.progress != nil {
		c.progress.SetPhase("collected")
	}
	return res, nil
}

// resolveStack copies the referenced stack into the snapshot, serving
// it from the cross-collection cache when possible. A dangling hash is
// repaired with a placeholder unless Strict is set.
func (c *Collector) resolveStack(res *Result, srcStacks map[uint64]model.CallStack, hash uint64) error {
	if _, ok := res.Data.Stacks[hash]; ok {
		return nil
	}
	if cs, ok := c.cache.Lookup(hash); ok {
		res.Data.Stacks[hash] = cs
		return nil
	}
	if cs, ok := srcStacks[hash]; ok {
		res.Data.Stacks[hash] = c.cache.Intern(cs)
		return nil
	}
	if c.Strict {
		return errors.CorruptData("record references a call stack the source did not provide").
			WithStage("collect")
	}
	c.logger.WithField("stack_hash", hash).Warn("unresolved call stack, inserting placeholder")
	res.Data.Stacks[hash] = model.PlaceholderStack(hash)
	res.Warnings = append(res.Warnings, "repaired unresolved call stack reference")
	return nil
}

// Stream forwards records from the source into out, resolving each
// record's stack into resolved before the record is sent. A concurrent
// consumer may therefore look up the stack of any record it has
// already received. out is closed in every case; backpressure comes
// from the channel's capacity, chosen by the consumer.
func (c *Collector) Stream(ctx context.Context, src Source, out chan<- model.AllocationRecord, resolved *StackCache) ([]string, error) {
	defer close(out)

	var warnings []string
	srcStacks := src.Stacks()
	count := 0
	for {
		if count%cancelCheckInterval == 0 && ctx.Err() != nil {
			return warnings, errors.Wrap(errors.CodeCancelled, "collection cancelled", ctx.Err()).
				WithStage("collect")
		}
		rec, err := src.Next(ctx)
		if err == io.EOF {
			return warnings, nil
		}
		if err != nil {
			return warnings, errors.Wrap(errors.CodeIO, "read source record", err).WithStage("collect")
		}
		if h := rec.StackHash; h != 0 {
			if _, ok := resolved.Lookup(h); !ok {
				if cs, ok := c.cache.Lookup(h); ok {
					resolved.Intern(cs)
				} else if cs, ok := srcStacks[h]; ok {
					resolved.Intern(c.cache.Intern(cs))
				} else if c.Strict {
					return warnings, errors.CorruptData("record references a call stack the source did not provide").
						WithStage("collect")
				} else {
					c.logger.WithField("stack_hash", h).Warn("unresolved call stack, inserting placeholder")
					resolved.Intern(model.PlaceholderStack(h))
					warnings = append(warnings, "repaired unresolved call stack reference")
				}
			}
		}
		select {
		case out <- *rec:
		case <-ctx.Done():
			return warnings, errors.Wrap(errors.CodeCancelled, "collection cancelled", ctx.Err()).
				WithStage("collect")
		}
		count++
	}
}

// AnalysisProvider is implemented by sources that carry precomputed
// analysis alongside their records.
type AnalysisProvider interface {
	Analysis() *model.AnalysisResults
}

// NewSnapshotSource wraps a complete snapshot, analysis included.
func NewSnapshotSource(u *model.UnifiedData) *SliceSource {
	s := NewSliceSource(u.Records, u.Stacks)
	s.analysis = &u.Analysis
	return s
}
