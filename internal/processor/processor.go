// Package processor drives record streams through encoding and
// compression into a sink. Three strategies share one window
// partitioning rule, so the chunked artifact they produce is identical
// byte for byte regardless of the mode that wrote it.
package processor

import (
	"context"
	"io"

	"github.com/memtrace/memexport/internal/memory"
	"github.com/memtrace/memexport/pkg/collections"
	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
	"github.com/memtrace/memexport/pkg/utils"
)

type record = model.AllocationRecord

// windowPool recycles window buffers between flushes. Streaming reuses
// one buffer serially; the parallel cutter hands buffers to workers,
// which return them after encoding.
var windowPool = collections.NewSlicePool[record](1024)

// StackResolver resolves a stack hash to its call stack. Must be safe
// for concurrent use; the parallel strategy calls it from workers.
type StackResolver interface {
	Lookup(hash uint64) (model.CallStack, bool)
}

// MapResolver adapts a plain map to StackResolver. The map must not be
// mutated while the processor runs.
type MapResolver map[uint64]model.CallStack

func (m MapResolver) Lookup(hash uint64) (model.CallStack, bool) {
	cs, ok := m[hash]
	return cs, ok
}

// Stats summarizes one processing run.
type Stats struct {
	RecordCount       int
	WindowCount       int
	UncompressedBytes int64
	CompressedBytes   int64
}

// Pipeline wires a record stream to a sink. Records arrive on Records
// in collection order; Resolver serves every stack hash they reference.
type Pipeline struct {
	Records  <-chan model.AllocationRecord
	Resolver StackResolver
	Analysis *model.AnalysisResults
	Sink     io.Writer
	Codec    compression.Codec
	Config   config.ExportConfig
	Memory   *memory.Manager
	Timer    *utils.StageTimer
	Logger   utils.Logger
}

func (p *Pipeline) logger() utils.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return utils.GetGlobalLogger()
}

func (p *Pipeline) analysis() *model.AnalysisResults {
	if p.Analysis != nil {
		return p.Analysis
	}
	return &model.AnalysisResults{}
}

// Strategy is one processing mode.
type Strategy interface {
	Process(ctx context.Context, p *Pipeline) (*Stats, error)
	Name() string
}

// ForMode returns the strategy for a processing mode.
func ForMode(m config.ProcessingMode) Strategy {
	switch m {
	case config.ModeParallel:
		return &Parallel{}
	case config.ModeStreaming:
		return &Streaming{}
	default:
		return &Batch{}
	}
}

// stacksFor builds the stack table slice of one window from the
// resolver. Fails on a dangling reference; the collector has already
// repaired or rejected those, so hitting one here means the resolver
// and the record stream disagree.
func stacksFor(window []model.AllocationRecord, resolver StackResolver) (map[uint64]model.CallStack, error) {
	stacks := make(map[uint64]model.CallStack)
	for i := range window {
		h := window[i].StackHash
		if h == 0 {
			continue
		}
		if _, ok := stacks[h]; ok {
			continue
		}
		cs, ok := resolver.Lookup(h)
		if !ok {
			return nil, errors.CorruptData("record references unknown call stack").WithStage("process")
		}
		stacks[h] = cs
	}
	return stacks, nil
}

// drain collects the full record stream, observing cancellation.
func drain(ctx context.Context, in <-chan model.AllocationRecord) ([]model.AllocationRecord, error) {
	var records []model.AllocationRecord
	for {
		select {
		case r, ok := <-in:
			if !ok {
				return records, nil
			}
			records = append(records, r)
		case <-ctx.Done():
			return records, errors.Wrap(errors.CodeCancelled, "processing cancelled", ctx.Err()).
				WithStage("process")
		}
	}
}

// snapshotFrom materializes a snapshot from drained records, for the
// single-block formats.
func snapshotFrom(records []model.AllocationRecord, p *Pipeline) (*model.UnifiedData, error) {
	stacks, err := stacksFor(records, p.Resolver)
	if err != nil {
		return nil, err
	}
	return &model.UnifiedData{
		Records:  records,
		Stacks:   stacks,
		Analysis: *p.analysis(),
	}, nil
}
