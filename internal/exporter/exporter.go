// Package exporter orchestrates the full pipeline: stream records from
// a source, process them into an artifact, and land it atomically at
// the destination path. The destination never holds a partial file.
package exporter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/memtrace/memexport/internal/collector"
	"github.com/memtrace/memexport/internal/format"
	"github.com/memtrace/memexport/internal/integrity"
	"github.com/memtrace/memexport/internal/memory"
	"github.com/memtrace/memexport/internal/processor"
	"github.com/memtrace/memexport/internal/recovery"
	"github.com/memtrace/memexport/pkg/compression"
	"github.com/memtrace/memexport/pkg/config"
	"github.com/memtrace/memexport/pkg/errors"
	"github.com/memtrace/memexport/pkg/model"
	"github.com/memtrace/memexport/pkg/parallel"
	"github.com/memtrace/memexport/pkg/telemetry"
	"github.com/memtrace/memexport/pkg/utils"
)

// Extension is the canonical artifact file extension, appended when
// the destination path has none.
const Extension = ".mexp"

// autoSampleRecords bounds how many records are buffered to pick a
// compression algorithm when the configuration says Auto.
const autoSampleRecords = 256

// recordChannelCap is the collector-to-processor channel capacity.
// Bounded so a slow sink applies backpressure to the source.
const recordChannelCap = 1024

// Exporter runs exports under one configuration. Safe for concurrent
// use; concurrent exports share the memory ceiling and the stack cache.
type Exporter struct {
	cfg      config.ExportConfig
	mem      *memory.Manager
	cache    *collector.StackCache
	logger   utils.Logger
	rec      *recovery.Executor
	progress func(completed, total int64)
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger overrides the package-default logger.
func WithLogger(l utils.Logger) Option {
	return func(e *Exporter) { e.logger = l }
}

// WithStackCache shares a stack cache across exporters.
func WithStackCache(c *collector.StackCache) Option {
	return func(e *Exporter) { e.cache = c }
}

// WithProgress registers a callback reporting how many records have
// been handed to the processor against the source's estimate. It fires
// periodically during the export and once more when processing ends.
func WithProgress(fn func(completed, total int64)) Option {
	return func(e *Exporter) { e.progress = fn }
}

// New validates the configuration and builds an Exporter.
func New(cfg config.ExportConfig, opts ...Option) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Exporter{
		cfg:    cfg,
		mem:    memory.NewManager(cfg.MaxMemoryBytes),
		cache:  collector.NewStackCache(),
		logger: utils.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rec = recovery.New(e.logger)
	return e, nil
}

// Export drains the source into an artifact at path. Failures are
// retried on the recovery ladder when the source can be replayed. On
// success the artifact is moved into place atomically.
func (e *Exporter) Export(ctx context.Context, src collector.Source, path string) (*model.ExportResult, error) {
	if src == nil {
		return nil, errors.New(errors.CodeNoData, "nil source").WithStage("collect")
	}
	if filepath.Ext(path) == "" {
		path += Extension
	}

	ctx, span := telemetry.StartStage(ctx, "export")
	defer span.End()

	var result *model.ExportResult
	attempts := 0
	err := e.rec.Execute(ctx, e.cfg, func(ctx context.Context, cfg config.ExportConfig) error {
		if attempts > 0 {
			r, ok := src.(collector.Resetter)
			if !ok {
				return errors.Config("source cannot be replayed, giving up on retry")
			}
			r.Reset()
		}
		attempts++
		res, err := e.exportOnce(ctx, cfg, src, path)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Outcome carries an asynchronous export's result.
type Outcome struct {
	Result *model.ExportResult
	Err    error
}

// ExportAsync runs Export on its own goroutine. The returned channel
// is buffered; the result is never lost if the caller reads late.
func (e *Exporter) ExportAsync(ctx context.Context, src collector.Source, path string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := e.Export(ctx, src, path)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

func (e *Exporter) exportOnce(ctx context.Context, cfg config.ExportConfig, src collector.Source, path string) (*model.ExportResult, error) {
	// Escalate to streaming before allocating anything new when the
	// shared pool is already close to its ceiling.
	if e.mem.Pressure() == memory.PressureHigh && cfg.Mode != config.ModeStreaming {
		e.logger.Warn("memory pressure high, escalating to streaming mode")
		cfg = cfg.WithMode(config.ModeStreaming)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := utils.NewStageTimer()

	var analysis *model.AnalysisResults
	if ap, ok := src.(collector.AnalysisProvider); ok {
		analysis = ap.Analysis()
	}

	// Collection runs concurrently with processing; its stage time is
	// wall time and overlaps the processing stage.
	out := make(chan model.AllocationRecord, recordChannelCap)
	resolved := collector.NewStackCache()
	coll := collector.New(
		collector.WithStrict(cfg.StrictCollection),
		collector.WithCache(e.cache),
		collector.WithLogger(e.logger),
	)
	type collectOutcome struct {
		warnings []string
		err      error
	}
	collCh := make(chan collectOutcome, 1)
	go func() {
		_, collectSpan := telemetry.StartStage(ctx, "collect")
		defer collectSpan.End()
		start := time.Now()
		warnings, err := coll.Stream(ctx, src, out, resolved)
		timer.Add("collect", time.Since(start))
		collCh <- collectOutcome{warnings: warnings, err: err}
	}()

	records, algo, err := e.resolveCompression(ctx, cfg, out, resolved)
	if err != nil {
		cancel()
		<-collCh
		return nil, err
	}
	records, tracker := e.trackProgress(ctx, src.EstimateCount(), records)
	defer tracker.Stop()
	codec, err := compression.New(algo, cfg.CompressionLevel)
	if err != nil {
		cancel()
		<-collCh
		return nil, err
	}
	defer compression.Close(codec)

	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	f, err := os.Create(tmp)
	if err != nil {
		cancel()
		<-collCh
		return nil, errors.Wrap(errors.CodeIO, "create temp artifact", err).WithStage("write")
	}
	discard := func() {
		f.Close()
		os.Remove(tmp)
	}

	sink := bufio.NewWriter(f)
	pipeline := &processor.Pipeline{
		Records:  records,
		Resolver: resolved,
		Analysis: analysis,
		Sink:     sink,
		Codec:    &timedCodec{Codec: codec, timer: timer},
		Config:   cfg,
		Memory:   e.mem,
		Timer:    timer,
		Logger:   e.logger,
	}
	strategy := processor.ForMode(cfg.Mode)

	_, processSpan := telemetry.StartStage(ctx, "process")
	timer.Start("process")
	stats, perr := strategy.Process(ctx, pipeline)
	timer.Stop("process")
	processSpan.End()
	if perr != nil {
		cancel()
		<-collCh
		discard()
		return nil, perr
	}

	collected := <-collCh
	if collected.err != nil {
		discard()
		return nil, collected.err
	}
	tracker.Stop()
	if e.progress != nil {
		e.progress(tracker.Completed(), int64(src.EstimateCount()))
	}

	timer.Start("write")
	if err := sink.Flush(); err != nil {
		discard()
		return nil, errors.Wrap(errors.CodeIO, "flush artifact", err).WithStage("write")
	}
	if err := f.Sync(); err != nil {
		discard()
		return nil, errors.Wrap(errors.CodeIO, "sync artifact", err).WithStage("write")
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		discard()
		return nil, errors.Wrap(errors.CodeIO, "stat artifact", err).WithStage("write")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return nil, errors.Wrap(errors.CodeIO, "close artifact", err).WithStage("write")
	}
	timer.Stop("write")

	warnings := collected.warnings
	if cfg.ValidateOutput {
		_, validateSpan := telemetry.StartStage(ctx, "validate")
		timer.Start("validate")
		report, verr := integrity.ValidateFile(tmp)
		timer.Stop("validate")
		validateSpan.End()
		if verr != nil {
			os.Remove(tmp)
			return nil, verr
		}
		if !report.Valid {
			os.Remove(tmp)
			return nil, errors.CorruptData("written artifact failed validation: "+report.Errors[0]).
				WithStage("validate")
		}
		if report.RecordCount != stats.RecordCount {
			os.Remove(tmp)
			return nil, errors.CorruptData("written artifact record count disagrees with pipeline").
				WithStage("validate")
		}
	}

	timer.Start("write")
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, errors.Wrap(errors.CodeIO, "move artifact into place", err).WithStage("write")
	}
	timer.Stop("write")

	e.logger.WithField("path", path).Info("export complete: %d records, %d bytes", stats.RecordCount, size)

	return &model.ExportResult{
		Path:         path,
		BytesWritten: size,
		Duration:     timer.Elapsed(),
		RecordCount:  stats.RecordCount,
		StackCount:   resolved.Len(),
		Warnings:     warnings,
		Stats: model.ExportStats{
			CollectionTime:   timer.Duration("collect"),
			ProcessingTime:   timer.Duration("process"),
			CompressionTime:  timer.Duration("compress"),
			WriteTime:        timer.Duration("write"),
			ValidationTime:   timer.Duration("validate"),
			UncompressedSize: stats.UncompressedBytes,
			CompressedSize:   stats.CompressedBytes,
			PeakMemory:       e.mem.Peak(),
		},
	}, nil
}

// trackProgress interposes a counting forwarder between the collector
// and the processor. The tracker reports through the configured
// callback, or to the debug log when none is set.
func (e *Exporter) trackProgress(ctx context.Context, estimate int, in <-chan model.AllocationRecord) (<-chan model.AllocationRecord, *parallel.ProgressTracker) {
	cb := e.progress
	if cb == nil {
		cb = func(completed, total int64) {
			e.logger.Debug("export progress: %d/%d records", completed, total)
		}
	}
	tracker := parallel.NewProgressTracker(int64(estimate), cb, 0)
	tracker.Start(ctx)

	counted := make(chan model.AllocationRecord, recordChannelCap)
	go func() {
		defer close(counted)
		for r := range in {
			select {
			case counted <- r:
				tracker.Add(1)
			case <-ctx.Done():
				return
			}
		}
	}()
	return counted, tracker
}

// resolveCompression picks a concrete algorithm. For Auto it buffers a
// record sample from the stream, encodes it, and lets the heuristic
// decide; the buffered records are replayed ahead of the live stream.
func (e *Exporter) resolveCompression(ctx context.Context, cfg config.ExportConfig, in <-chan model.AllocationRecord, resolved *collector.StackCache) (<-chan model.AllocationRecord, compression.Algorithm, error) {
	if cfg.Compression != compression.AlgorithmAuto {
		return in, cfg.Compression, nil
	}

	var sample []model.AllocationRecord
	for len(sample) < autoSampleRecords {
		select {
		case r, ok := <-in:
			if !ok {
				in = nil
			} else {
				sample = append(sample, r)
				continue
			}
		case <-ctx.Done():
			return nil, 0, errors.Wrap(errors.CodeCancelled, "export cancelled", ctx.Err())
		}
		break
	}

	var windowBytes []byte
	if len(sample) > 0 {
		stacks := make(map[uint64]model.CallStack)
		for i := range sample {
			if h := sample[i].StackHash; h != 0 {
				if cs, ok := resolved.Lookup(h); ok {
					stacks[h] = cs
				}
			}
		}
		raw, _, err := format.EncodeChunk(sample, stacks, compression.NewNoOpCodec(), nil)
		if err != nil {
			return nil, 0, err
		}
		windowBytes = raw
	}
	algo := compression.AutoSelect(windowBytes)
	e.logger.WithField("algorithm", algo.String()).Debug("auto-selected compression")

	merged := make(chan model.AllocationRecord, len(sample)+1)
	for _, r := range sample {
		merged <- r
	}
	if in == nil {
		close(merged)
		return merged, algo, nil
	}
	go func() {
		defer close(merged)
		for r := range in {
			select {
			case merged <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return merged, algo, nil
}

// timedCodec accumulates time spent compressing into the export's
// stage timer. Safe for concurrent use; the timer is mutex-guarded.
type timedCodec struct {
	compression.Codec
	timer *utils.StageTimer
}

func (c *timedCodec) Compress(data []byte) ([]byte, error) {
	start := time.Now()
	out, err := c.Codec.Compress(data)
	c.timer.Add("compress", time.Since(start))
	return out, err
}

// Load reads an artifact of any layout back into memory.
func Load(path string) (*model.UnifiedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeIO, "read artifact", err).WithStage("load")
	}
	u, _, err := format.Decode(data)
	return u, err
}
