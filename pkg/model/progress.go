package model

import "sync/atomic"

// CollectionProgress exposes the state of a running collection to external
// observers. All counters are safe for concurrent access; the collector
// updates them at batch granularity, not per record.
type CollectionProgress struct {
	processed atomic.Int64
	total     atomic.Int64
	cancelled atomic.Bool
	phase     atomic.Value // string
}

// NewCollectionProgress returns a progress tracker with the given total
// estimate. A zero or negative estimate means the total is unknown.
func NewCollectionProgress(totalEstimate int64) *CollectionProgress {
	p := &CollectionProgress{}
	p.total.Store(totalEstimate)
	p.phase.Store("initializing")
	return p
}

// Add increments the processed-record counter by n.
func (p *CollectionProgress) Add(n int64) {
	p.processed.Add(n)
}

// Processed returns the number of records processed so far.
func (p *CollectionProgress) Processed() int64 {
	return p.processed.Load()
}

// Total returns the estimated total record count, or a non-positive value
// when unknown.
func (p *CollectionProgress) Total() int64 {
	return p.total.Load()
}

// SetPhase records the current collection phase for progress reporting.
func (p *CollectionProgress) SetPhase(phase string) {
	p.phase.Store(phase)
}

// Phase returns the current collection phase.
func (p *CollectionProgress) Phase() string {
	if v, ok := p.phase.Load().(string); ok {
		return v
	}
	return ""
}

// Cancel requests cooperative cancellation. The collector observes the
// flag between record batches.
func (p *CollectionProgress) Cancel() {
	p.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (p *CollectionProgress) Cancelled() bool {
	return p.cancelled.Load()
}

// Fraction returns overall completion in [0, 1], or -1 when the total is
// unknown.
func (p *CollectionProgress) Fraction() float64 {
	total := p.total.Load()
	if total <= 0 {
		return -1
	}
	f := float64(p.processed.Load()) / float64(total)
	if f > 1 {
		f = 1
	}
	return f
}
