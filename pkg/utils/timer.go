package utils

import (
	"sync"
	"time"
)

// StageTimer measures how long each pipeline stage runs. It is safe for
// concurrent use; parallel stages may overlap, so the per-stage durations
// are wall-clock spans, not a partition of the total.
type StageTimer struct {
	mu      sync.Mutex
	started time.Time
	stages  map[string]time.Duration
	open    map[string]time.Time
}

// NewStageTimer creates a started timer.
func NewStageTimer() *StageTimer {
	return &StageTimer{
		started: time.Now(),
		stages:  make(map[string]time.Duration),
		open:    make(map[string]time.Time),
	}
}

// Start begins timing a stage. Starting an already-open stage restarts it.
func (t *StageTimer) Start(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[stage] = time.Now()
}

// Stop ends timing a stage and accumulates its duration. Durations
// accumulate across repeated Start/Stop pairs of the same stage.
func (t *StageTimer) Stop(stage string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.open[stage]
	if !ok {
		return 0
	}
	delete(t.open, stage)
	d := time.Since(start)
	t.stages[stage] += d
	return d
}

// Time runs fn under the named stage.
func (t *StageTimer) Time(stage string, fn func() error) error {
	t.Start(stage)
	defer t.Stop(stage)
	return fn()
}

// Duration returns the accumulated duration for a stage.
func (t *StageTimer) Duration(stage string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stages[stage]
}

// Add accumulates a duration measured externally, such as time recorded
// inside a worker.
func (t *StageTimer) Add(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages[stage] += d
}

// Elapsed returns the wall-clock time since the timer was created.
func (t *StageTimer) Elapsed() time.Duration {
	return time.Since(t.started)
}
