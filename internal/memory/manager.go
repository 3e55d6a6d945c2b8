// Package memory provides pooled buffer management for export
// pipelines. Buffers are checked out from size-class pools and
// accounted against an optional memory ceiling so callers can react
// to pressure before the process runs out of headroom.
package memory

import (
	"sync"
	"sync/atomic"

	"github.com/memtrace/memexport/pkg/errors"
)

// Size classes for pooled buffers. Requests above the largest class
// are allocated raw and never pooled.
const (
	ClassSmall  = 4 * 1024
	ClassMedium = 64 * 1024
	ClassLarge  = 256 * 1024
	ClassHuge   = 1024 * 1024
)

var sizeClasses = [...]int{ClassSmall, ClassMedium, ClassLarge, ClassHuge}

// Pressure indicates how close outstanding checkouts are to the
// configured ceiling.
type Pressure int

const (
	PressureLow Pressure = iota
	PressureMedium
	PressureHigh
)

func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureMedium:
		return "medium"
	case PressureHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Buffer is a checked-out byte buffer. Len tracks the written portion;
// the backing slice capacity is at least the requested size hint.
type Buffer struct {
	data    []byte
	class   int // pool class, 0 for raw or detached buffers
	charged int // bytes charged against the ceiling at acquire
}

// Bytes returns the written portion of the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// View returns a sub-slice of the written portion without copying.
func (b *Buffer) View(off, n int) []byte {
	if off < 0 || n < 0 || off+n > len(b.data) {
		return nil
	}
	return b.data[off : off+n]
}

// SetLen resizes the written portion. Growing past capacity
// reallocates, which detaches the buffer from its pool class.
func (b *Buffer) SetLen(n int) {
	if n <= cap(b.data) {
		b.data = b.data[:n]
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data)
	b.data = grown
	b.class = 0
}

// Append appends p to the written portion, growing as needed.
func (b *Buffer) Append(p []byte) {
	if len(b.data)+len(p) > cap(b.data) {
		b.class = 0
	}
	b.data = append(b.data, p...)
}

// Len returns the size of the written portion.
func (b *Buffer) Len() int { return len(b.data) }

// Cap returns the capacity of the backing slice.
func (b *Buffer) Cap() int { return cap(b.data) }

// View returns a bounds-checked subslice of src without copying. The
// returned slice aliases src and must be treated as read-only.
func View(src []byte, off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(src) {
		return nil, errors.CorruptData("view out of range")
	}
	return src[off : off+n], nil
}

// Manager hands out pooled buffers and tracks outstanding bytes
// against an optional ceiling. The zero ceiling means unbounded.
type Manager struct {
	ceiling     int64
	outstanding atomic.Int64
	peak        atomic.Int64
	pools       [len(sizeClasses)]*sync.Pool
}

// NewManager creates a Manager with the given memory ceiling in
// bytes. A ceiling of 0 disables accounting limits; pressure is then
// always low.
func NewManager(ceiling int64) *Manager {
	m := &Manager{ceiling: ceiling}
	for i, class := range sizeClasses {
		size := class
		m.pools[i] = &sync.Pool{
			New: func() any { return make([]byte, 0, size) },
		}
	}
	return m
}

// Acquire checks out a buffer with at least sizeHint bytes of
// capacity. It fails with an OutOfMemory error when the checkout
// would exceed the ceiling.
func (m *Manager) Acquire(sizeHint int) (*Buffer, error) {
	if sizeHint < 0 {
		sizeHint = 0
	}
	class, charged := classFor(sizeHint)
	if m.ceiling > 0 {
		now := m.outstanding.Add(int64(charged))
		if now > m.ceiling {
			m.outstanding.Add(-int64(charged))
			return nil, errors.OutOfMemory(int64(charged), max64(m.ceiling-(now-int64(charged)), 0))
		}
		m.updatePeak(now)
	} else {
		m.updatePeak(m.outstanding.Add(int64(charged)))
	}

	if class == 0 {
		return &Buffer{data: make([]byte, 0, sizeHint), charged: charged}, nil
	}
	idx := classIndex(class)
	data := m.pools[idx].Get().([]byte)
	return &Buffer{data: data[:0], class: class, charged: charged}, nil
}

// Release returns a buffer to its pool and credits its bytes back to
// the accounting. Buffers that grew past their class, and raw
// allocations, are dropped for the garbage collector.
func (m *Manager) Release(b *Buffer) {
	if b == nil || b.data == nil && b.charged == 0 {
		return
	}
	m.outstanding.Add(-int64(b.charged))
	if b.class != 0 && cap(b.data) == b.class {
		m.pools[classIndex(b.class)].Put(b.data[:0])
	}
	b.data = nil
	b.class = 0
	b.charged = 0
}

// Reserve charges n bytes against the ceiling without handing out a
// buffer. Pipelines use it to account for encoded windows that live in
// slices the pool does not own. The returned release function is
// idempotent.
func (m *Manager) Reserve(n int) (func(), error) {
	if n < 0 {
		n = 0
	}
	if m.ceiling > 0 {
		now := m.outstanding.Add(int64(n))
		if now > m.ceiling {
			m.outstanding.Add(-int64(n))
			return nil, errors.OutOfMemory(int64(n), max64(m.ceiling-(now-int64(n)), 0))
		}
		m.updatePeak(now)
	} else {
		m.updatePeak(m.outstanding.Add(int64(n)))
	}
	var once sync.Once
	return func() {
		once.Do(func() { m.outstanding.Add(-int64(n)) })
	}, nil
}

// Outstanding returns the currently checked-out byte total.
func (m *Manager) Outstanding() int64 { return m.outstanding.Load() }

// Peak returns the highest outstanding total observed.
func (m *Manager) Peak() int64 { return m.peak.Load() }

// Pressure reports the checkout level relative to the ceiling.
// Medium at 50% of the ceiling, high at 85%.
func (m *Manager) Pressure() Pressure {
	if m.ceiling <= 0 {
		return PressureLow
	}
	used := m.outstanding.Load()
	switch {
	case used*100 >= m.ceiling*85:
		return PressureHigh
	case used*100 >= m.ceiling*50:
		return PressureMedium
	default:
		return PressureLow
	}
}

// Ceiling returns the configured ceiling, 0 when unbounded.
func (m *Manager) Ceiling() int64 { return m.ceiling }

func (m *Manager) updatePeak(now int64) {
	for {
		peak := m.peak.Load()
		if now <= peak || m.peak.CompareAndSwap(peak, now) {
			return
		}
	}
}

// classFor returns the pool class for a size hint and the bytes
// charged against the ceiling. Oversized requests charge their exact
// size and use class 0.
func classFor(sizeHint int) (class, charged int) {
	for _, c := range sizeClasses {
		if sizeHint <= c {
			return c, c
		}
	}
	return 0, sizeHint
}

func classIndex(class int) int {
	for i, c := range sizeClasses {
		if c == class {
			return i
		}
	}
	return -1
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
