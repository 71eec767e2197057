package stats

import (
	"sync"
	"time"
)

// Meter accumulates busy time for a core, a session or a group and reports it
// as a ratio of the elapsed wall time since the period start.
type Meter struct {
	mu          sync.Mutex
	runTime     time.Duration
	periodStart time.Time
	lastDone    time.Time
}

// NewMeter creates a meter whose period starts at now.
func NewMeter(now time.Time) *Meter {
	return &Meter{periodStart: now}
}

// Reset zeroes the accumulator and restarts the period at now.
func (m *Meter) Reset(now time.Time) {
	m.mu.Lock()
	m.runTime = 0
	m.periodStart = now
	m.lastDone = time.Time{}
	m.mu.Unlock()
}

// Add accumulates busy time.
func (m *Meter) Add(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.runTime += d
	m.mu.Unlock()
}

// Complete accounts a task that ran from start until end and returns the
// busy interval that was charged. The interval starts at the later of start
// and the previous completion, so tasks overlapping on one core are not
// charged twice.
func (m *Meter) Complete(start, end time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := start
	if m.lastDone.After(from) {
		from = m.lastDone
	}
	if end.After(m.lastDone) {
		m.lastDone = end
	}
	busy := end.Sub(from)
	if busy <= 0 || from.IsZero() {
		return 0
	}
	m.runTime += busy
	return busy
}

// LastDone returns the time of the last completion passed to Complete.
func (m *Meter) LastDone() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastDone
}

// RunTime returns the accumulated busy time.
func (m *Meter) RunTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runTime
}

// Ratio returns the busy percentage of the elapsed period, 0..100.
func (m *Meter) Ratio(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ratio(m.runTime, now.Sub(m.periodStart))
}

// Decay divides the accumulator and the elapsed period by coefficient so the
// ratio moves smoothly across decay boundaries.
func (m *Meter) Decay(now time.Time, coefficient int) {
	if coefficient <= 1 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	elapsed := now.Sub(m.periodStart)
	if elapsed <= 0 {
		return
	}
	m.runTime /= time.Duration(coefficient)
	m.periodStart = now.Add(-elapsed / time.Duration(coefficient))
}

func ratio(run, elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	if run > elapsed {
		run = elapsed
	}
	return int(run * 100 / elapsed)
}
