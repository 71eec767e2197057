package session

import (
	"sync/atomic"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/service/messaging/memory"
	"github.com/D-Robotics/x5-kernel-sub005/service/stats"
)

// Config represents session configuration
type Config struct {
	ResultQueueDepth int `yaml:"resultQueueDepth"`
}

// DefaultConfig returns the default session configuration
func DefaultConfig() Config {
	return Config{ResultQueueDepth: 128}
}

// Session is a client of the pool. It is created on open, stops accepting
// work on Close and is released only once every in-flight task has been
// reconciled, discarded or failed back.
type Session struct {
	ID        string
	CreatedAt time.Time

	results   *memory.Queue[Result]
	meter     *stats.Meter
	alive     atomic.Bool
	running   atomic.Int64
	released  atomic.Bool
	onRelease func(*Session)
}

// New creates a live session. onRelease is called exactly once, after Close,
// when the last in-flight task is finished.
func New(id string, config Config, now time.Time, onRelease func(*Session)) *Session {
	if config.ResultQueueDepth <= 0 {
		config.ResultQueueDepth = DefaultConfig().ResultQueueDepth
	}
	ret := &Session{
		ID:        id,
		CreatedAt: now,
		results:   memory.NewQueue[Result](memory.Config{QueueBuffer: config.ResultQueueDepth}),
		meter:     stats.NewMeter(now),
		onRelease: onRelease,
	}
	ret.alive.Store(true)
	return ret
}

// Alive reports whether the session still accepts work and results
func (s *Session) Alive() bool {
	return s != nil && s.alive.Load()
}

// Running returns the number of in-flight tasks
func (s *Session) Running() int {
	return int(s.running.Load())
}

// Released reports whether the session has been torn down
func (s *Session) Released() bool {
	return s.released.Load()
}

// Meter returns the session running ratio meter
func (s *Session) Meter() *stats.Meter {
	return s.meter
}

// Acquire registers a new in-flight task
func (s *Session) Acquire() error {
	s.running.Add(1)
	if !s.alive.Load() {
		s.done()
		return errs.ErrSessionClosed
	}
	return nil
}

// Finish delivers the result of an in-flight task and releases its slot.
// Results of a closed session are dropped.
func (s *Session) Finish(result *Result) {
	if result != nil && s.alive.Load() {
		s.results.Offer(result)
	}
	s.done()
}

func (s *Session) done() {
	if s.running.Add(-1) <= 0 && !s.alive.Load() {
		s.release()
	}
}

// Close marks the session not alive. In-flight tasks keep running; the
// session is released when the last of them finishes.
func (s *Session) Close() {
	if !s.alive.CompareAndSwap(true, false) {
		return
	}
	s.results.Drain()
	if s.running.Load() <= 0 {
		s.release()
	}
}

func (s *Session) release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	if s.onRelease != nil {
		s.onRelease(s)
	}
}

// Poll returns up to max queued results without blocking; max <= 0 returns
// every queued result
func (s *Session) Poll(max int) []*Result {
	var out []*Result
	for max <= 0 || len(out) < max {
		msg, ok := s.results.Poll()
		if !ok {
			break
		}
		_ = msg.Ack()
		out = append(out, msg.T())
	}
	return out
}

// Pending returns the number of queued results
func (s *Session) Pending() int {
	return s.results.Size()
}

// DroppedResults returns the number of results lost to a full result queue
func (s *Session) DroppedResults() int64 {
	return s.results.Dropped()
}
