// Package scheduler implements the per-core software priority queue that
// buffers tasks until the hardware queue of the core can take them.
package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/emirpasic/gods/queues/circularbuffer"
)

// Submitter writes tasks to a core
type Submitter interface {
	// Submit writes slices of t starting at offset and returns the number of
	// slices accepted
	Submit(t *task.Task, offset int) (int, error)
	// InFlight returns the number of tasks submitted but not completed
	InFlight() int
	// Discard fails a task back to its owner
	Discard(t *task.Task, err error)
}

type level struct {
	queue    *circularbuffer.Queue
	residual *task.Task
	left     int
	buffered time.Duration
	skipped  int
	busy     bool
	rewind   bool
}

func (l *level) hasWork() bool {
	return l.residual != nil || !l.queue.Empty()
}

// partial reports whether the residual task has slices in the hardware
func (l *level) partial() bool {
	return l.residual != nil && l.left < l.residual.Slices()
}

// PrioQueue buffers tasks per priority level. Higher levels are serviced
// first; a level passed over StarvationLimit times is serviced next. A task
// whose first slices are written is finished before any other task starts.
type PrioQueue struct {
	mu          sync.Mutex
	drainMu     sync.Mutex
	config      Config
	levels      []*level
	inited      bool
	exitReason  error
	submitter   Submitter
	bufferLimit atomic.Int64
	notify      func()
}

// New creates a priority queue with the given number of levels. notify is
// called after every successful Enqueue to schedule a drain.
func New(levels int, submitter Submitter, config Config, notify func()) *PrioQueue {
	if config.QueueDepth <= 0 {
		config.QueueDepth = DefaultConfig().QueueDepth
	}
	if levels < 1 {
		levels = 1
	}
	ret := &PrioQueue{config: config, submitter: submitter, notify: notify}
	for i := 0; i < levels; i++ {
		ret.levels = append(ret.levels, &level{queue: circularbuffer.New(config.QueueDepth)})
	}
	ret.bufferLimit.Store(int64(config.TaskBufferLimit))
	return ret
}

// Init makes the queue accept tasks
func (q *PrioQueue) Init() {
	q.mu.Lock()
	q.inited = true
	q.exitReason = nil
	q.mu.Unlock()
}

// Inited reports whether the queue accepts tasks
func (q *PrioQueue) Inited() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inited
}

// Levels returns the number of priority levels
func (q *PrioQueue) Levels() int {
	return len(q.levels)
}

// SetBufferLimit sets the task buffer limit, 0 disables it
func (q *PrioQueue) SetBufferLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	q.bufferLimit.Store(int64(limit))
}

// BufferLimit returns the task buffer limit
func (q *PrioQueue) BufferLimit() int {
	return int(q.bufferLimit.Load())
}

// Enqueue buffers a task at its priority level
func (q *PrioQueue) Enqueue(t *task.Task) error {
	q.mu.Lock()
	if !q.inited {
		q.mu.Unlock()
		return errs.ErrNoDevice
	}
	l := q.levels[t.Level(len(q.levels))]
	if l.queue.Full() {
		q.mu.Unlock()
		return errs.ErrBusy
	}
	l.queue.Enqueue(t)
	l.buffered += t.Estimate
	q.mu.Unlock()

	if q.notify != nil {
		q.notify()
	}
	return nil
}

// Drain services one priority level: it writes the residual task of the
// level, or the next queued one, to the submitter. Concurrent calls coalesce;
// a caller that finds a drain in progress returns immediately. progressed is
// true when at least one slice was written.
func (q *PrioQueue) Drain() (progressed bool, err error) {
	if !q.drainMu.TryLock() {
		return false, nil
	}
	defer q.drainMu.Unlock()

	if limit := q.BufferLimit(); limit > 0 && q.submitter.InFlight() >= limit {
		return false, nil
	}

	q.mu.Lock()
	if !q.inited {
		q.mu.Unlock()
		return false, nil
	}
	index := q.pick()
	if index < 0 {
		q.mu.Unlock()
		return false, nil
	}
	l := q.levels[index]
	if l.residual == nil {
		value, _ := l.queue.Dequeue()
		l.residual = value.(*task.Task)
		l.left = l.residual.Slices()
	}
	t := l.residual
	offset := t.Slices() - l.left
	l.busy = true
	q.mu.Unlock()

	written, err := q.submitter.Submit(t, offset)

	q.mu.Lock()
	l.busy = false
	if written > 0 {
		progressed = true
		l.left -= written
		q.age(index)
	}
	complete := l.left <= 0
	if l.rewind && !complete {
		l.left = t.Slices()
	}
	l.rewind = false
	if complete {
		l.residual = nil
		l.left = 0
		l.buffered -= t.Estimate
		if l.buffered < 0 {
			l.buffered = 0
		}
	}
	var discard error
	if !q.inited && !complete {
		// exited while the residual was being written
		l.residual = nil
		l.left = 0
		discard = q.exitReason
	}
	q.mu.Unlock()

	if discard != nil {
		q.submitter.Discard(t, discard)
	}
	return progressed, err
}

// pick returns the level to service, -1 when there is no work. Caller holds mu.
func (q *PrioQueue) pick() int {
	chosen := -1
	for i := len(q.levels) - 1; i >= 0; i-- {
		if q.levels[i].partial() {
			return i
		}
		if chosen < 0 && q.levels[i].hasWork() {
			chosen = i
		}
	}
	if chosen < 0 {
		return chosen
	}
	if limit := q.config.StarvationLimit; limit > 0 {
		for i := chosen - 1; i >= 0; i-- {
			if l := q.levels[i]; l.hasWork() && l.skipped >= limit {
				chosen = i
				break
			}
		}
	}
	return chosen
}

// age resets the starvation counter of the serviced level and charges every
// lower level with work. Caller holds mu.
func (q *PrioQueue) age(serviced int) {
	for i, l := range q.levels {
		switch {
		case i == serviced:
			l.skipped = 0
		case i < serviced && l.hasWork():
			l.skipped++
		}
	}
}

// Rewind restarts every partly written residual task from its first slice.
// A residual being written by a concurrent Drain is rewound once that write
// returns, unless the write finished the task.
func (q *PrioQueue) Rewind() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range q.levels {
		if l.residual == nil {
			continue
		}
		if l.busy {
			l.rewind = true
			continue
		}
		l.left = l.residual.Slices()
	}
}

// Exit discards every buffered task with reason and stops accepting work.
// A residual task being written by a concurrent Drain is left to that drain.
func (q *PrioQueue) Exit(reason error) {
	var discarded []*task.Task
	q.mu.Lock()
	q.inited = false
	q.exitReason = reason
	for _, l := range q.levels {
		if l.residual != nil && !l.busy {
			discarded = append(discarded, l.residual)
			l.residual = nil
			l.left = 0
		}
		l.rewind = false
		for _, value := range l.queue.Values() {
			discarded = append(discarded, value.(*task.Task))
		}
		l.queue.Clear()
		l.buffered = 0
		l.skipped = 0
	}
	q.mu.Unlock()

	for _, t := range discarded {
		q.submitter.Discard(t, reason)
	}
}

// Buffered returns the estimated time of the tasks buffered at levels at or
// above floor
func (q *PrioQueue) Buffered(floor int) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ret time.Duration
	for i := floor; i < len(q.levels); i++ {
		if i < 0 {
			continue
		}
		ret += q.levels[i].buffered
	}
	return ret
}

// Queued returns the number of buffered tasks, residual ones included
func (q *PrioQueue) Queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	ret := 0
	for _, l := range q.levels {
		ret += l.queue.Size()
		if l.residual != nil {
			ret++
		}
	}
	return ret
}

// Left returns the slices left of the residual task of a level
func (q *PrioQueue) Left(index int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.levels) {
		return 0
	}
	return q.levels[index].left
}
