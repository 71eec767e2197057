package progress

import (
	"context"
	"sync"
	"time"
)

// Delta represents an incremental counter change emitted by the dispatcher,
// the core workers or the recovery executor. The fields are signed and
// therefore can be either positive (increment) or negative (decrement).
type Delta struct {
	Submitted int
	Completed int
	Failed    int
	Lost      int
	Discarded int
	Running   int
}

// Progress keeps aggregated task counters for the whole pool. It is safe for
// concurrent use.
type Progress struct {
	StartedAt time.Time

	// Counters, modified via Update().
	SubmittedTasks int
	CompletedTasks int
	FailedTasks    int
	LostReports    int
	DiscardedTasks int
	RunningTasks   int

	sync.Mutex
	onChange func(Progress)
}

// New creates a tracker
func New() *Progress {
	return &Progress{StartedAt: time.Now()}
}

// Update applies the supplied delta to the tracker. If an onChange callback
// has been registered it is invoked with a copy of the updated tracker outside
// the critical section.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.Lock()

	p.SubmittedTasks += d.Submitted
	p.CompletedTasks += d.Completed
	p.FailedTasks += d.Failed
	p.LostReports += d.Lost
	p.DiscardedTasks += d.Discarded
	p.RunningTasks += d.Running

	snapshot := p.copy()
	cb := p.onChange

	p.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Progress {
	if p == nil {
		return Progress{}
	}
	p.Lock()
	defer p.Unlock()
	return p.copy()
}

func (p *Progress) copy() Progress {
	return Progress{
		StartedAt:      p.StartedAt,
		SubmittedTasks: p.SubmittedTasks,
		CompletedTasks: p.CompletedTasks,
		FailedTasks:    p.FailedTasks,
		LostReports:    p.LostReports,
		DiscardedTasks: p.DiscardedTasks,
		RunningTasks:   p.RunningTasks,
	}
}

// OnChange registers a callback that is invoked after every successful
// Update. Passing nil disables the callback. Only one callback can be
// active; subsequent calls overwrite the previous value.
func (p *Progress) OnChange(cb func(Progress)) {
	if p == nil {
		return
	}
	p.Lock()
	p.onChange = cb
	p.Unlock()
}

// ----------------------------------------------------------------------------
// Context helpers
// ----------------------------------------------------------------------------

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithTracker embeds the tracker in a derived context.
func WithTracker(ctx context.Context, tr *Progress) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, trackerKey, tr)
}

// FromContext extracts the Progress tracker from ctx. The second return value
// is false when the context carries no tracker.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// UpdateCtx looks up the tracker in ctx (if any) and applies the supplied
// delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
