package bpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/D-Robotics/x5-kernel-sub005/internal/idgen"
	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/model/task"
	"github.com/D-Robotics/x5-kernel-sub005/progress"
	"github.com/D-Robotics/x5-kernel-sub005/service/dao"
	"github.com/D-Robotics/x5-kernel-sub005/service/group"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
)

// Request describes a task submission
type Request struct {
	// CoreMask lists the preferred cores, bit n for core index n; 0 means any
	CoreMask uint64
	// RequiredMask bounds the hotplug fallback of a task pinned to a disabled
	// core; 0 means any
	RequiredMask uint64
	// Priority is clamped to the highest level the hardware supports
	Priority int
	// GroupID is an existing accounting group, or group.None
	GroupID uint32
	Payload []byte
	// SliceTotal is derived from the payload size when 0
	SliceTotal int
	// Estimate is the expected processing time, used for buffered time queries
	Estimate time.Duration
	// FireAndForget tasks are not tracked after the hardware accepts them
	FireAndForget bool
}

// OpenSession creates a client session
func (s *Service) OpenSession(ctx context.Context) (*session.Session, error) {
	sess := session.New(idgen.NewSessionID(), s.config.Session, clock.Now(), s.releaseSession)
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// CloseSession stops a session from accepting work. Its in-flight tasks
// still complete; the session is released once the last one is reconciled.
func (s *Service) CloseSession(ctx context.Context, sessionID string) error {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Close()
	return nil
}

// Session returns an open or draining session
func (s *Service) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.session(ctx, sessionID)
}

func (s *Service) session(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, dao.ErrNotFound) {
			return nil, fmt.Errorf("session %v: %w", sessionID, errs.ErrInvalidArgument)
		}
		return nil, err
	}
	return sess, nil
}

// releaseSession is called once a closed session has no task in flight
func (s *Service) releaseSession(sess *session.Session) {
	_ = s.sessions.Delete(context.Background(), sess.ID)
	for _, c := range s.Cores() {
		c.Unbind(sess.ID)
	}
	s.logger.WithField("session", sess.ID).Debug("session released")
}

// Submit queues a task on the selected core. The returned task is owned by
// the pool; its result is delivered through Poll.
func (s *Service) Submit(ctx context.Context, sessionID string, request Request) (*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if request.Priority < 0 {
		return nil, fmt.Errorf("priority %d: %w", request.Priority, errs.ErrInvalidArgument)
	}
	if request.SliceTotal < 0 {
		return nil, fmt.Errorf("slice total %d: %w", request.SliceTotal, errs.ErrInvalidArgument)
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Alive() {
		return nil, fmt.Errorf("session %v: %w", sessionID, errs.ErrSessionClosed)
	}
	var grp *group.Group
	if request.GroupID != group.None {
		if grp, err = s.groups.Load(ctx, request.GroupID); err != nil {
			return nil, fmt.Errorf("group %d: %w", request.GroupID, errs.ErrInvalidArgument)
		}
	}
	c, err := s.selectCore(request.CoreMask, request.RequiredMask)
	if err != nil {
		return nil, err
	}

	capability := c.Capability()
	priority := request.Priority
	if priority >= capability.PriorityLevels {
		priority = capability.PriorityLevels - 1
	}
	sliceTotal := request.SliceTotal
	if sliceTotal == 0 {
		sliceTotal = task.SliceCount(len(request.Payload), capability.SliceSize)
	}
	t := &task.Task{
		ID:            idgen.NewTaskID(),
		Owner:         sess,
		Group:         grp,
		GroupID:       request.GroupID,
		Priority:      priority,
		CoreMask:      request.CoreMask,
		Payload:       request.Payload,
		SliceTotal:    sliceTotal,
		Estimate:      request.Estimate,
		FireAndForget: request.FireAndForget,
		SubmittedAt:   clock.Now(),
	}

	if err = sess.Acquire(); err != nil {
		return nil, fmt.Errorf("session %v: %w", sessionID, err)
	}
	c.Bind(sess)
	s.progress.Update(progress.Delta{Submitted: 1, Running: 1})
	if err = c.Enqueue(t); err != nil {
		s.progress.Update(progress.Delta{Submitted: -1, Running: -1})
		sess.Finish(nil)
		return nil, err
	}
	return t, nil
}

// Poll returns up to max results of finished tasks without blocking; max <= 0
// returns every queued result.
func (s *Service) Poll(ctx context.Context, sessionID string, max int) ([]*session.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Alive() {
		return nil, fmt.Errorf("session %v: %w", sessionID, errs.ErrSessionClosed)
	}
	return sess.Poll(max), nil
}
