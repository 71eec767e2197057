package bpu

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/progress"
	"github.com/D-Robotics/x5-kernel-sub005/service/core"
	"github.com/D-Robotics/x5-kernel-sub005/service/dao"
	"github.com/D-Robotics/x5-kernel-sub005/service/group"
)

// EnableCore powers a core on; calls are counted per core
func (s *Service) EnableCore(ctx context.Context, index int) error {
	c, err := s.Core(index)
	if err != nil {
		return err
	}
	return c.Enable(ctx)
}

// DisableCore releases one EnableCore
func (s *Service) DisableCore(ctx context.Context, index int) error {
	c, err := s.Core(index)
	if err != nil {
		return err
	}
	return c.Disable(ctx)
}

// Frequency returns the operating point level of a core
func (s *Service) Frequency(index int) (int, error) {
	c, err := s.Core(index)
	if err != nil {
		return 0, err
	}
	return c.Frequency(), nil
}

// SetFrequency moves a core to another operating point level
func (s *Service) SetFrequency(ctx context.Context, index, level int) error {
	c, err := s.Core(index)
	if err != nil {
		return err
	}
	return c.SetFrequency(ctx, level)
}

// SetTaskBufferLimit caps the tasks a core keeps in hardware; 0 removes the
// cap. A negative index applies the limit to every core.
func (s *Service) SetTaskBufferLimit(index, limit int) error {
	if index < 0 {
		var failures []error
		for _, c := range s.Cores() {
			if err := c.SetTaskBufferLimit(limit); err != nil {
				failures = append(failures, err)
			}
		}
		return errors.Join(failures...)
	}
	c, err := s.Core(index)
	if err != nil {
		return err
	}
	return c.SetTaskBufferLimit(limit)
}

// ResetCore forces the recovery of a core, bypassing the cool-down, and
// waits for the reset and replay to finish. The service must be started.
func (s *Service) ResetCore(ctx context.Context, index int) error {
	c, err := s.Core(index)
	if err != nil {
		return err
	}
	return s.recovery.Reset(ctx, c)
}

// BufferedTime estimates the time a core needs to run the work queued at
// priority floor and above
func (s *Service) BufferedTime(index, floor int) (time.Duration, error) {
	c, err := s.Core(index)
	if err != nil {
		return 0, err
	}
	return c.Buffered(floor), nil
}

// LastCompletion returns the time of the last task reconciled on a core
func (s *Service) LastCompletion(index int) (time.Time, error) {
	c, err := s.Core(index)
	if err != nil {
		return time.Time{}, err
	}
	return c.LastCompletion(), nil
}

// CoreRatio returns the running ratio of a core, 0..100
func (s *Service) CoreRatio(index int) (int, error) {
	c, err := s.Core(index)
	if err != nil {
		return 0, err
	}
	return c.Ratio(), nil
}

// Ratio returns the mean running ratio of the enabled cores
func (s *Service) Ratio() int {
	total, count := 0, 0
	for _, c := range s.Cores() {
		if !c.Enabled() {
			continue
		}
		total += c.Ratio()
		count++
	}
	if count == 0 {
		return 0
	}
	return total / count
}

// SessionRatio returns the share of core time used by a session
func (s *Service) SessionRatio(ctx context.Context, sessionID string) (int, error) {
	sess, err := s.session(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return sess.Meter().Ratio(clock.Now()), nil
}

// CreateGroup registers an accounting group
func (s *Service) CreateGroup(ctx context.Context, id uint32, proportion int) (*group.Group, error) {
	grp, err := group.New(id, proportion, clock.Now())
	if err != nil {
		return nil, err
	}
	if err = s.groups.Create(ctx, grp); err != nil {
		if errors.Is(err, dao.ErrExists) {
			return nil, fmt.Errorf("group %d: %v: %w", id, err, errs.ErrInvalidArgument)
		}
		return nil, err
	}
	return grp, nil
}

// DeleteGroup removes an accounting group. Tasks already submitted keep
// charging it.
func (s *Service) DeleteGroup(ctx context.Context, id uint32) error {
	if err := s.groups.Delete(ctx, id); err != nil {
		return s.groupError(id, err)
	}
	return nil
}

// SetGroupProportion sets the target share of core time of a group
func (s *Service) SetGroupProportion(ctx context.Context, id uint32, proportion int) error {
	grp, err := s.groups.Load(ctx, id)
	if err != nil {
		return s.groupError(id, err)
	}
	return grp.SetProportion(proportion)
}

// GroupProportion returns the target share of core time of a group
func (s *Service) GroupProportion(ctx context.Context, id uint32) (int, error) {
	grp, err := s.groups.Load(ctx, id)
	if err != nil {
		return 0, s.groupError(id, err)
	}
	return grp.Proportion(), nil
}

// GroupRatio returns the share of core time used by a group
func (s *Service) GroupRatio(ctx context.Context, id uint32) (int, error) {
	grp, err := s.groups.Load(ctx, id)
	if err != nil {
		return 0, s.groupError(id, err)
	}
	return grp.Meter().Ratio(clock.Now()), nil
}

func (s *Service) groupError(id uint32, err error) error {
	if errors.Is(err, dao.ErrNotFound) {
		return fmt.Errorf("group %d: %w", id, errs.ErrInvalidArgument)
	}
	return err
}

// Progress returns a snapshot of the task counters
func (s *Service) Progress() progress.Progress {
	return s.progress.Snapshot()
}

// Info returns a summary of every core in registration order
func (s *Service) Info() []core.Info {
	cores := s.Cores()
	ret := make([]core.Info, 0, len(cores))
	for _, c := range cores {
		ret = append(ret, c.Info())
	}
	return ret
}
