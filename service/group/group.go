// Package group implements accounting groups: caller-chosen ids sharing a
// running ratio meter and a target proportion of core time.
package group

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/service/stats"
)

// None is the group id of tasks that do not belong to any group
const None uint32 = 0

// Group is an accounting group
type Group struct {
	ID         uint32
	proportion atomic.Int32
	meter      *stats.Meter
}

// New creates a group
func New(id uint32, proportion int, now time.Time) (*Group, error) {
	if id == None {
		return nil, fmt.Errorf("group id %d is reserved: %w", id, errs.ErrInvalidArgument)
	}
	ret := &Group{ID: id, meter: stats.NewMeter(now)}
	if err := ret.SetProportion(proportion); err != nil {
		return nil, err
	}
	return ret, nil
}

// SetProportion sets the target share of core time, 0..100
func (g *Group) SetProportion(proportion int) error {
	if proportion < 0 || proportion > 100 {
		return fmt.Errorf("group %d proportion %d: %w", g.ID, proportion, errs.ErrInvalidArgument)
	}
	g.proportion.Store(int32(proportion))
	return nil
}

// Proportion returns the target share of core time
func (g *Group) Proportion() int {
	return int(g.proportion.Load())
}

// Meter returns the group running ratio meter
func (g *Group) Meter() *stats.Meter {
	if g == nil {
		return nil
	}
	return g.meter
}
