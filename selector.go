package bpu

import (
	"fmt"
	"math/bits"

	"github.com/D-Robotics/x5-kernel-sub005/model/errs"
	"github.com/D-Robotics/x5-kernel-sub005/service/core"
)

// SelectCore picks the core for new work among the cores in mask (0 means
// every core): enabled, bound to a backend and not quiesced, with the most
// free level 0 run-queue slots. Ties go to the earliest registered core.
// When nothing is eligible it returns ErrPending if a matching core is only
// quiesced and ErrNoDevice otherwise.
func (s *Service) SelectCore(mask uint64) (*core.Core, error) {
	return s.selectCore(mask, 0)
}

// selectCore falls back to the required mask when the caller pinned a single
// hotplug core that is currently disabled
func (s *Service) selectCore(mask, required uint64) (*core.Core, error) {
	if mask != 0 && required != 0 && mask&required == 0 {
		return nil, fmt.Errorf("core mask %#x outside required mask %#x: %w", mask, required, errs.ErrInvalidArgument)
	}
	cores := s.Cores()
	if bits.OnesCount64(mask) == 1 {
		index := bits.TrailingZeros64(mask)
		for _, c := range cores {
			if c.Index == index && c.Hotplug() && !c.Enabled() {
				return pick(cores, required)
			}
		}
	}
	if required != 0 && mask != 0 {
		mask &= required
	} else if mask == 0 {
		mask = required
	}
	return pick(cores, mask)
}

func pick(cores []*core.Core, mask uint64) (*core.Core, error) {
	var selected *core.Core
	best := -1
	quiesced := false
	for _, c := range cores {
		if mask != 0 && mask&(1<<uint(c.Index)) == 0 {
			continue
		}
		if !c.Enabled() || !c.HasBackend() {
			continue
		}
		if c.Pending() {
			quiesced = true
			continue
		}
		if free := c.FreeSlots(0); free > best {
			best = free
			selected = c
		}
	}
	if selected != nil {
		return selected, nil
	}
	if quiesced {
		return nil, fmt.Errorf("no core available for mask %#x: %w", mask, errs.ErrPending)
	}
	return nil, fmt.Errorf("no core enabled for mask %#x: %w", mask, errs.ErrNoDevice)
}
