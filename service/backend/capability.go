package backend

import (
	"errors"
	"fmt"
)

// OperatingPoint is a supported clock/voltage pair, ordered by frequency
type OperatingPoint struct {
	Hz         uint64 `yaml:"hz"`
	MicroVolts int    `yaml:"microVolts"`
}

// Capability describes the hardware parameters of a core
type Capability struct {
	// PriorityLevels is the number of hardware priority levels
	PriorityLevels int
	// PrioBitOffset is the bit position of the level in a hardware id
	PrioBitOffset uint
	// TaskIDMax is the size of the cyclic per-level id space
	TaskIDMax uint32
	// SliceSize is the payload size of a single hardware write, 0 if tasks
	// are never split
	SliceSize int
	// TaskCapacity is the number of tasks the hardware queue holds
	TaskCapacity int
	Arch         string
	CanTerminate bool
	// OperatingPoints lists supported frequency levels, lowest first
	OperatingPoints []OperatingPoint
}

// Validate checks that the capability is usable
func (c Capability) Validate() error {
	var errs []error
	if c.PriorityLevels < 1 {
		errs = append(errs, fmt.Errorf("priority levels %d must be at least 1", c.PriorityLevels))
	}
	if c.TaskIDMax < 2 {
		errs = append(errs, fmt.Errorf("task id max %d must be at least 2", c.TaskIDMax))
	}
	if c.PrioBitOffset == 0 || c.PrioBitOffset >= 32 {
		errs = append(errs, fmt.Errorf("priority bit offset %d out of range", c.PrioBitOffset))
	} else {
		if uint64(c.TaskIDMax) >= uint64(1)<<c.PrioBitOffset {
			errs = append(errs, fmt.Errorf("task id max %d does not fit below bit %d", c.TaskIDMax, c.PrioBitOffset))
		}
		if c.PriorityLevels > 0 && uint64(c.PriorityLevels-1)<<c.PrioBitOffset > uint64(^uint32(0)) {
			errs = append(errs, fmt.Errorf("%d priority levels overflow the hardware id", c.PriorityLevels))
		}
	}
	if c.TaskCapacity < 1 {
		errs = append(errs, fmt.Errorf("task capacity %d must be at least 1", c.TaskCapacity))
	}
	for i := 1; i < len(c.OperatingPoints); i++ {
		if c.OperatingPoints[i].Hz < c.OperatingPoints[i-1].Hz {
			errs = append(errs, fmt.Errorf("operating point %d is not ordered by frequency", i))
			break
		}
	}
	return errors.Join(errs...)
}

// HardwareID composes the hardware id of a level and a counter value
func (c Capability) HardwareID(level int, counter uint32) uint32 {
	return uint32(level)<<c.PrioBitOffset | counter
}

// Level extracts the priority level of a hardware id
func (c Capability) Level(id uint32) int {
	return int(id >> c.PrioBitOffset)
}

// Counter extracts the cyclic counter of a hardware id
func (c Capability) Counter(id uint32) uint32 {
	return id & (uint32(1)<<c.PrioBitOffset - 1)
}
