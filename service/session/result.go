package session

import "time"

// Result is the completion summary delivered to the owner of a task.
// HWError is the raw hardware error code (0 on success). Err is set when the
// task failed or was discarded. Lost marks a task retired because a later
// report of the same level arrived while its own report was missing.
type Result struct {
	TaskID      string
	HardwareID  uint32
	Priority    int
	Core        int
	GroupID     uint32
	HWError     uint32
	Err         error
	Lost        bool
	SubmittedAt time.Time
	StartAt     time.Time
	EndAt       time.Time
}
