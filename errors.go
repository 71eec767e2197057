package bpu

import "github.com/D-Robotics/x5-kernel-sub005/model/errs"

// Error taxonomy of the pool; test with errors.Is.
var (
	ErrBusy             = errs.ErrBusy
	ErrNoDevice         = errs.ErrNoDevice
	ErrInvalidArgument  = errs.ErrInvalidArgument
	ErrPending          = errs.ErrPending
	ErrTimeout          = errs.ErrTimeout
	ErrRecoveryCoolDown = errs.ErrRecoveryCoolDown
	ErrHardware         = errs.ErrHardware
	ErrSessionClosed    = errs.ErrSessionClosed
)
