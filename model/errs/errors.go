// Package errs defines the error taxonomy shared by the scheduler, the core
// manager and the framework service. Callers detect conditions with
// errors.Is; every layer wraps with %w.
package errs

import "errors"

var (
	// ErrBusy is returned when a software queue is full. Callers should back
	// off and retry.
	ErrBusy = errors.New("bpu: busy")

	// ErrNoDevice is returned when the hardware backend is absent or a core
	// never had one bound, is disabled or was shut down.
	ErrNoDevice = errors.New("bpu: no device")

	// ErrInvalidArgument is returned for out of range priorities, unknown
	// groups, cores or frequency levels.
	ErrInvalidArgument = errors.New("bpu: invalid argument")

	// ErrPending is returned when the target core is quiesced. Callers may try
	// another core or retry later.
	ErrPending = errors.New("bpu: core pending")

	// ErrTimeout is returned when a teardown or quiesce wait exceeded its
	// bound. The affected core is left disabled.
	ErrTimeout = errors.New("bpu: timeout")

	// ErrRecoveryCoolDown is returned when a hang is detected again within the
	// recovery cool-down window.
	ErrRecoveryCoolDown = errors.New("bpu: recovery cool-down")

	// ErrHardware wraps a non-zero hardware error code reported with a task
	// completion.
	ErrHardware = errors.New("bpu: hardware error")

	// ErrSessionClosed is returned when submitting through a closed session.
	ErrSessionClosed = errors.New("bpu: session closed")
)
