package idgen

import "github.com/google/uuid"

// NewFunc returns a new globally unique identifier as string. It is a
// variable so tests can stub it.
var NewFunc = func() string { return uuid.New().String() }

// New returns a new identifier.
func New() string { return NewFunc() }

// NewTaskID returns a task handle.
func NewTaskID() string { return "task-" + New() }

// NewSessionID returns a session identifier.
func NewSessionID() string { return "session-" + New() }
