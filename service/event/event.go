package event

import "time"

// Lifecycle event types
const (
	TypeCoreEnabled   = "core.enabled"
	TypeCoreDisabled  = "core.disabled"
	TypeCoreSuspect   = "core.suspect"
	TypeCoreRecovered = "core.recovered"
	TypeCoreFaulted   = "core.faulted"
	TypeCoreShutdown  = "core.shutdown"
	TypeTaskLost      = "task.lost"
)

// Context identifies the origin of an event
type Context struct {
	EventType string `json:"eventType"`
	Core      int    `json:"core"`
	SessionID string `json:"sessionID,omitempty"`
	TaskID    string `json:"taskID,omitempty"`
}

// Event is a typed lifecycle notification
type Event[T any] struct {
	Context   *Context               `json:"context"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata"`
	Data      T                      `json:"data"`
}

// Notice carries the details of a core or task lifecycle change
type Notice struct {
	State      string `json:"state,omitempty"`
	HardwareID uint32 `json:"hardwareID,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewEvent creates an event
func NewEvent[T any](context *Context, data T) *Event[T] {
	return &Event[T]{
		Context:   context,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]interface{}),
		Data:      data,
	}
}
