package scheduler

// Config represents the software priority queue configuration
type Config struct {
	// QueueDepth is the capacity of each priority level buffer
	QueueDepth int `yaml:"queueDepth"`
	// TaskBufferLimit caps the tasks submitted to hardware but not completed;
	// 0 disables the limit
	TaskBufferLimit int `yaml:"taskBufferLimit"`
	// StarvationLimit is the number of drains a lower level with work may be
	// passed over before it is serviced; 0 disables aging
	StarvationLimit int `yaml:"starvationLimit"`
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		QueueDepth:      64,
		StarvationLimit: 32,
	}
}
