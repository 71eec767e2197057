package core

import (
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/progress"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	"github.com/D-Robotics/x5-kernel-sub005/service/scheduler"
	"github.com/sirupsen/logrus"
)

// Config represents core manager configuration
type Config struct {
	// DoneQueueDepth is the capacity of the completion ring fed by Interrupt
	DoneQueueDepth int `yaml:"doneQueueDepth"`
	// DisableTimeout bounds the wait for in-flight tasks on disable and
	// frequency changes
	DisableTimeout time.Duration `yaml:"disableTimeout"`
	// PollInterval is the interval of the in-flight wait loop
	PollInterval time.Duration `yaml:"pollInterval"`
}

// DefaultConfig returns the default core configuration
func DefaultConfig() Config {
	return Config{
		DoneQueueDepth: 256,
		DisableTimeout: 2 * time.Second,
		PollInterval:   5 * time.Millisecond,
	}
}

// Option configures a core
type Option func(c *Core)

// WithConfig sets the core configuration
func WithConfig(config Config) Option {
	return func(c *Core) {
		c.config = config
	}
}

// WithSchedulerConfig sets the software priority queue configuration
func WithSchedulerConfig(config scheduler.Config) Option {
	return func(c *Core) {
		c.schedConfig = config
	}
}

// WithHotplug allows the dispatcher to migrate work pinned to this core
// while it is disabled
func WithHotplug(hotplug bool) Option {
	return func(c *Core) {
		c.hotplug = hotplug
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Core) {
		c.logger = logger
	}
}

// WithEvents sets the lifecycle event service
func WithEvents(events *event.Service) Option {
	return func(c *Core) {
		c.events = events
	}
}

// WithProgress sets the task counters
func WithProgress(p *progress.Progress) Option {
	return func(c *Core) {
		c.progress = p
	}
}
