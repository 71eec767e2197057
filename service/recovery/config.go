package recovery

import "time"

// Config represents hang detection and recovery configuration
type Config struct {
	// WatchdogInterval is the liveness polling period
	WatchdogInterval time.Duration `yaml:"watchdogInterval"`
	// CoolDown is the minimum time between two recoveries of a core
	CoolDown time.Duration `yaml:"coolDown"`
	// HangThreshold is the number of polls without progress before a reset
	HangThreshold int `yaml:"hangThreshold"`
	// MaxResetFailures is the number of consecutive failed resets after which
	// a core is shut down; 0 retries forever
	MaxResetFailures int `yaml:"maxResetFailures"`
	// Workers is the number of recovery executor goroutines
	Workers int `yaml:"workers"`
	// QueueDepth is the capacity of the recovery request queue
	QueueDepth int `yaml:"queueDepth"`
}

// DefaultConfig returns the default recovery configuration
func DefaultConfig() Config {
	return Config{
		WatchdogInterval: 500 * time.Millisecond,
		CoolDown:         5 * time.Second,
		HangThreshold:    2,
		MaxResetFailures: 3,
		Workers:          1,
		QueueDepth:       16,
	}
}
