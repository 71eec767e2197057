package bpu

import (
	"context"
	"errors"
	"fmt"

	"github.com/D-Robotics/x5-kernel-sub005/service/core"
	"github.com/D-Robotics/x5-kernel-sub005/service/recovery"
	"github.com/D-Robotics/x5-kernel-sub005/service/scheduler"
	"github.com/D-Robotics/x5-kernel-sub005/service/session"
	"github.com/D-Robotics/x5-kernel-sub005/service/stats"
	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"gopkg.in/yaml.v3"
)

// Config is a serialisable representation of the pool configuration. It is
// usually loaded from YAML with LoadConfig; durations use Go duration
// strings ("500ms", "2s").
type Config struct {
	Cores     []CoreConfig     `yaml:"cores"`
	Scheduler scheduler.Config `yaml:"scheduler"`
	Core      core.Config      `yaml:"core"`
	Session   session.Config   `yaml:"session"`
	Recovery  recovery.Config  `yaml:"recovery"`
	Stats     stats.Config     `yaml:"stats"`
	Tracing   TracingConfig    `yaml:"tracing"`
	Events    EventsConfig     `yaml:"events"`
}

// CoreConfig describes one core of the pool. Cores are registered in the
// order they are listed, which is also the selection tie-break order.
type CoreConfig struct {
	Index      int  `yaml:"index"`
	Hotplug    bool `yaml:"hotplug"`
	AutoEnable bool `yaml:"autoEnable"`
}

// TracingConfig configures the stdout OpenTelemetry exporter
type TracingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`
	OutputFile     string `yaml:"outputFile"`
}

// EventsConfig configures the lifecycle event queue
type EventsConfig struct {
	QueueDepth int `yaml:"queueDepth"`
}

// DefaultConfig returns a Config with a single core and the package defaults
// of every service. Callers may modify the returned struct before passing it
// to WithConfig.
func DefaultConfig() *Config {
	return &Config{
		Cores:     []CoreConfig{{Index: 0}},
		Scheduler: scheduler.DefaultConfig(),
		Core:      core.DefaultConfig(),
		Session:   session.DefaultConfig(),
		Recovery:  recovery.DefaultConfig(),
		Stats:     stats.DefaultConfig(),
		Tracing: TracingConfig{
			ServiceName:    "bpu",
			ServiceVersion: "dev",
		},
		Events: EventsConfig{QueueDepth: 256},
	}
}

// Validate returns aggregated error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	var errs []error
	if len(c.Cores) == 0 {
		errs = append(errs, fmt.Errorf("cores must not be empty"))
	}
	seen := map[int]bool{}
	for i, item := range c.Cores {
		if item.Index < 0 || item.Index > 63 {
			errs = append(errs, fmt.Errorf("cores[%d].index must be in 0..63, got %d", i, item.Index))
		}
		if seen[item.Index] {
			errs = append(errs, fmt.Errorf("cores[%d].index %d is duplicated", i, item.Index))
		}
		seen[item.Index] = true
	}
	if c.Scheduler.QueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.queueDepth must be > 0"))
	}
	if c.Scheduler.TaskBufferLimit < 0 {
		errs = append(errs, fmt.Errorf("scheduler.taskBufferLimit must be >= 0"))
	}
	if c.Scheduler.StarvationLimit < 0 {
		errs = append(errs, fmt.Errorf("scheduler.starvationLimit must be >= 0"))
	}
	if c.Core.DisableTimeout <= 0 {
		errs = append(errs, fmt.Errorf("core.disableTimeout must be > 0"))
	}
	if c.Recovery.WatchdogInterval <= 0 {
		errs = append(errs, fmt.Errorf("recovery.watchdogInterval must be > 0"))
	}
	if c.Recovery.HangThreshold < 1 {
		errs = append(errs, fmt.Errorf("recovery.hangThreshold must be >= 1"))
	}
	if c.Recovery.CoolDown < 0 {
		errs = append(errs, fmt.Errorf("recovery.coolDown must be >= 0"))
	}
	if c.Stats.DecayInterval <= 0 {
		errs = append(errs, fmt.Errorf("stats.decayInterval must be > 0"))
	}
	if c.Stats.DecayCoefficient < 1 {
		errs = append(errs, fmt.Errorf("stats.decayCoefficient must be >= 1"))
	}
	return errors.Join(errs...)
}

// LoadConfig downloads a YAML configuration from any afs supported URL and
// decodes it over DefaultConfig, so omitted sections keep their defaults.
func LoadConfig(ctx context.Context, URL string, options ...storage.Option) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to download config %v: %w", URL, err)
	}
	ret := DefaultConfig()
	if err = yaml.Unmarshal(data, ret); err != nil {
		return nil, fmt.Errorf("failed to decode config %v: %w", URL, err)
	}
	if err = ret.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %v: %w", URL, err)
	}
	return ret, nil
}
