package main

import (
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Scenario mirrors a bpusim scenario file
type Scenario struct {
	Cores           int `yaml:"cores"`             // 2 (by default)
	PriorityLevels  int `yaml:"priority_levels"`   // 2
	TaskIDMax       int `yaml:"task_id_max"`       // 64
	TaskCapacity    int `yaml:"task_capacity"`     // 4
	SliceSize       int `yaml:"slice_size"`        // 4096
	Sessions        int `yaml:"sessions"`          // 4
	TasksPerSession int `yaml:"tasks_per_session"` // 100
	PayloadBytes    int `yaml:"payload_bytes"`     // 8192
	CompleteEveryMS int `yaml:"complete_every_ms"` // 1
	HangCore        int `yaml:"hang_core"`         // -1 (no hang)
	HangAfterMS     int `yaml:"hang_after_ms"`     // 50
	TimeoutMS       int `yaml:"timeout_ms"`        // 10000
}

func defaultScenario() Scenario {
	return Scenario{
		Cores:           2,
		PriorityLevels:  2,
		TaskIDMax:       64,
		TaskCapacity:    4,
		SliceSize:       4096,
		Sessions:        4,
		TasksPerSession: 100,
		PayloadBytes:    8192,
		CompleteEveryMS: 1,
		HangCore:        -1,
		HangAfterMS:     50,
		TimeoutMS:       10000,
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) (Scenario, error) {
	cfg := defaultScenario()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}

	// sanity clamps
	if cfg.Cores <= 0 {
		cfg.Cores = 1
	}
	if cfg.Cores > 64 {
		cfg.Cores = 64
	}
	if cfg.PriorityLevels <= 0 {
		cfg.PriorityLevels = 1
	}
	if cfg.TaskIDMax < 4 {
		cfg.TaskIDMax = 4
	}
	if cfg.TaskCapacity <= 0 {
		cfg.TaskCapacity = 1
	}
	if cfg.Sessions <= 0 {
		cfg.Sessions = 1
	}
	if cfg.TasksPerSession < 0 {
		cfg.TasksPerSession = 0
	}
	if cfg.CompleteEveryMS <= 0 {
		cfg.CompleteEveryMS = 1
	}
	if cfg.HangCore >= cfg.Cores {
		cfg.HangCore = -1
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = defaultScenario().TimeoutMS
	}
	return cfg, nil
}

func (s Scenario) completeEvery() time.Duration {
	return time.Duration(s.CompleteEveryMS) * time.Millisecond
}

func (s Scenario) hangAfter() time.Duration {
	return time.Duration(s.HangAfterMS) * time.Millisecond
}

func (s Scenario) timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}
