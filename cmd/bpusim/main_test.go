package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	bpu "github.com/D-Robotics/x5-kernel-sub005"
	yaml "github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	var testCases = []struct {
		description string
		content     string
		expect      func(s Scenario) Scenario
	}{
		{
			description: "overrides",
			content:     "cores: 3\nsessions: 8\nhang_core: 1\n",
			expect: func(s Scenario) Scenario {
				s.Cores, s.Sessions, s.HangCore = 3, 8, 1
				return s
			},
		},
		{
			description: "clamps",
			content:     "cores: 0\ntask_id_max: 2\ntask_capacity: -1\nhang_core: 5\ncomplete_every_ms: 0\n",
			expect: func(s Scenario) Scenario {
				s.Cores, s.TaskIDMax, s.TaskCapacity, s.HangCore, s.CompleteEveryMS = 1, 4, 1, -1, 1
				return s
			},
		},
	}

	for _, testCase := range testCases {
		location := filepath.Join(t.TempDir(), "scenario.yaml")
		require.NoError(t, os.WriteFile(location, []byte(testCase.content), 0o644), testCase.description)
		actual, err := Load(location)
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expect(defaultScenario()), actual, testCase.description)
	}

	actual, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, defaultScenario(), actual)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestRun(t *testing.T) {
	var testCases = []struct {
		description string
		hangCore    int
	}{
		{description: "steady", hangCore: -1},
		{description: "hung core recovered", hangCore: 0},
	}

	for _, testCase := range testCases {
		scenario := defaultScenario()
		scenario.Sessions = 2
		scenario.TasksPerSession = 20
		scenario.HangCore = testCase.hangCore
		scenario.HangAfterMS = 5

		config, _ := engineConfig(scenario, nil)
		config.Recovery.WatchdogInterval = 10 * time.Millisecond
		config.Recovery.CoolDown = 0

		out := &bytes.Buffer{}
		err := run(context.Background(), scenario, config, quietLogger(), out)
		require.NoError(t, err, testCase.description)

		report := Report{}
		require.NoError(t, yaml.Unmarshal(out.Bytes(), &report), testCase.description)
		assert.Equal(t, 40, report.Submitted, testCase.description)
		assert.Equal(t, 40, report.Completed, testCase.description)
		assert.Equal(t, 0, report.Failed, testCase.description)
		assert.Len(t, report.Cores, 2, testCase.description)
	}
}

func TestEngineConfig_SizesSimulation(t *testing.T) {
	config := bpu.DefaultConfig()
	config.Cores = []bpu.CoreConfig{{Index: 3}}
	_, simCores := engineConfig(Scenario{Cores: 2}, config)
	assert.Equal(t, 4, simCores)
}
