package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	bpu "github.com/D-Robotics/x5-kernel-sub005"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/backend/sim"
	"github.com/D-Robotics/x5-kernel-sub005/service/core"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	yaml "github.com/goccy/go-yaml"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Report summarises a simulation run
type Report struct {
	Elapsed   string      `yaml:"elapsed"`
	Submitted int         `yaml:"submitted"`
	Completed int         `yaml:"completed"`
	Failed    int         `yaml:"failed"`
	Lost      int         `yaml:"lost"`
	Discarded int         `yaml:"discarded"`
	Retries   int64       `yaml:"retries"`
	Ratio     int         `yaml:"ratio"`
	Cores     []core.Info `yaml:"cores"`
}

func capabilityOf(scenario Scenario) backend.Capability {
	return backend.Capability{
		PriorityLevels: scenario.PriorityLevels,
		PrioBitOffset:  uint(bits.Len32(uint32(scenario.TaskIDMax))),
		TaskIDMax:      uint32(scenario.TaskIDMax),
		SliceSize:      scenario.SliceSize,
		TaskCapacity:   scenario.TaskCapacity,
		Arch:           "sim",
		CanTerminate:   true,
		OperatingPoints: []backend.OperatingPoint{
			{Hz: 300_000_000, MicroVolts: 700_000},
			{Hz: 600_000_000, MicroVolts: 800_000},
			{Hz: 1_000_000_000, MicroVolts: 900_000},
		},
	}
}

// engineConfig builds a pool configuration with every simulated core enabled
// at start, unless one was loaded from a file
func engineConfig(scenario Scenario, config *bpu.Config) (*bpu.Config, int) {
	if config == nil {
		config = bpu.DefaultConfig()
		config.Cores = nil
		for i := 0; i < scenario.Cores; i++ {
			config.Cores = append(config.Cores, bpu.CoreConfig{Index: i, AutoEnable: true})
		}
	}
	simCores := scenario.Cores
	for _, item := range config.Cores {
		if item.Index+1 > simCores {
			simCores = item.Index + 1
		}
	}
	return config, simCores
}

func run(ctx context.Context, scenario Scenario, config *bpu.Config, logger logrus.FieldLogger, out io.Writer) error {
	config, simCores := engineConfig(scenario, config)
	be := sim.New(capabilityOf(scenario), simCores)
	srv, err := bpu.New(
		bpu.WithConfig(config),
		bpu.WithBackend(be),
		bpu.WithLogger(logger),
		bpu.WithEventHandler(func(e *event.Event[event.Notice]) {
			logger.WithFields(logrus.Fields{
				"event": e.Context.EventType,
				"core":  e.Context.Core,
				"state": e.Data.State,
			}).Info("core event")
		}),
	)
	if err != nil {
		return err
	}
	started := time.Now()
	if err = srv.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, scenario.timeout())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		be.Run(runCtx, scenario.completeEvery())
	}()
	if scenario.HangCore >= 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-time.After(scenario.hangAfter()):
				logger.WithField("core", scenario.HangCore).Warn("simulating hang")
				be.SetHung(scenario.HangCore, true)
			case <-runCtx.Done():
			}
		}()
	}

	var retries atomic.Int64
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < scenario.Sessions; i++ {
		g.Go(func() error {
			return drive(gctx, srv, scenario, &retries)
		})
	}
	runErr := g.Wait()
	cancel()
	wg.Wait()

	shutdownErr := srv.Shutdown(context.Background())
	counters := srv.Progress()
	report := Report{
		Elapsed:   time.Since(started).Round(time.Millisecond).String(),
		Submitted: counters.SubmittedTasks,
		Completed: counters.CompletedTasks,
		Failed:    counters.FailedTasks,
		Lost:      counters.LostReports,
		Discarded: counters.DiscardedTasks,
		Retries:   retries.Load(),
		Ratio:     srv.Ratio(),
		Cores:     srv.Info(),
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	if _, err = out.Write(data); err != nil {
		return err
	}
	return errors.Join(runErr, shutdownErr)
}

// drive submits the tasks of one session, retrying while the pool pushes
// back, and waits for every result
func drive(ctx context.Context, srv *bpu.Service, scenario Scenario, retries *atomic.Int64) error {
	sess, err := srv.OpenSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = srv.CloseSession(context.Background(), sess.ID) }()

	submitted := 0
	for submitted < scenario.TasksPerSession {
		_, err := srv.Submit(ctx, sess.ID, bpu.Request{
			Priority: submitted % scenario.PriorityLevels,
			Payload:  make([]byte, scenario.PayloadBytes),
			Estimate: scenario.completeEvery(),
		})
		switch {
		case err == nil:
			submitted++
			continue
		case errors.Is(err, bpu.ErrBusy), errors.Is(err, bpu.ErrPending):
			retries.Add(1)
		default:
			return fmt.Errorf("session %v: %w", sess.ID, err)
		}
		if err = wait(ctx, scenario.completeEvery()); err != nil {
			return err
		}
	}

	received := 0
	for received < submitted {
		results, err := srv.Poll(ctx, sess.ID, 0)
		if err != nil {
			return err
		}
		received += len(results)
		if received < submitted {
			if err = wait(ctx, scenario.completeEvery()); err != nil {
				return fmt.Errorf("session %v: %d of %d results: %w", sess.ID, received, submitted, err)
			}
		}
	}
	return nil
}

func wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
