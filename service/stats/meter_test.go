package stats

import (
	"context"
	"testing"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMeter_Ratio(t *testing.T) {
	var testCases = []struct {
		description string
		run         time.Duration
		elapsed     time.Duration
		expect      int
	}{
		{description: "idle", run: 0, elapsed: time.Second, expect: 0},
		{description: "half busy", run: 500 * time.Millisecond, elapsed: time.Second, expect: 50},
		{description: "clamped above elapsed", run: 3 * time.Second, elapsed: time.Second, expect: 100},
		{description: "no elapsed time", run: time.Second, elapsed: 0, expect: 0},
	}

	for _, testCase := range testCases {
		meter := NewMeter(epoch)
		meter.Add(testCase.run)
		assert.Equal(t, testCase.expect, meter.Ratio(epoch.Add(testCase.elapsed)), testCase.description)
	}
}

func TestMeter_CompleteClampsOverlap(t *testing.T) {
	meter := NewMeter(epoch)

	// two tasks started together; the second completion only adds the time
	// after the first one finished
	start := epoch
	busy := meter.Complete(start, epoch.Add(100*time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, busy)
	busy = meter.Complete(start, epoch.Add(150*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, busy)

	assert.Equal(t, 150*time.Millisecond, meter.RunTime())
	assert.Equal(t, epoch.Add(150*time.Millisecond), meter.LastDone())
	assert.Equal(t, 75, meter.Ratio(epoch.Add(200*time.Millisecond)))
}

func TestMeter_DecayKeepsRatio(t *testing.T) {
	meter := NewMeter(epoch)
	meter.Add(600 * time.Millisecond)
	now := epoch.Add(time.Second)
	before := meter.Ratio(now)

	meter.Decay(now, 4)
	assert.Equal(t, 150*time.Millisecond, meter.RunTime())
	assert.Equal(t, before, meter.Ratio(now))

	// coefficient of 1 is a no-op
	meter.Decay(now, 1)
	assert.Equal(t, 150*time.Millisecond, meter.RunTime())
}

func TestService_Decay(t *testing.T) {
	now := epoch.Add(time.Second)
	clock.NowFunc = func() time.Time { return now }
	defer func() { clock.NowFunc = time.Now }()

	meters := []*Meter{NewMeter(epoch), NewMeter(epoch)}
	meters[0].Add(800 * time.Millisecond)
	srv := New(func() []*Meter { return meters }, Config{DecayInterval: time.Hour, DecayCoefficient: 2})
	srv.Decay()

	assert.Equal(t, 400*time.Millisecond, meters[0].RunTime())
	assert.Equal(t, 80, meters[0].Ratio(now))
	assert.Equal(t, 0, meters[1].Ratio(now))

	done := make(chan error, 1)
	go func() { done <- srv.Start(context.Background()) }()
	srv.Shutdown()
	assert.NoError(t, <-done)
}
