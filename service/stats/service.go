package stats

import (
	"context"
	"time"

	"github.com/D-Robotics/x5-kernel-sub005/internal/clock"
)

// Config represents the decay configuration
type Config struct {
	// DecayInterval is how often every registered meter is decayed
	DecayInterval time.Duration `yaml:"decayInterval"`
	// DecayCoefficient divides the accumulators on every decay
	DecayCoefficient int `yaml:"decayCoefficient"`
}

// DefaultConfig returns the default decay configuration
func DefaultConfig() Config {
	return Config{
		DecayInterval:    2 * time.Second,
		DecayCoefficient: 2,
	}
}

// Source lists the meters to decay; it is called on every tick so meters of
// entities created after Start are included.
type Source func() []*Meter

// Service periodically decays running ratios
type Service struct {
	config     Config
	source     Source
	shutdownCh chan struct{}
}

// New creates a decay service
func New(source Source, config Config) *Service {
	if config.DecayInterval <= 0 {
		config.DecayInterval = DefaultConfig().DecayInterval
	}
	return &Service{
		config:     config,
		source:     source,
		shutdownCh: make(chan struct{}),
	}
}

// Start runs the decay loop until ctx is done or Shutdown is called
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			s.Decay()
		}
	}
}

// Decay applies one decay step to every meter
func (s *Service) Decay() {
	now := clock.Now()
	for _, meter := range s.source() {
		if meter != nil {
			meter.Decay(now, s.config.DecayCoefficient)
		}
	}
}

// Shutdown stops the decay loop
func (s *Service) Shutdown() {
	close(s.shutdownCh)
}
