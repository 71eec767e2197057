package event

import (
	"github.com/D-Robotics/x5-kernel-sub005/service/messaging/memory"
	"github.com/sirupsen/logrus"
)

// Option configures the event service
type Option func(s *Service)

// WithQueueConfig sets the memory queue configuration
func WithQueueConfig(config memory.Config) Option {
	return func(s *Service) {
		s.queueConfig = config
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}
