package bpu

import (
	"github.com/D-Robotics/x5-kernel-sub005/service/backend"
	"github.com/D-Robotics/x5-kernel-sub005/service/event"
	"github.com/D-Robotics/x5-kernel-sub005/tracing"
	"github.com/sirupsen/logrus"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Option configures the pool service
type Option func(s *Service)

// WithConfig sets the pool configuration
func WithConfig(config *Config) Option {
	return func(s *Service) {
		s.config = config
	}
}

// WithLogger sets the logger shared by every core and service
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithBackend registers a hardware backend at construction time
func WithBackend(be backend.Backend) Option {
	return func(s *Service) {
		s.initialBackend = be
	}
}

// WithEventHandler installs a listener for core and task lifecycle events
func WithEventHandler(handler func(*event.Event[event.Notice])) Option {
	return func(s *Service) {
		s.eventHandler = handler
	}
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile is empty the
// stdout exporter is used; otherwise traces are written to the supplied file path. The function is
// safe to call multiple times; the first successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom SpanExporter, for example
// OTLP, Jaeger or Zipkin. The first successful initialisation wins.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
