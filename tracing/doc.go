// Package tracing wraps OpenTelemetry so that the scheduler records spans
// around its blocking control paths (core reset, disable, frequency changes)
// without importing the upstream packages everywhere. Spans are no-op until
// Init installs a provider.
package tracing
