// Package observability wires logging, Prometheus metrics and health
// probes for the relay service.
//
// Logging uses logrus throughout; Setup configures the process-wide
// logger once from config. Metrics carry the relay_ prefix and are
// registered against an explicit registry so tests can run side by side
// without duplicate-registration panics.
package observability
