// Package otel provides OpenTelemetry tracing for latches and named mutexes.
// Waits, acquisitions and hold periods become spans whose start times are
// back-dated by the measured duration, so they line up with the caller's own
// spans. Nop is a drop-in observer that records nothing.
package otel
