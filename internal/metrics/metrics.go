// Package metrics provides a small instrumentation interface with a no-op
// default and a Prometheus-backed implementation.
package metrics

import "time"

// Recorder defines the metrics surface used across the codebase.
type Recorder interface {
	// ObserveTask records one finished scoring task.
	ObserveTask(d time.Duration, pairs int, err error)
	// IncPublish records one snapshot handed to subscribers after a store mutation.
	IncPublish(op string, nodes, links int)
	// ObserveStoreOp records a persistence operation.
	ObserveStoreOp(op string, success bool, seconds float64)
}

type noopRecorder struct{}

func (noopRecorder) ObserveTask(time.Duration, int, error) {}
func (noopRecorder) IncPublish(string, int, int)           {}
func (noopRecorder) ObserveStoreOp(string, bool, float64)  {}

// NewNoopRecorder returns a Recorder that discards everything.
func NewNoopRecorder() Recorder {
	return noopRecorder{}
}

// TimeOp times a persistence operation against r.
func TimeOp(r Recorder, op string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		r.ObserveStoreOp(op, success, time.Since(start).Seconds())
	}
}
