// Package processor runs the node's workers as single-threaded poll
// loops.
//
// Every worker pulls one unit of work per step. There is no in-process
// parallelism; scaling out means running more processes against the same
// queues, with queue visibility timeouts as the only mutual exclusion.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/trustbridge/intergov/metric"
)

// Worker does one unit of work per call. Step reports whether it found
// anything to do; an error leaves the unit for redelivery unless the
// worker already disposed of it.
type Worker interface {
	Name() string
	Step(ctx context.Context) (bool, error)
}

// Loop drives a Worker until its context is cancelled.
type Loop struct {
	worker     Worker
	logger     *slog.Logger
	metrics    *metric.Registry
	idleSleep  time.Duration
	errorSleep time.Duration
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *metric.Registry) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithIdleSleep sets the pause after an empty poll.
func WithIdleSleep(d time.Duration) LoopOption {
	return func(l *Loop) { l.idleSleep = d }
}

// WithErrorSleep sets the pause after a failed step.
func WithErrorSleep(d time.Duration) LoopOption {
	return func(l *Loop) { l.errorSleep = d }
}

// NewLoop wraps worker.
func NewLoop(worker Worker, opts ...LoopOption) *Loop {
	l := &Loop{
		worker:     worker,
		logger:     slog.Default(),
		idleSleep:  time.Second,
		errorSleep: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("worker", worker.Name())
	return l
}

// Run polls until ctx is cancelled. It always returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker started")
	defer l.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		did, err := l.worker.Step(ctx)
		switch {
		case err != nil:
			if l.metrics != nil {
				l.metrics.JobFailed(l.worker.Name())
			}
			l.logger.Error("step failed", "error", err)
			if !sleep(ctx, l.errorSleep) {
				return ctx.Err()
			}
		case !did:
			if l.metrics != nil {
				l.metrics.EmptyPoll(l.worker.Name())
			}
			if !sleep(ctx, l.idleSleep) {
				return ctx.Err()
			}
		default:
			if l.metrics != nil {
				l.metrics.JobProcessed(l.worker.Name())
			}
		}
	}
}

// sleep waits for d, reporting false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
