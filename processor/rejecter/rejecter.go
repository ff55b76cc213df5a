// Package rejecter finalises messages the channel router gave up on.
package rejecter

import (
	"context"
	"log/slog"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/queue"
)

// Worker marks one unroutable message rejected per step.
type Worker struct {
	rejected queue.Queue
	patcher  *lake.Patcher
	logger   *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New wires a rejecter.
func New(rejected queue.Queue, patcher *lake.Patcher, opts ...Option) *Worker {
	w := &Worker{
		rejected: rejected,
		patcher:  patcher,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "rejecter" }

// Step patches one queued message to rejected. A message that already
// reached a final status cannot be moved; redelivering the job would not
// change that, so conflicts are dropped with a log line. Patching an
// already rejected message is a no-op and counts as success.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	d, err := w.rejected.Get(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	msg, err := message.FromJSON(d.Body)
	if err != nil {
		_ = w.rejected.Delete(ctx, d)
		return true, err
	}

	req := lake.PatchRequest{Status: message.StatusRejected.String()}
	if _, err := w.patcher.Patch(ctx, msg.Reference(), req); err != nil {
		if errors.IsConflict(err) || errors.IsNotFound(err) || errors.IsInvalid(err) {
			w.logger.Warn("rejection not applicable, dropping",
				"ref", msg.Reference(), "error", err)
			_ = w.rejected.Delete(ctx, d)
			return true, err
		}
		return true, err
	}

	if err := w.rejected.Delete(ctx, d); err != nil {
		return true, err
	}
	w.logger.Info("message rejected", "ref", msg.Reference())
	return true, nil
}
