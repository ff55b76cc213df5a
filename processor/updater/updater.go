// Package updater applies queued metadata patches to the message lake.
package updater

import (
	"context"
	"log/slog"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/queue"
)

// Worker applies one patch job per step.
type Worker struct {
	updates queue.Queue
	patcher *lake.Patcher
	logger  *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New wires an updater.
func New(updates queue.Queue, patcher *lake.Patcher, opts ...Option) *Worker {
	w := &Worker{
		updates: updates,
		patcher: patcher,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "updater" }

// Step pulls one patch job and applies it. Jobs that can never apply,
// malformed ones and patches the lake permanently refuses, are deleted;
// transient failures leave the job for redelivery.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	d, err := w.updates.Get(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	var job queue.PatchJob
	if err := queue.DecodeJSON(d, &job); err != nil {
		_ = w.updates.Delete(ctx, d)
		return true, err
	}

	req := lake.PatchRequest{
		Status:       job.Status,
		ChannelID:    job.ChannelID,
		ChannelTxnID: job.ChannelTxnID,
	}
	if _, err := w.patcher.Patch(ctx, job.Reference, req); err != nil {
		if errors.IsInvalid(err) || errors.IsConflict(err) || errors.IsNotFound(err) {
			w.logger.Warn("patch job refused, dropping", "ref", job.Reference, "error", err)
			_ = w.updates.Delete(ctx, d)
			return true, err
		}
		return true, err
	}

	if err := w.updates.Delete(ctx, d); err != nil {
		return true, err
	}
	w.logger.Info("message patched", "ref", job.Reference, "status", job.Status)
	return true, nil
}
