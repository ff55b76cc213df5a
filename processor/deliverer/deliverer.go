// Package deliverer POSTs callback payloads to subscriber endpoints.
package deliverer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/pkg/retry"
	"github.com/trustbridge/intergov/queue"
)

// MaxRetries is how many re-posts a callback job gets after its first
// failed attempt.
const MaxRetries = 2

// Worker delivers one callback job per step.
//
// The job is deleted from the queue before the POST is attempted, and a
// failed attempt is re-posted as a fresh job with a bumped retry counter.
// Holding the job under its visibility timeout for the length of an HTTP
// call would stall the queue; a crash mid-POST loses at most one attempt.
type Worker struct {
	deliveries queue.Queue
	hub        string
	client     *http.Client
	minDelay   time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Worker) { w.client = client }
}

// WithRetryDelay bounds the random delay before a re-posted attempt.
func WithRetryDelay(minDelay, maxDelay time.Duration) Option {
	return func(w *Worker) {
		w.minDelay = minDelay
		w.maxDelay = maxDelay
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New wires a deliverer. hub is the public URL subscribers can manage
// their subscription at; it rides along on every callback.
func New(deliveries queue.Queue, hub string, opts ...Option) *Worker {
	w := &Worker{
		deliveries: deliveries,
		hub:        hub,
		client:     &http.Client{Timeout: 30 * time.Second},
		minDelay:   time.Second,
		maxDelay:   10 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "deliverer" }

// Step delivers one callback job.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	d, err := w.deliveries.Get(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	var job queue.CallbackJob
	if err := queue.DecodeJSON(d, &job); err != nil {
		_ = w.deliveries.Delete(ctx, d)
		return true, err
	}
	if err := w.deliveries.Delete(ctx, d); err != nil {
		return true, err
	}

	if err := w.post(ctx, &job); err != nil {
		return true, w.requeue(ctx, &job, err)
	}
	w.logger.Info("callback delivered", "callback", job.Callback, "retry", job.Retry)
	return true, nil
}

func (w *Worker) post(ctx context.Context, job *queue.CallbackJob) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Callback, bytes.NewReader(job.Payload))
	if err != nil {
		return errors.WrapInvalid(err, "deliverer", "post", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if w.hub != "" {
		req.Header.Set("Link", fmt.Sprintf("<%s>; rel=%q", w.hub, "hub"))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "deliverer", "post", "callback unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.WrapTransient(errors.ErrDeliveryFailed, "deliverer", "post",
			fmt.Sprintf("callback answered %d", resp.StatusCode))
	}
	return nil
}

// requeue re-posts a failed job with a bumped retry counter, or drops it
// once the attempts are spent.
func (w *Worker) requeue(ctx context.Context, job *queue.CallbackJob, cause error) error {
	if job.Retry >= MaxRetries {
		w.logger.Error("callback undeliverable, dropping",
			"callback", job.Callback, "retry", job.Retry, "error", cause)
		return cause
	}
	next := queue.CallbackJob{
		Callback: job.Callback,
		Payload:  job.Payload,
		Retry:    job.Retry + 1,
	}
	delay := retry.RandomDelay(w.minDelay, w.maxDelay)
	if err := queue.PostJSON(ctx, w.deliveries, next, delay); err != nil {
		return err
	}
	w.logger.Warn("callback attempt failed, re-posted",
		"callback", job.Callback, "retry", next.Retry, "delay", delay, "error", cause)
	return nil
}
