// Package router drives the channel outbox: it claims pending records,
// hands them to the channel router and reports the outcome back into the
// message lake via patch jobs.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/trustbridge/intergov/channel"
	"github.com/trustbridge/intergov/outbox"
	"github.com/trustbridge/intergov/pkg/retry"
	"github.com/trustbridge/intergov/queue"
)

// Worker routes one claimed outbox record per step.
type Worker struct {
	outbox      *outbox.Store
	router      *channel.Router
	updates     queue.Queue
	rejected    queue.Queue
	maxAttempts int
	minDelay    time.Duration
	maxDelay    time.Duration
	logger      *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMaxAttempts sets how many routing attempts a record gets before it
// is rejected for good.
func WithMaxAttempts(n int) Option {
	return func(w *Worker) { w.maxAttempts = n }
}

// WithRetryDelay bounds the random hold applied to a released record, so
// parallel workers do not retry a failing message in lockstep.
func WithRetryDelay(minDelay, maxDelay time.Duration) Option {
	return func(w *Worker) {
		w.minDelay = minDelay
		w.maxDelay = maxDelay
	}
}

// New wires a router worker. updates receives patch jobs for delivered
// messages; rejected receives the message bodies of records that ran out
// of attempts.
func New(ob *outbox.Store, r *channel.Router, updates, rejected queue.Queue, opts ...Option) *Worker {
	w := &Worker{
		outbox:      ob,
		router:      r,
		updates:     updates,
		rejected:    rejected,
		maxAttempts: 10,
		minDelay:    time.Second,
		maxDelay:    10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "router" }

// Step claims and routes one pending outbox record.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	claimed, err := w.outbox.NextPending(ctx)
	if err != nil {
		return false, err
	}
	if claimed == nil {
		return false, nil
	}

	msg := claimed.Record.Message
	res, err := w.router.Route(ctx, &msg)
	if err != nil {
		if claimed.Record.Attempts >= w.maxAttempts {
			return true, w.reject(ctx, claimed)
		}
		if relErr := w.release(ctx, claimed); relErr != nil {
			return true, relErr
		}
		return true, err
	}

	txnID := res.ChannelTxnID
	if txnID == "" {
		// Channels without transaction ids still need the pair set
		// together; the outbox key is stable and unique per message.
		txnID = claimed.Key
	}

	// The patch job goes out before the record is finalised: a finalised
	// record is never claimed again, so a job lost after MarkAccepted
	// would strand the stored message in pending forever. Posting first
	// risks only a duplicate patch, which the updater applies as a no-op.
	patch := queue.PatchJob{
		Reference:    msg.Reference(),
		Status:       "accepted",
		ChannelID:    res.ChannelID,
		ChannelTxnID: txnID,
	}
	if err := queue.PostJSON(ctx, w.updates, patch, 0); err != nil {
		if relErr := w.release(ctx, claimed); relErr != nil {
			w.logger.Error("release after failed patch post",
				"ref", msg.Reference(), "error", relErr)
		}
		return true, err
	}
	if err := w.outbox.MarkAccepted(ctx, claimed); err != nil {
		return true, err
	}
	w.logger.Info("message routed",
		"ref", msg.Reference(), "channel", res.ChannelID, "txn", txnID)
	return true, nil
}

// release returns the claim to pending behind a random hold.
func (w *Worker) release(ctx context.Context, claimed *outbox.Claimed) error {
	return w.outbox.ReleaseAfter(ctx, claimed, retry.RandomDelay(w.minDelay, w.maxDelay))
}

// reject hands the message body to the rejection handler and then
// finalises the record, in that order for the same reason Step posts the
// patch job first.
func (w *Worker) reject(ctx context.Context, claimed *outbox.Claimed) error {
	if err := queue.PostJSON(ctx, w.rejected, &claimed.Record.Message, 0); err != nil {
		if relErr := w.outbox.Release(ctx, claimed); relErr != nil {
			w.logger.Error("release after failed reject post",
				"ref", claimed.Record.Message.Reference(), "error", relErr)
		}
		return err
	}
	if err := w.outbox.MarkRejected(ctx, claimed); err != nil {
		return err
	}
	w.logger.Warn("message unroutable, rejecting",
		"ref", claimed.Record.Message.Reference(),
		"attempts", claimed.Record.Attempts)
	return nil
}
