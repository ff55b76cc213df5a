// Package inbound processes newly enqueued messages: one pull from the
// inbox fans out into the lake, the ACL, the channel outbox and the
// notification queue.
package inbound

import (
	"context"
	"log/slog"

	"github.com/trustbridge/intergov/acl"
	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/outbox"
	"github.com/trustbridge/intergov/queue"
)

// Worker pulls one message per step from the inbox queue.
//
// Every substep is idempotent, so a crash between substeps just means the
// redelivered message repeats work already done. The inbox item is only
// deleted once every substep succeeded.
type Worker struct {
	jurisdiction  message.Jurisdiction
	inbox         queue.Queue
	lake          *lake.Lake
	acl           *acl.Store
	outbox        *outbox.Store
	notifications queue.Queue
	retrievals    queue.Queue
	logger        *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New wires an inbound worker for the local jurisdiction.
func New(
	jurisdiction message.Jurisdiction,
	inbox queue.Queue,
	l *lake.Lake,
	aclStore *acl.Store,
	ob *outbox.Store,
	notifications queue.Queue,
	retrievals queue.Queue,
	opts ...Option,
) *Worker {
	w := &Worker{
		jurisdiction:  jurisdiction,
		inbox:         inbox,
		lake:          l,
		acl:           aclStore,
		outbox:        ob,
		notifications: notifications,
		retrievals:    retrievals,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "inbound" }

// Step processes one inbox item.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	d, err := w.inbox.Get(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	msg, err := message.FromJSON(d.Body)
	if err != nil || !msg.IsValid() {
		// Redelivery cannot fix a bad payload, drop it.
		_ = w.inbox.Delete(ctx, d)
		return true, errors.WrapInvalid(errors.ErrInvalidData, "inbound", "Step", "dropped undecodable inbox item")
	}

	if err := w.process(ctx, msg); err != nil {
		// Leave the item for redelivery.
		return true, err
	}

	if err := w.inbox.Delete(ctx, d); err != nil {
		return true, err
	}
	w.logger.Info("message processed", "ref", msg.Reference(), "status", msg.Status.String())
	return true, nil
}

func (w *Worker) process(ctx context.Context, msg *message.Message) error {
	if err := w.lake.Put(ctx, msg); err != nil {
		return err
	}
	if err := w.acl.AllowAccessFor(ctx, msg); err != nil {
		return err
	}

	switch {
	case msg.Status == message.StatusReceived && msg.Sender != w.jurisdiction:
		job := queue.RetrievalJob{
			Action: queue.RetrievalDownload,
			Sender: msg.Sender.String(),
			Object: msg.Obj.String(),
		}
		if err := queue.PostJSON(ctx, w.retrievals, job, 0); err != nil {
			return err
		}
	case msg.Status == message.StatusPending && msg.Sender == w.jurisdiction:
		if _, err := w.outbox.Add(ctx, msg); err != nil && !errors.IsConflict(err) {
			// A duplicate means a redelivered item already added it.
			return err
		}
	}

	note := queue.Notification{Message: msg}
	if err := queue.PostJSON(ctx, w.notifications, note, 0); err != nil {
		return err
	}
	return nil
}
