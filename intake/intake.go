// Package intake accepts new messages into the node and posts them onto
// the inbox queue.
package intake

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/queue"
)

// Intake stamps incoming messages with their lifecycle start and hands
// them to the processing pipeline.
type Intake struct {
	jurisdiction message.Jurisdiction
	inbox        queue.Queue
	logger       *slog.Logger
	newRef       func() string
}

// Option configures an Intake.
type Option func(*Intake)

// WithRefGenerator replaces the sender_ref generator, for tests.
func WithRefGenerator(fn func() string) Option {
	return func(i *Intake) { i.newRef = fn }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Intake) { i.logger = logger }
}

// New returns an Intake for the local jurisdiction.
func New(jurisdiction message.Jurisdiction, inbox queue.Queue, opts ...Option) *Intake {
	i := &Intake{
		jurisdiction: jurisdiction,
		inbox:        inbox,
		logger:       slog.Default(),
		newRef:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Enqueue validates msg, stamps its sender_ref and status, and posts it to
// the inbox queue. Messages authored by the local jurisdiction get a
// generated sender_ref and start pending; foreign receipts must already
// carry their sender's reference and start received. The stamped message
// is returned.
func (i *Intake) Enqueue(ctx context.Context, msg *message.Message) (*message.Message, error) {
	stamped := msg.Clone()

	if stamped.Sender == i.jurisdiction {
		if stamped.SenderRef == "" {
			stamped.SenderRef = i.newRef()
		}
		stamped.Status = message.StatusPending
	} else {
		if stamped.SenderRef == "" {
			return nil, errors.WrapInvalid(errors.ErrBadParameters, "intake", "Enqueue",
				"foreign messages must carry sender_ref")
		}
		stamped.Status = message.StatusReceived
	}

	if errs := stamped.Validate(); len(errs) > 0 {
		details := make([]string, len(errs))
		for n, err := range errs {
			details[n] = err.Error()
		}
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "intake", "Enqueue",
			strings.Join(details, "; "))
	}

	if err := queue.PostJSON(ctx, i.inbox, stamped, 0); err != nil {
		return nil, errors.WrapTransient(err, "intake", "Enqueue", "post to inbox")
	}
	i.logger.Info("message enqueued",
		"ref", stamped.Reference(),
		"receiver", stamped.Receiver.String(),
		"status", stamped.Status.String())
	return stamped, nil
}
