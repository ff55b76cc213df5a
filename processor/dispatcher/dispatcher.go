// Package dispatcher fans notification jobs out to subscribers: one
// notification becomes one delivery job per matching callback.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/queue"
	"github.com/trustbridge/intergov/subscription"
)

// Worker pulls one notification per step.
type Worker struct {
	notifications queue.Queue
	registry      *subscription.Registry
	deliveries    queue.Queue
	logger        *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New wires a dispatcher.
func New(notifications queue.Queue, registry *subscription.Registry, deliveries queue.Queue, opts ...Option) *Worker {
	w := &Worker{
		notifications: notifications,
		registry:      registry,
		deliveries:    deliveries,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "dispatcher" }

// Step fans out one notification. The notification is deleted only after
// every delivery job was enqueued; a crash part-way through re-fans the
// whole notification, and subscribers wear the duplicate.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	d, err := w.notifications.Get(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	var note queue.Notification
	if err := queue.DecodeJSON(d, &note); err != nil {
		_ = w.notifications.Delete(ctx, d)
		return true, err
	}

	topic, payload, err := expand(&note)
	if err != nil {
		_ = w.notifications.Delete(ctx, d)
		return true, err
	}

	callbacks, err := w.registry.Match(ctx, topic)
	if err != nil {
		if errors.IsInvalid(err) {
			// A topic that cannot parse never will, drop the job.
			_ = w.notifications.Delete(ctx, d)
		}
		return true, err
	}

	for _, callback := range callbacks {
		job := queue.CallbackJob{Callback: callback, Payload: payload}
		if err := queue.PostJSON(ctx, w.deliveries, job, 0); err != nil {
			// Leave the notification; re-enqueued duplicates are fine.
			return true, err
		}
	}
	if err := w.notifications.Delete(ctx, d); err != nil {
		return true, err
	}
	w.logger.Info("notification dispatched", "topic", topic, "subscribers", len(callbacks))
	return true, nil
}

// expand derives the topic and the callback payload from a notification.
func expand(note *queue.Notification) (string, json.RawMessage, error) {
	switch {
	case note.Message != nil:
		topic := note.Topic
		if topic == "" {
			topic = note.Message.Predicate.String()
		}
		payload, err := json.Marshal(note.Message)
		if err != nil {
			return "", nil, errors.WrapFatal(err, "dispatcher", "expand", "marshal message")
		}
		return topic, payload, nil
	case note.Topic != "" || note.Predicate != "":
		topic := note.Topic
		if topic == "" {
			topic = note.Predicate
		}
		payload, err := json.Marshal(map[string]string{
			"predicate":  topic,
			"sender_ref": note.SenderRef,
		})
		if err != nil {
			return "", nil, errors.WrapFatal(err, "dispatcher", "expand", "marshal payload")
		}
		return topic, payload, nil
	}
	return "", nil, errors.WrapInvalid(errors.ErrInvalidData, "dispatcher", "expand", "notification has no topic")
}
