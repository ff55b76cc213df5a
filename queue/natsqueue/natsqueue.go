// Package natsqueue backs queue.Queue with a JetStream work-queue stream
// and a shared durable pull consumer.
//
// Redelivery after the consumer's AckWait is what gives the node its
// visibility-timeout semantics, and the only mutual exclusion between
// workers pulling from the same queue. Delayed posts ride in the envelope:
// a worker that pulls an item before its not-before instant naks it back
// with the remaining delay.
package natsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/queue"
)

type envelope struct {
	NotBefore int64           `json:"not_before,omitempty"` // unix nanos
	Body      json.RawMessage `json:"body"`
}

// Queue is one named work queue on a JetStream cluster.
type Queue struct {
	js        jetstream.JetStream
	consumer  jetstream.Consumer
	name      string
	subject   string
	fetchWait time.Duration
	now       func() time.Time
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	visibility time.Duration
	fetchWait  time.Duration
}

// WithVisibility sets the consumer AckWait, the window an item stays
// invisible after a Get.
func WithVisibility(d time.Duration) Option {
	return func(o *options) { o.visibility = d }
}

// WithFetchWait bounds how long Get blocks waiting for an item.
func WithFetchWait(d time.Duration) Option {
	return func(o *options) { o.fetchWait = d }
}

// New creates or binds the stream and durable consumer for the named
// queue.
func New(ctx context.Context, js jetstream.JetStream, name string, opts ...Option) (*Queue, error) {
	o := options{
		visibility: 30 * time.Second,
		fetchWait:  time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	subject := "igl.queue." + name
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "IGL_Q_" + name,
		Subjects:  []string{subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsqueue", "New", "create stream for "+name)
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:    name,
		AckPolicy:  jetstream.AckExplicitPolicy,
		AckWait:    o.visibility,
		MaxDeliver: -1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsqueue", "New", "create consumer for "+name)
	}

	return &Queue{
		js:        js,
		consumer:  consumer,
		name:      name,
		subject:   subject,
		fetchWait: o.fetchWait,
		now:       time.Now,
	}, nil
}

// Post publishes body onto the queue's subject, wrapped with its
// not-before instant.
func (q *Queue) Post(ctx context.Context, body []byte, delay time.Duration) error {
	env := envelope{Body: body}
	if delay > 0 {
		env.NotBefore = q.now().Add(delay).UnixNano()
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, "natsqueue", "Post", "marshal envelope")
	}
	if _, err := q.js.Publish(ctx, q.subject, data); err != nil {
		return errors.WrapTransient(errors.ErrQueueUnavailable, "natsqueue", "Post",
			fmt.Sprintf("publish to %s: %v", q.name, err))
	}
	return nil
}

// Get fetches one item. Items whose not-before instant has not passed are
// nak'd back with the remaining delay and reported as an empty poll.
func (q *Queue) Get(ctx context.Context) (*queue.Delivery, error) {
	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(q.fetchWait))
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrQueueUnavailable, "natsqueue", "Get",
			fmt.Sprintf("fetch from %s: %v", q.name, err))
	}
	for msg := range batch.Messages() {
		var env envelope
		if err := json.Unmarshal(msg.Data(), &env); err != nil {
			// Poison envelope, nothing will ever decode it.
			_ = msg.Ack()
			return nil, errors.WrapInvalid(errors.ErrParsingFailed, "natsqueue", "Get",
				"drop undecodable envelope on "+q.name)
		}
		if env.NotBefore > 0 {
			if remaining := time.Unix(0, env.NotBefore).Sub(q.now()); remaining > 0 {
				_ = msg.NakWithDelay(remaining)
				continue
			}
		}
		meta, _ := msg.Metadata()
		receipt := ""
		if meta != nil {
			receipt = fmt.Sprintf("%s/%d", q.name, meta.Sequence.Stream)
		}
		return &queue.Delivery{
			Body:    env.Body,
			Receipt: receipt,
			Ack:     msg.DoubleAck,
		}, nil
	}
	if err := batch.Error(); err != nil {
		return nil, errors.WrapTransient(errors.ErrQueueUnavailable, "natsqueue", "Get",
			fmt.Sprintf("fetch from %s: %v", q.name, err))
	}
	return nil, nil
}

// Delete acknowledges the item so it is never redelivered. An ack the
// server no longer tracks, because the visibility window lapsed and the
// item was redelivered, is a no-op: the redelivery carries the job now
// and the handler is idempotent anyway.
func (q *Queue) Delete(ctx context.Context, d *queue.Delivery) error {
	if d == nil || d.Ack == nil {
		return nil
	}
	if err := d.Ack(ctx); err != nil {
		if isLapsedAck(err) {
			return nil
		}
		return errors.WrapTransient(err, "natsqueue", "Delete", "ack on "+q.name)
	}
	return nil
}

func isLapsedAck(err error) bool {
	return errors.Is(err, jetstream.ErrMsgAlreadyAckd) ||
		errors.Is(err, context.DeadlineExceeded)
}
