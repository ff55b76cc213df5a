// Package queue defines the job queue contract every worker pulls from.
//
// Queues deliver at least once. A Get makes the item invisible to other
// consumers for the backend's visibility timeout; Delete removes it for
// good. Workers that crash mid-job simply let the item reappear, so every
// job handler must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trustbridge/intergov/errors"
)

// Delivery is one item pulled from a queue. Receipt identifies the item to
// the backend; Ack, when set, is how the backend removes it.
type Delivery struct {
	Body    []byte
	Receipt string
	Ack     func(ctx context.Context) error
}

// Queue is the minimal at-least-once queue contract. Implementations must
// be safe for concurrent use.
type Queue interface {
	// Post enqueues body, invisible until delay has passed.
	Post(ctx context.Context, body []byte, delay time.Duration) error

	// Get pulls one item, or (nil, nil) when nothing is ready. The item
	// stays invisible to other consumers until deleted or the visibility
	// timeout lapses.
	Get(ctx context.Context) (*Delivery, error)

	// Delete permanently removes a previously pulled item. Deleting an
	// item whose visibility already lapsed is a no-op.
	Delete(ctx context.Context, d *Delivery) error
}

// PostJSON marshals v and posts it.
func PostJSON(ctx context.Context, q Queue, v any, delay time.Duration) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "queue", "PostJSON", "marshal job")
	}
	return q.Post(ctx, body, delay)
}

// DecodeJSON unmarshals a pulled item into v. Failures are invalid, the
// payload will not improve on redelivery.
func DecodeJSON(d *Delivery, v any) error {
	if err := json.Unmarshal(d.Body, v); err != nil {
		return errors.WrapInvalid(errors.ErrParsingFailed, "queue", "DecodeJSON", err.Error())
	}
	return nil
}
