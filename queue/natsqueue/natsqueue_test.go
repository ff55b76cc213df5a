package natsqueue

import (
	"context"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/queue"
)

func TestDeleteNilDeliveryIsNoOp(t *testing.T) {
	q := &Queue{name: "updates"}
	assert.NoError(t, q.Delete(context.Background(), nil))
	assert.NoError(t, q.Delete(context.Background(), &queue.Delivery{}))
}

func TestDeleteAfterVisibilityLapseIsNoOp(t *testing.T) {
	q := &Queue{name: "updates"}
	for _, ackErr := range []error{
		jetstream.ErrMsgAlreadyAckd,
		context.DeadlineExceeded,
	} {
		d := &queue.Delivery{
			Ack: func(context.Context) error { return ackErr },
		}
		assert.NoError(t, q.Delete(context.Background(), d), "ack error %v", ackErr)
	}
}

func TestDeleteAckFailureIsTransient(t *testing.T) {
	q := &Queue{name: "updates"}
	d := &queue.Delivery{
		Ack: func(context.Context) error { return fmt.Errorf("broken pipe") },
	}
	err := q.Delete(context.Background(), d)
	assert.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
