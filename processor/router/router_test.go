package router

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbridge/intergov/channel"
	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/outbox"
	"github.com/trustbridge/intergov/outbox/memkv"
	"github.com/trustbridge/intergov/queue"
	"github.com/trustbridge/intergov/queue/memqueue"
)

// failingQueue rejects posts while fail is set.
type failingQueue struct {
	queue.Queue
	fail bool
}

func (q *failingQueue) Post(ctx context.Context, body []byte, delay time.Duration) error {
	if q.fail {
		return errors.WrapTransient(errors.ErrQueueUnavailable, "failingqueue", "Post", "down")
	}
	return q.Queue.Post(ctx, body, delay)
}

func sampleMessage(ref string) *message.Message {
	return &message.Message{
		Sender:    "AU",
		Receiver:  "CN",
		Subject:   "QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n",
		Obj:       "https://originals.example.com/docs/coo-1234.json",
		Predicate: "UN.CEFACT.Trade.CertificateOfOrigin.created",
		SenderRef: ref,
		Status:    message.StatusPending,
	}
}

func cnRule(name string) channel.Rule {
	return channel.Rule{Name: name, Jurisdiction: "CN", Predicate: "UN.CEFACT.Trade"}
}

func TestNothingPending(t *testing.T) {
	ob := outbox.New(memkv.New())
	w := New(ob, channel.NewRouter(slog.Default()), memqueue.New(), memqueue.New())
	worked, err := w.Step(context.Background())
	assert.NoError(t, err)
	assert.False(t, worked)
}

func TestRoutedAndAccepted(t *testing.T) {
	ctx := context.Background()
	ob := outbox.New(memkv.New())
	ch := channel.NewMemoryChannel("shared-db")
	r := channel.NewRouter(slog.Default())
	r.AddRule(cnRule("cn-trade"), ch)
	updates := memqueue.New()
	w := New(ob, r, updates, memqueue.New())

	msg := sampleMessage("ref-1")
	key, err := ob.Add(ctx, msg)
	require.NoError(t, err)

	worked, err := w.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	rec, err := ob.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusAccepted, rec.Status)
	require.Len(t, ch.Sent(), 1)

	d, err := updates.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	var patch queue.PatchJob
	require.NoError(t, queue.DecodeJSON(d, &patch))
	assert.Equal(t, "AU:ref-1", patch.Reference)
	assert.Equal(t, "accepted", patch.Status)
	assert.Equal(t, "shared-db", patch.ChannelID)
	assert.NotEmpty(t, patch.ChannelTxnID)
}

func TestScreeningChannelSkipped(t *testing.T) {
	ctx := context.Background()
	ob := outbox.New(memkv.New())
	screening := channel.NewMemoryChannel("first")
	screening.SetFilter(channel.NewFilter()) // fresh filter screens everything
	open := channel.NewMemoryChannel("second")
	r := channel.NewRouter(slog.Default())
	r.AddRule(cnRule("first"), screening)
	r.AddRule(cnRule("second"), open)
	updates := memqueue.New()
	w := New(ob, r, updates, memqueue.New())

	_, err := ob.Add(ctx, sampleMessage("ref-2"))
	require.NoError(t, err)

	_, err = w.Step(ctx)
	require.NoError(t, err)
	assert.Empty(t, screening.Sent())
	require.Len(t, open.Sent(), 1)
}

func TestRouteFailureReleases(t *testing.T) {
	ctx := context.Background()
	ob := outbox.New(memkv.New())
	ch := channel.NewMemoryChannel("flaky")
	ch.SetFailing(true)
	r := channel.NewRouter(slog.Default())
	r.AddRule(cnRule("flaky"), ch)
	w := New(ob, r, memqueue.New(), memqueue.New())

	msg := sampleMessage("ref-3")
	key, err := ob.Add(ctx, msg)
	require.NoError(t, err)

	worked, err := w.Step(ctx)
	assert.True(t, worked)
	assert.Error(t, err)

	rec, err := ob.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.False(t, rec.NotBefore.IsZero())
}

func TestReleasedRecordHeldForJitterWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	ob := outbox.New(memkv.New(), outbox.WithClock(func() time.Time { return now }))
	ch := channel.NewMemoryChannel("flaky")
	ch.SetFailing(true)
	r := channel.NewRouter(slog.Default())
	r.AddRule(cnRule("flaky"), ch)
	w := New(ob, r, memqueue.New(), memqueue.New(), WithRetryDelay(time.Minute, time.Minute))

	_, err := ob.Add(ctx, sampleMessage("ref-7"))
	require.NoError(t, err)

	_, err = w.Step(ctx)
	require.Error(t, err)

	// Held back for the full minute; another claim finds nothing.
	worked, err := w.Step(ctx)
	assert.NoError(t, err)
	assert.False(t, worked)

	now = now.Add(time.Minute + time.Second)
	worked, err = w.Step(ctx)
	assert.Error(t, err)
	assert.True(t, worked)
	assert.Len(t, ch.Sent(), 0)
}

func TestExhaustedAttemptsRejected(t *testing.T) {
	ctx := context.Background()
	ob := outbox.New(memkv.New())
	ch := channel.NewMemoryChannel("down")
	ch.SetFailing(true)
	r := channel.NewRouter(slog.Default())
	r.AddRule(cnRule("down"), ch)
	rejected := memqueue.New()
	w := New(ob, r, memqueue.New(), rejected, WithMaxAttempts(2), WithRetryDelay(0, 0))

	msg := sampleMessage("ref-4")
	key, err := ob.Add(ctx, msg)
	require.NoError(t, err)

	// First claim fails and releases; the second has run out of attempts.
	_, err = w.Step(ctx)
	require.Error(t, err)
	worked, err := w.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	rec, err := ob.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusRejected, rec.Status)

	d, err := rejected.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	var body message.Message
	require.NoError(t, queue.DecodeJSON(d, &body))
	assert.Equal(t, "AU:ref-4", body.Reference())
}

func TestFailedPatchPostLeavesRecordRoutable(t *testing.T) {
	ctx := context.Background()
	ob := outbox.New(memkv.New())
	ch := channel.NewMemoryChannel("shared-db")
	r := channel.NewRouter(slog.Default())
	r.AddRule(cnRule("cn-trade"), ch)
	updates := &failingQueue{Queue: memqueue.New(), fail: true}
	w := New(ob, r, updates, memqueue.New(), WithRetryDelay(0, 0))

	msg := sampleMessage("ref-5")
	key, err := ob.Add(ctx, msg)
	require.NoError(t, err)

	// Channel accepts the message but the patch cannot be queued; the
	// record must stay claimable or the stored message never leaves
	// pending.
	worked, err := w.Step(ctx)
	assert.True(t, worked)
	require.Error(t, err)

	rec, err := ob.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPending, rec.Status)

	updates.fail = false
	_, err = w.Step(ctx)
	require.NoError(t, err)

	rec, err = ob.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusAccepted, rec.Status)

	d, err := updates.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	var patch queue.PatchJob
	require.NoError(t, queue.DecodeJSON(d, &patch))
	assert.Equal(t, "AU:ref-5", patch.Reference)
	assert.Equal(t, "accepted", patch.Status)
}

func TestFailedRejectPostLeavesRecordRoutable(t *testing.T) {
	ctx := context.Background()
	ob := outbox.New(memkv.New())
	ch := channel.NewMemoryChannel("down")
	ch.SetFailing(true)
	r := channel.NewRouter(slog.Default())
	r.AddRule(cnRule("down"), ch)
	rejected := &failingQueue{Queue: memqueue.New(), fail: true}
	w := New(ob, r, memqueue.New(), rejected, WithMaxAttempts(1), WithRetryDelay(0, 0))

	msg := sampleMessage("ref-6")
	key, err := ob.Add(ctx, msg)
	require.NoError(t, err)

	_, err = w.Step(ctx)
	require.Error(t, err)

	rec, err := ob.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPending, rec.Status)

	rejected.fail = false
	_, err = w.Step(ctx)
	require.NoError(t, err)

	rec, err = ob.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusRejected, rec.Status)

	d, err := rejected.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
}
