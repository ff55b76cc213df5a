package inbound

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbridge/intergov/acl"
	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/outbox"
	"github.com/trustbridge/intergov/outbox/memkv"
	"github.com/trustbridge/intergov/queue"
	"github.com/trustbridge/intergov/queue/memqueue"
	"github.com/trustbridge/intergov/storage/memstore"
)

type fixture struct {
	worker        *Worker
	inbox         *memqueue.Queue
	lake          *lake.Lake
	acl           *acl.Store
	outbox        *outbox.Store
	notifications *memqueue.Queue
	retrievals    *memqueue.Queue
}

func newFixture(jurisdiction message.Jurisdiction) *fixture {
	f := &fixture{
		inbox:         memqueue.New(),
		lake:          lake.New(memstore.New()),
		acl:           acl.New(memstore.New()),
		outbox:        outbox.New(memkv.New()),
		notifications: memqueue.New(),
		retrievals:    memqueue.New(),
	}
	f.worker = New(jurisdiction, f.inbox, f.lake, f.acl, f.outbox, f.notifications, f.retrievals)
	return f
}

func sampleMessage(sender, receiver message.Jurisdiction, status message.Status) *message.Message {
	return &message.Message{
		Sender:    sender,
		Receiver:  receiver,
		Subject:   "QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n",
		Obj:       "https://originals.example.com/docs/coo-1234.json",
		Predicate: "UN.CEFACT.Trade.CertificateOfOrigin.created",
		SenderRef: "ref-0001",
		Status:    status,
	}
}

func pull(t *testing.T, q *memqueue.Queue) *queue.Delivery {
	t.Helper()
	d, err := q.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

func TestEmptyInbox(t *testing.T) {
	f := newFixture("AU")
	worked, err := f.worker.Step(context.Background())
	assert.NoError(t, err)
	assert.False(t, worked)
}

func TestPendingLocalMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture("AU")
	msg := sampleMessage("AU", "CN", message.StatusPending)
	require.NoError(t, queue.PostJSON(ctx, f.inbox, msg, 0))

	worked, err := f.worker.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	stored, err := f.lake.Get(ctx, "AU", "ref-0001")
	require.NoError(t, err)
	assert.Equal(t, message.StatusPending, stored.Status)

	ok, err := f.acl.HasAccess(ctx, msg.Obj, "CN")
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := f.outbox.Get(ctx, outbox.Key(msg))
	require.NoError(t, err)
	assert.Equal(t, outbox.StatusPending, rec.Status)

	d := pull(t, f.notifications)
	var note queue.Notification
	require.NoError(t, queue.DecodeJSON(d, &note))
	require.NotNil(t, note.Message)
	assert.Equal(t, "AU:ref-0001", note.Message.Reference())

	// A local pending message never triggers a retrieval.
	empty, err := f.retrievals.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	// The inbox item was deleted.
	left, err := f.inbox.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestReceivedForeignMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture("AU")
	msg := sampleMessage("CN", "AU", message.StatusReceived)
	require.NoError(t, queue.PostJSON(ctx, f.inbox, msg, 0))

	worked, err := f.worker.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	d := pull(t, f.retrievals)
	var job queue.RetrievalJob
	require.NoError(t, queue.DecodeJSON(d, &job))
	assert.Equal(t, queue.RetrievalDownload, job.Action)
	assert.Equal(t, "CN", job.Sender)
	assert.Equal(t, msg.Obj.String(), job.Object)

	// Foreign messages stay out of the channel outbox.
	_, err = f.outbox.Get(ctx, outbox.Key(msg))
	assert.Error(t, err)
}

func TestRedeliveredMessageToleratesDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture("AU")
	msg := sampleMessage("AU", "CN", message.StatusPending)

	require.NoError(t, queue.PostJSON(ctx, f.inbox, msg, 0))
	_, err := f.worker.Step(ctx)
	require.NoError(t, err)

	// Same message delivered twice: the outbox duplicate is tolerated.
	require.NoError(t, queue.PostJSON(ctx, f.inbox, msg, 0))
	worked, err := f.worker.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)
}

func TestPoisonPayloadDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture("AU")
	require.NoError(t, f.inbox.Post(ctx, []byte("not json"), 0))

	worked, err := f.worker.Step(ctx)
	assert.True(t, worked)
	assert.Error(t, err)

	left, err := f.inbox.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, left)
}

func TestInvalidMessageDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture("AU")
	msg := sampleMessage("AU", "CN", message.StatusPending)
	msg.Receiver = "XX"
	require.NoError(t, queue.PostJSON(ctx, f.inbox, msg, 0))

	worked, err := f.worker.Step(ctx)
	assert.True(t, worked)
	assert.Error(t, err)

	_, err = f.lake.Get(ctx, "AU", "ref-0001")
	assert.Error(t, err)
}
