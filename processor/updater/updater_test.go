package updater

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/queue"
	"github.com/trustbridge/intergov/queue/memqueue"
	"github.com/trustbridge/intergov/storage/memstore"
)

type fixture struct {
	worker  *Worker
	updates *memqueue.Queue
	lake    *lake.Lake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		updates: memqueue.New(),
		lake:    lake.New(memstore.New()),
	}
	f.worker = New(f.updates, lake.NewPatcher(f.lake, memqueue.New(), nil))

	msg := &message.Message{
		Sender:    "AU",
		Receiver:  "CN",
		Subject:   "QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n",
		Obj:       "https://originals.example.com/docs/coo-1234.json",
		Predicate: "UN.CEFACT.Trade.CertificateOfOrigin.created",
		SenderRef: "ref-0001",
		Status:    message.StatusPending,
	}
	require.NoError(t, f.lake.Put(context.Background(), msg))
	return f
}

func (f *fixture) post(t *testing.T, job queue.PatchJob) {
	t.Helper()
	require.NoError(t, queue.PostJSON(context.Background(), f.updates, job, 0))
}

func (f *fixture) empty(t *testing.T) {
	t.Helper()
	d, err := f.updates.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestEmptyQueue(t *testing.T) {
	f := newFixture(t)
	worked, err := f.worker.Step(context.Background())
	assert.NoError(t, err)
	assert.False(t, worked)
}

func TestPatchApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.post(t, queue.PatchJob{
		Reference:    "AU:ref-0001",
		Status:       "accepted",
		ChannelID:    "shared-db",
		ChannelTxnID: "txn-9",
	})

	worked, err := f.worker.Step(ctx)
	require.NoError(t, err)
	assert.True(t, worked)

	msg, err := f.lake.Get(ctx, "AU", "ref-0001")
	require.NoError(t, err)
	assert.Equal(t, message.StatusAccepted, msg.Status)
	assert.Equal(t, "shared-db", msg.ChannelID)
	assert.Equal(t, "txn-9", msg.ChannelTxnID)
	f.empty(t)
}

func TestUnknownReferenceDropped(t *testing.T) {
	f := newFixture(t)
	f.post(t, queue.PatchJob{Reference: "AU:nope", Status: "accepted"})

	worked, err := f.worker.Step(context.Background())
	assert.True(t, worked)
	assert.Error(t, err)
	f.empty(t)
}

func TestFinalStatusConflictDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.lake.UpdateMetadata(ctx, "AU", "ref-0001", lake.Metadata{Status: "rejected"}))
	f.post(t, queue.PatchJob{Reference: "AU:ref-0001", Status: "accepted"})

	worked, err := f.worker.Step(ctx)
	assert.True(t, worked)
	assert.Error(t, err)
	f.empty(t)

	msg, err := f.lake.Get(ctx, "AU", "ref-0001")
	require.NoError(t, err)
	assert.Equal(t, message.StatusRejected, msg.Status)
}

func TestPoisonJobDropped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.updates.Post(ctx, []byte("{{"), 0))

	worked, err := f.worker.Step(ctx)
	assert.True(t, worked)
	assert.Error(t, err)
	f.empty(t)
}
