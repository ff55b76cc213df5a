package memqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostGetDelete(t *testing.T) {
	ctx := context.Background()
	q := New()

	require.NoError(t, q.Post(ctx, []byte("job"), 0))
	d, err := q.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []byte("job"), d.Body)

	require.NoError(t, q.Delete(ctx, d))
	assert.Equal(t, 0, q.Len())
}

func TestGetEmptyReturnsNil(t *testing.T) {
	q := New()
	d, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestLeasedItemInvisibleUntilTimeout(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := &now
	q := New(
		WithVisibility(30*time.Second),
		WithClock(func() time.Time { return *clock }),
	)
	require.NoError(t, q.Post(ctx, []byte("job"), 0))

	first, err := q.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, second, "leased item must be invisible")

	// After the visibility timeout it comes back.
	later := now.Add(31 * time.Second)
	clock = &later
	third, err := q.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, []byte("job"), third.Body)
	assert.Equal(t, first.Receipt, third.Receipt)
}

func TestDelayedItemHiddenUntilDue(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := &now
	q := New(WithClock(func() time.Time { return *clock }))
	require.NoError(t, q.Post(ctx, []byte("later"), 10*time.Second))

	d, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)

	due := now.Add(11 * time.Second)
	clock = &due
	d, err = q.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, []byte("later"), d.Body)
}

func TestFIFOAcrossReadyItems(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Post(ctx, []byte("one"), 0))
	require.NoError(t, q.Post(ctx, []byte("two"), 0))

	d, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), d.Body)
}

func TestDeleteUnknownReceiptIsNoOp(t *testing.T) {
	ctx := context.Background()
	q := New()
	require.NoError(t, q.Post(ctx, []byte("job"), 0))
	d, err := q.Get(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Delete(ctx, d))
	require.NoError(t, q.Delete(ctx, d))
	require.NoError(t, q.Delete(ctx, nil))
	assert.Equal(t, 0, q.Len())
}
