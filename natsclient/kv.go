package natsclient

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/trustbridge/intergov/errors"
)

// KVOptions configures KV operation behaviour.
type KVOptions struct {
	Timeout time.Duration // per-operation timeout
}

// DefaultKVOptions returns the default operation timeout.
func DefaultKVOptions() KVOptions {
	return KVOptions{Timeout: 5 * time.Second}
}

// KVStore wraps a KV bucket with compare-and-swap helpers. Not-found and
// revision-mismatch failures surface as the node's classified sentinels so
// callers need no NATS knowledge.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
}

// NewKVStore wraps bucket.
func NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{bucket: bucket, options: options}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

// Get returns the value and revision at key.
func (kv *KVStore) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if isKVNotFound(err) {
			return nil, 0, errors.WrapNotFound(errors.ErrNotFound, "natsclient", "Get", "kv key "+key)
		}
		return nil, 0, errors.WrapTransient(err, "natsclient", "Get", "kv get "+key)
	}
	return entry.Value(), entry.Revision(), nil
}

// Create writes key only if it does not exist yet.
func (kv *KVStore) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Create(ctx, key, value)
	if err != nil {
		if isKVConflict(err) {
			return 0, errors.WrapConflict(errors.ErrConflict, "natsclient", "Create", "kv key exists "+key)
		}
		return 0, errors.WrapTransient(err, "natsclient", "Create", "kv create "+key)
	}
	return rev, nil
}

// Update writes key only if revision still matches.
func (kv *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := kv.bucket.Update(ctx, key, value, revision)
	if err != nil {
		if isKVConflict(err) {
			return 0, errors.WrapConflict(errors.ErrConflict, "natsclient", "Update",
				fmt.Sprintf("kv revision mismatch on %s at %d", key, revision))
		}
		return 0, errors.WrapTransient(err, "natsclient", "Update", "kv update "+key)
	}
	return rev, nil
}

// Keys lists every key in the bucket. An empty bucket is not an error.
func (kv *KVStore) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	keys, err := kv.bucket.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return []string{}, nil
		}
		return nil, errors.WrapTransient(err, "natsclient", "Keys", "kv list keys")
	}
	return keys, nil
}

func isKVNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

func isKVConflict(err error) bool {
	return errors.Is(err, jetstream.ErrKeyExists) ||
		errors.Is(err, jetstream.ErrBucketExists) ||
		isWrongLastSequence(err)
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}
	return false
}
