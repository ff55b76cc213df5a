// Package memkv provides an in-memory outbox.KV with real revision
// semantics, for tests and single-process setups.
package memkv

import (
	"context"
	"sort"
	"sync"

	"github.com/trustbridge/intergov/errors"
)

type entry struct {
	value    []byte
	revision uint64
}

// KV is a revision-checked in-memory key-value store.
type KV struct {
	mu      sync.Mutex
	entries map[string]*entry
	rev     uint64
}

// New returns an empty KV.
func New() *KV {
	return &KV{entries: make(map[string]*entry)}
}

// Get returns the value and revision at key.
func (kv *KV) Get(_ context.Context, key string) ([]byte, uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok {
		return nil, 0, errors.WrapNotFound(errors.ErrNotFound, "memkv", "Get", "key "+key)
	}
	return append([]byte(nil), e.value...), e.revision, nil
}

// Create writes key only if absent.
func (kv *KV) Create(_ context.Context, key string, value []byte) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if _, ok := kv.entries[key]; ok {
		return 0, errors.WrapConflict(errors.ErrConflict, "memkv", "Create", "key exists "+key)
	}
	kv.rev++
	kv.entries[key] = &entry{value: append([]byte(nil), value...), revision: kv.rev}
	return kv.rev, nil
}

// Update writes key only if revision matches the stored one.
func (kv *KV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.entries[key]
	if !ok || e.revision != revision {
		return 0, errors.WrapConflict(errors.ErrConflict, "memkv", "Update", "revision mismatch on "+key)
	}
	kv.rev++
	e.value = append([]byte(nil), value...)
	e.revision = kv.rev
	return kv.rev, nil
}

// Keys lists every key in lexicographic order.
func (kv *KV) Keys(_ context.Context) ([]string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	keys := make([]string, 0, len(kv.entries))
	for key := range kv.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
