// Package natsstore backs storage.Store with a JetStream ObjectStore
// bucket.
package natsstore

import (
	"context"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/trustbridge/intergov/errors"
)

// Store wraps a JetStream ObjectStore bucket.
type Store struct {
	bucket jetstream.ObjectStore
	name   string
}

// New creates or binds the named bucket on js.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*Store, error) {
	os, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "intergov blob bucket " + bucket,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natsstore", "New", "create bucket "+bucket)
	}
	return &Store{bucket: os, name: bucket}, nil
}

// Put stores data at key.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.bucket.PutBytes(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "natsstore", "Put", "put "+key)
	}
	return nil
}

// Get retrieves the value at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, errors.WrapNotFound(errors.ErrNotFound, "natsstore", "Get", "key "+key)
		}
		return nil, errors.WrapTransient(err, "natsstore", "Get", "get "+key)
	}
	return data, nil
}

// List returns the keys under prefix. The ObjectStore API has no
// server-side prefix filter, so listing scans the bucket.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	infos, err := s.bucket.List(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoObjectsFound) {
			return []string{}, nil
		}
		return nil, errors.WrapTransient(err, "natsstore", "List", "list bucket "+s.name)
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		if info.Deleted {
			continue
		}
		if strings.HasPrefix(info.Name, prefix) {
			keys = append(keys, info.Name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the value at key. Missing keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && !isNotFound(err) {
		return errors.WrapTransient(err, "natsstore", "Delete", "delete "+key)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrObjectNotFound)
}
