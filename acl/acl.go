// Package acl records which jurisdictions may access which objects.
//
// A message is an implicit grant: the sender asserts the receiver is
// entitled to the object. Each grant is one empty object at
// "<obj>/<jurisdiction>", so listing under the object shows everyone with
// access.
package acl

import (
	"context"
	"fmt"
	"strings"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/storage"
)

// Store persists grants in a blob store bucket.
type Store struct {
	store storage.Store
}

// New returns a Store over store.
func New(store storage.Store) *Store {
	return &Store{store: store}
}

func grantKey(obj message.URI, jurisdiction message.Jurisdiction) string {
	return fmt.Sprintf("%s/%s", obj, jurisdiction)
}

// AllowAccessFor records the grant a message implies: its receiver may
// access its object. Re-granting is a no-op.
func (s *Store) AllowAccessFor(ctx context.Context, msg *message.Message) error {
	return s.Allow(ctx, msg.Obj, msg.Receiver)
}

// Allow grants jurisdiction access to obj.
func (s *Store) Allow(ctx context.Context, obj message.URI, jurisdiction message.Jurisdiction) error {
	if obj == "" || jurisdiction == "" {
		return errors.WrapInvalid(errors.ErrBadParameters, "acl", "Allow", "object and jurisdiction required")
	}
	if err := s.store.Put(ctx, grantKey(obj, jurisdiction), []byte{}); err != nil {
		return errors.WrapTransient(err, "acl", "Allow", "store grant")
	}
	return nil
}

// HasAccess reports whether jurisdiction was granted access to obj.
func (s *Store) HasAccess(ctx context.Context, obj message.URI, jurisdiction message.Jurisdiction) (bool, error) {
	_, err := s.store.Get(ctx, grantKey(obj, jurisdiction))
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, errors.WrapTransient(err, "acl", "HasAccess", "load grant")
	}
	return true, nil
}

// AllowedJurisdictions lists everyone with access to obj.
func (s *Store) AllowedJurisdictions(ctx context.Context, obj message.URI) ([]message.Jurisdiction, error) {
	prefix := string(obj) + "/"
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "acl", "AllowedJurisdictions", "list grants")
	}
	out := make([]message.Jurisdiction, 0, len(keys))
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		if rest != "" && !strings.Contains(rest, "/") {
			out = append(out, message.Jurisdiction(rest))
		}
	}
	return out, nil
}
