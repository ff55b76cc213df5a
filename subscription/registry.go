// Package subscription persists WebSub-style subscriptions and matches
// them against notification topics.
//
// A subscription lives at "<pattern key><md5 of callback>" in the blob
// store, so one callback per pattern, and re-subscribing just refreshes
// the lease. Expired records count as absent and are purged when a lookup
// trips over them.
package subscription

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/storage"
	"github.com/trustbridge/intergov/topic"
)

// record is the stored form of one subscription.
type record struct {
	Callback string    `json:"c"`
	Expires  time.Time `json:"e"`
}

// Registry stores subscriptions in a blob store bucket.
type Registry struct {
	store storage.Store
	now   func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns a Registry over store.
func New(store storage.Store, opts ...Option) *Registry {
	r := &Registry{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe upserts a subscription for callback under pattern, live for
// lease from now.
func (r *Registry) Subscribe(ctx context.Context, pattern, callback string, lease time.Duration) error {
	p, err := parseSubscription(pattern)
	if err != nil {
		return err
	}
	if err := validateCallback(callback); err != nil {
		return err
	}
	if lease <= 0 {
		return errors.WrapInvalid(errors.ErrBadParameters, "subscription", "Subscribe", "lease must be positive")
	}
	data, err := json.Marshal(record{Callback: callback, Expires: r.now().Add(lease)})
	if err != nil {
		return errors.WrapFatal(err, "subscription", "Subscribe", "marshal record")
	}
	if err := r.store.Put(ctx, subKey(p, callback), data); err != nil {
		return errors.WrapTransient(err, "subscription", "Subscribe", "store record")
	}
	return nil
}

// Unsubscribe removes the subscription for callback under pattern. An
// empty callback removes every subscription directly under the pattern.
// A specific callback with no live subscription is a not-found error;
// a bulk delete that removes nothing is not.
func (r *Registry) Unsubscribe(ctx context.Context, pattern, callback string) error {
	p, err := parseSubscription(pattern)
	if err != nil {
		return err
	}
	if callback == "" {
		keys, err := r.liveKeys(ctx, p.Key())
		if err != nil {
			return err
		}
		for _, key := range keys {
			if err := r.store.Delete(ctx, key); err != nil {
				return errors.WrapTransient(err, "subscription", "Unsubscribe", "delete "+key)
			}
		}
		return nil
	}

	key := subKey(p, callback)
	if _, err := r.liveRecord(ctx, key); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, key); err != nil {
		return errors.WrapTransient(err, "subscription", "Unsubscribe", "delete "+key)
	}
	return nil
}

// Match returns the live callback URLs subscribed to any layer prefix of
// topicName, deduplicated and sorted.
func (r *Registry) Match(ctx context.Context, topicName string) ([]string, error) {
	p, err := topic.Parse(topicName)
	if err != nil {
		return nil, errors.WrapInvalid(err, "subscription", "Match", "parse topic")
	}
	seen := make(map[string]struct{})
	for _, layer := range p.Layers() {
		keys, err := r.liveKeys(ctx, layer)
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			rec, err := r.liveRecord(ctx, key)
			if err != nil {
				if errors.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			seen[rec.Callback] = struct{}{}
		}
	}
	callbacks := make([]string, 0, len(seen))
	for cb := range seen {
		callbacks = append(callbacks, cb)
	}
	sort.Strings(callbacks)
	return callbacks, nil
}

// liveKeys lists the subscription objects directly under prefix, ignoring
// records of deeper patterns.
func (r *Registry) liveKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, errors.WrapTransient(err, "subscription", "liveKeys", "list "+prefix)
	}
	direct := keys[:0]
	for _, key := range keys {
		if !strings.Contains(strings.TrimPrefix(key, prefix), "/") {
			direct = append(direct, key)
		}
	}
	return direct, nil
}

// liveRecord loads and decodes the record at key, purging it when the
// lease has lapsed. Undecodable records are purged the same way.
func (r *Registry) liveRecord(ctx context.Context, key string) (*record, error) {
	data, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.WrapNotFound(errors.ErrNotFound, "subscription", "liveRecord", "no subscription at "+key)
		}
		return nil, errors.WrapTransient(err, "subscription", "liveRecord", "get "+key)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil || !r.now().Before(rec.Expires) {
		_ = r.store.Delete(ctx, key)
		return nil, errors.WrapNotFound(errors.ErrNotFound, "subscription", "liveRecord", "expired subscription at "+key)
	}
	return &rec, nil
}

func parseSubscription(pattern string) (topic.Pattern, error) {
	if err := topic.ValidateSubscription(pattern); err != nil {
		return topic.Pattern{}, errors.WrapInvalid(err, "subscription", "parse", "invalid pattern")
	}
	return topic.Parse(pattern)
}

func validateCallback(callback string) error {
	parsed, err := url.Parse(callback)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return errors.WrapInvalid(errors.ErrBadParameters, "subscription", "validateCallback",
			"callback must be an absolute URL")
	}
	return nil
}

func subKey(p topic.Pattern, callback string) string {
	sum := md5.Sum([]byte(callback))
	return p.Key() + hex.EncodeToString(sum[:])
}
