// Package outbox holds messages awaiting channel routing.
//
// Records move pending -> sending -> accepted | rejected. The sending
// claim is a compare-and-swap on the record's revision, which is the only
// mutual exclusion between concurrent router workers: exactly one of them
// wins the revision race, the rest skip to the next record. A worker that
// dies mid-send leaves a sending record behind; records stuck in sending
// past the stale window are reclaimed as if pending.
package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
)

// Status is the delivery state of an outbox record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSending  Status = "sending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// IsFinal reports whether s permits no further transitions.
func (s Status) IsFinal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Record is one stored outbox entry. NotBefore holds back a released
// record so retries do not stampede.
type Record struct {
	Message   message.Message `json:"message"`
	Status    Status          `json:"status"`
	Attempts  int             `json:"attempts,omitempty"`
	NotBefore time.Time       `json:"not_before,omitzero"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// KV is the compare-and-swap key-value store backing the outbox. Get on a
// missing key satisfies errors.IsNotFound; Create on an existing key and
// Update with a stale revision satisfy errors.IsConflict.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, uint64, error)
	Create(ctx context.Context, key string, value []byte) (uint64, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
	Keys(ctx context.Context) ([]string, error)
}

// Claimed is a record held by one worker after a successful sending claim.
type Claimed struct {
	Key      string
	Record   Record
	revision uint64
}

// Store is the outbox over a KV bucket.
type Store struct {
	kv         KV
	staleAfter time.Duration
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithStaleAfter sets how long a sending record may sit before another
// worker reclaims it.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Store) { s.staleAfter = d }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store over kv.
func New(kv KV, opts ...Option) *Store {
	s := &Store{
		kv:         kv,
		staleAfter: 5 * time.Minute,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key derives the record key from the message identity tuple.
func Key(msg *message.Message) string {
	tuple := strings.Join([]string{
		msg.Sender.String(),
		msg.SenderRef,
		msg.Receiver.String(),
		msg.Subject.String(),
		msg.Obj.String(),
		msg.Predicate.String(),
	}, "|")
	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:16])
}

// Add inserts msg as a pending record. A record with the same identity
// tuple already present is a duplicate conflict, unless that record is
// rejected, in which case the message gets a fresh start.
func (s *Store) Add(ctx context.Context, msg *message.Message) (string, error) {
	key := Key(msg)
	now := s.now()
	fresh := Record{
		Message:   *msg.Clone(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(fresh)
	if err != nil {
		return "", errors.WrapFatal(err, "outbox", "Add", "marshal record")
	}

	value, revision, err := s.kv.Get(ctx, key)
	if err != nil {
		if !errors.IsNotFound(err) {
			return "", err
		}
		if _, err := s.kv.Create(ctx, key, data); err != nil {
			if errors.IsConflict(err) {
				// Lost a race with another Add of the same tuple.
				return "", errors.WrapConflict(errors.ErrDuplicate, "outbox", "Add", "record "+key)
			}
			return "", err
		}
		return key, nil
	}

	existing, err := decodeRecord(value)
	if err != nil {
		return "", errors.WrapInvalid(err, "outbox", "Add", "decode record "+key)
	}
	if existing.Status != StatusRejected {
		return "", errors.WrapConflict(errors.ErrDuplicate, "outbox", "Add",
			fmt.Sprintf("record %s is %s", key, existing.Status))
	}
	if _, err := s.kv.Update(ctx, key, data, revision); err != nil {
		return "", err
	}
	return key, nil
}

// Get returns the record at key.
func (s *Store) Get(ctx context.Context, key string) (*Record, error) {
	value, _, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(value)
	if err != nil {
		return nil, errors.WrapInvalid(err, "outbox", "Get", "decode record "+key)
	}
	return &rec, nil
}

// NextPending claims the first routable record: pending, or sending for
// longer than the stale window. The claim moves it to sending under CAS;
// losing the revision race just moves on to the next candidate.
func (s *Store) NextPending(ctx context.Context) (*Claimed, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	for _, key := range keys {
		value, revision, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRecord(value)
		if err != nil {
			continue
		}
		if !s.claimable(rec) {
			continue
		}

		rec.Status = StatusSending
		rec.Attempts++
		rec.NotBefore = time.Time{}
		rec.UpdatedAt = s.now()
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, errors.WrapFatal(err, "outbox", "NextPending", "marshal record")
		}
		newRev, err := s.kv.Update(ctx, key, data, revision)
		if err != nil {
			if errors.IsConflict(err) {
				continue
			}
			return nil, err
		}
		return &Claimed{Key: key, Record: rec, revision: newRev}, nil
	}
	return nil, nil
}

func (s *Store) claimable(rec Record) bool {
	switch rec.Status {
	case StatusPending:
		return rec.NotBefore.IsZero() || !s.now().Before(rec.NotBefore)
	case StatusSending:
		return s.staleAfter > 0 && s.now().Sub(rec.UpdatedAt) > s.staleAfter
	}
	return false
}

// Release returns a claimed record to pending for a later attempt.
func (s *Store) Release(ctx context.Context, c *Claimed) error {
	return s.resolve(ctx, c, StatusPending, time.Time{})
}

// ReleaseAfter returns a claimed record to pending, invisible to
// NextPending until delay has passed.
func (s *Store) ReleaseAfter(ctx context.Context, c *Claimed, delay time.Duration) error {
	notBefore := time.Time{}
	if delay > 0 {
		notBefore = s.now().Add(delay)
	}
	return s.resolve(ctx, c, StatusPending, notBefore)
}

// MarkAccepted finalises a claimed record as accepted.
func (s *Store) MarkAccepted(ctx context.Context, c *Claimed) error {
	return s.resolve(ctx, c, StatusAccepted, time.Time{})
}

// MarkRejected finalises a claimed record as rejected.
func (s *Store) MarkRejected(ctx context.Context, c *Claimed) error {
	return s.resolve(ctx, c, StatusRejected, time.Time{})
}

func (s *Store) resolve(ctx context.Context, c *Claimed, to Status, notBefore time.Time) error {
	if c == nil {
		return errors.WrapInvalid(errors.ErrBadParameters, "outbox", "resolve", "nil claim")
	}
	if c.Record.Status.IsFinal() {
		return errors.WrapConflict(errors.ErrFinalStatus, "outbox", "resolve",
			fmt.Sprintf("record %s is %s", c.Key, c.Record.Status))
	}
	rec := c.Record
	rec.Status = to
	rec.NotBefore = notBefore
	rec.UpdatedAt = s.now()
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapFatal(err, "outbox", "resolve", "marshal record")
	}
	newRev, err := s.kv.Update(ctx, c.Key, data, c.revision)
	if err != nil {
		return err
	}
	c.Record = rec
	c.revision = newRev
	return nil
}

func decodeRecord(value []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(value, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
