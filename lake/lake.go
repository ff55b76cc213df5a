// Package lake persists every message the node has seen.
//
// Each message occupies two objects under "<sender>/<chunked ref>/":
// content.json holds the immutable assertion, metadata.json the mutable
// status and channel fields. Get overlays metadata onto content; writers
// of metadata win by being last, there is no locking here.
package lake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/storage"
)

// Metadata is the mutable part of a stored message.
type Metadata struct {
	Status       string `json:"status,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelTxnID string `json:"channel_txn_id,omitempty"`
}

// Lake stores messages in a blob store bucket.
type Lake struct {
	store storage.Store
}

// New returns a Lake over store.
func New(store storage.Store) *Lake {
	return &Lake{store: store}
}

// chunk splits long refs with a slash so a flood of messages cannot
// exhaust directory-per-prefix backends.
func chunk(ref string) string {
	if len(ref) > 10 {
		return ref[:5] + "/" + ref[5:]
	}
	return ref
}

func contentKey(sender message.Jurisdiction, ref string) string {
	return fmt.Sprintf("%s/%s/content.json", sender, chunk(ref))
}

func metadataKey(sender message.Jurisdiction, ref string) string {
	return fmt.Sprintf("%s/%s/metadata.json", sender, chunk(ref))
}

// Put stores msg. Content is overwritten every time, which is harmless:
// the assertion never changes. Metadata is only seeded when absent so a
// redelivered Put cannot roll back a later status patch.
func (l *Lake) Put(ctx context.Context, msg *message.Message) error {
	if msg.SenderRef == "" {
		return errors.WrapInvalid(errors.ErrBadParameters, "lake", "Put", "sender_ref is required")
	}
	content, err := json.Marshal(msg.ToMap(message.FieldStatus, message.FieldChannelID, message.FieldChannelTxnID))
	if err != nil {
		return errors.WrapFatal(err, "lake", "Put", "marshal content")
	}
	if err := l.store.Put(ctx, contentKey(msg.Sender, msg.SenderRef), content); err != nil {
		return errors.WrapTransient(err, "lake", "Put", "store content")
	}

	mdKey := metadataKey(msg.Sender, msg.SenderRef)
	if _, err := l.store.Get(ctx, mdKey); err == nil {
		return nil
	} else if !errors.IsNotFound(err) {
		return errors.WrapTransient(err, "lake", "Put", "probe metadata")
	}
	metadata, err := json.Marshal(Metadata{
		Status:       msg.Status.String(),
		ChannelID:    msg.ChannelID,
		ChannelTxnID: msg.ChannelTxnID,
	})
	if err != nil {
		return errors.WrapFatal(err, "lake", "Put", "marshal metadata")
	}
	if err := l.store.Put(ctx, mdKey, metadata); err != nil {
		return errors.WrapTransient(err, "lake", "Put", "store metadata")
	}
	return nil
}

// Get loads the message for (sender, ref), metadata overlaid on content.
func (l *Lake) Get(ctx context.Context, sender message.Jurisdiction, ref string) (*message.Message, error) {
	content, err := l.store.Get(ctx, contentKey(sender, ref))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.WrapNotFound(errors.ErrNotFound, "lake", "Get",
				fmt.Sprintf("message %s:%s", sender, ref))
		}
		return nil, errors.WrapTransient(err, "lake", "Get", "load content")
	}
	msg, err := message.FromJSON(content)
	if err != nil {
		return nil, errors.WrapInvalid(err, "lake", "Get", "decode content")
	}

	metadata, err := l.getMetadata(ctx, sender, ref)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, err
		}
		return msg, nil
	}
	msg.Status = message.Status(metadata.Status)
	msg.ChannelID = metadata.ChannelID
	msg.ChannelTxnID = metadata.ChannelTxnID
	return msg, nil
}

// UpdateMetadata merges updates into the stored metadata, last writer
// wins.
func (l *Lake) UpdateMetadata(ctx context.Context, sender message.Jurisdiction, ref string, updates Metadata) error {
	current, err := l.getMetadata(ctx, sender, ref)
	if err != nil {
		if !errors.IsNotFound(err) {
			return err
		}
		current = &Metadata{}
	}
	if updates.Status != "" {
		current.Status = updates.Status
	}
	if updates.ChannelID != "" {
		current.ChannelID = updates.ChannelID
	}
	if updates.ChannelTxnID != "" {
		current.ChannelTxnID = updates.ChannelTxnID
	}
	data, err := json.Marshal(current)
	if err != nil {
		return errors.WrapFatal(err, "lake", "UpdateMetadata", "marshal metadata")
	}
	if err := l.store.Put(ctx, metadataKey(sender, ref), data); err != nil {
		return errors.WrapTransient(err, "lake", "UpdateMetadata", "store metadata")
	}
	return nil
}

func (l *Lake) getMetadata(ctx context.Context, sender message.Jurisdiction, ref string) (*Metadata, error) {
	data, err := l.store.Get(ctx, metadataKey(sender, ref))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.WrapNotFound(errors.ErrNotFound, "lake", "getMetadata",
				fmt.Sprintf("metadata %s:%s", sender, ref))
		}
		return nil, errors.WrapTransient(err, "lake", "getMetadata", "load metadata")
	}
	var md Metadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, errors.WrapInvalid(err, "lake", "getMetadata", "decode metadata")
	}
	return &md, nil
}

// ParseReference splits the "SENDER:ref" message identifier.
func ParseReference(reference string) (message.Jurisdiction, string, error) {
	sender, ref, found := strings.Cut(reference, ":")
	if !found || sender == "" || ref == "" {
		return "", "", errors.WrapInvalid(errors.ErrBadParameters, "lake", "ParseReference",
			fmt.Sprintf("reference %q must look like AU:reference", reference))
	}
	return message.Jurisdiction(sender), ref, nil
}
