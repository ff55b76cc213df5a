package lake

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/queue"
)

// PatchRequest carries the metadata changes a caller wants applied.
type PatchRequest struct {
	Status       string `json:"status,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelTxnID string `json:"channel_txn_id,omitempty"`
}

// Patcher applies metadata patches to stored messages and announces
// status changes on the notifications queue.
type Patcher struct {
	lake          *Lake
	notifications queue.Queue
	logger        *slog.Logger
}

// NewPatcher wires a Patcher. notifications may be nil when status-change
// fanout is not wanted.
func NewPatcher(l *Lake, notifications queue.Queue, logger *slog.Logger) *Patcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Patcher{lake: l, notifications: notifications, logger: logger}
}

// Patch applies req to the message identified by reference ("AU:ref").
//
// Distinct failures get distinct classes: an unknown reference is
// not-found, changing a final status or re-setting channel ids is a
// conflict, and a half-provided channel id pair is bad parameters.
// Patching the status to its current value is a successful no-op with no
// write and no notification. The returned message reflects the stored
// state after the call.
func (p *Patcher) Patch(ctx context.Context, reference string, req PatchRequest) (*message.Message, error) {
	sender, ref, err := ParseReference(reference)
	if err != nil {
		return nil, err
	}

	msg, err := p.lake.Get(ctx, sender, ref)
	if err != nil {
		return nil, err
	}

	var delta Metadata

	if req.Status != "" && req.Status != msg.Status.String() {
		if !message.Status(req.Status).IsValid() {
			return nil, errors.WrapInvalid(errors.ErrBadParameters, "lake", "Patch",
				fmt.Sprintf("unknown status %q", req.Status))
		}
		if msg.Status.IsFinal() {
			return nil, errors.WrapConflict(errors.ErrFinalStatus, "lake", "Patch",
				fmt.Sprintf("message %s is %s", reference, msg.Status))
		}
		delta.Status = req.Status
	}

	if req.ChannelID != "" || req.ChannelTxnID != "" {
		if req.ChannelID == "" || req.ChannelTxnID == "" {
			return nil, errors.WrapInvalid(errors.ErrBadParameters, "lake", "Patch",
				"channel_id and channel_txn_id must be set together")
		}
		if msg.ChannelID != "" && msg.ChannelTxnID != "" {
			return nil, errors.WrapConflict(errors.ErrConflict, "lake", "Patch",
				fmt.Sprintf("channel ids already set on %s", reference))
		}
		delta.ChannelID = req.ChannelID
		delta.ChannelTxnID = req.ChannelTxnID
	}

	if delta == (Metadata{}) {
		return msg, nil
	}

	if err := p.lake.UpdateMetadata(ctx, sender, ref, delta); err != nil {
		return nil, err
	}

	if delta.Status != "" && p.notifications != nil {
		note := queue.Notification{
			Predicate: fmt.Sprintf("message.%s.status", msg.SenderRef),
			SenderRef: msg.Reference(),
		}
		if err := queue.PostJSON(ctx, p.notifications, note, 0); err != nil {
			// The patch is already durable; subscribers miss one ping.
			p.logger.Error("status change notification failed",
				"reference", reference, "error", err)
		}
	}

	return p.lake.Get(ctx, sender, ref)
}
