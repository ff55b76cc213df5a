package queue

import (
	"encoding/json"

	"github.com/trustbridge/intergov/message"
)

// Notification asks the dispatcher to fan a topic out to subscribers.
// Either Topic is set explicitly, or the topic is taken from the embedded
// message's predicate. Message, when present, becomes the callback payload;
// otherwise subscribers get the bare sender_ref + predicate pair.
type Notification struct {
	Topic     string           `json:"topic,omitempty"`
	Predicate string           `json:"predicate,omitempty"`
	SenderRef string           `json:"sender_ref,omitempty"`
	Message   *message.Message `json:"message,omitempty"`
}

// CallbackJob is one delivery attempt: POST Payload to Callback. Retry
// counts the re-posts already made.
type CallbackJob struct {
	Callback string          `json:"s"`
	Payload  json.RawMessage `json:"payload"`
	Retry    int             `json:"retry,omitempty"`
}

// RetrievalJob asks the document spider to fetch an object from the
// sender jurisdiction's document API. Parent is set on jobs spawned while
// walking a document's links.
type RetrievalJob struct {
	Action string `json:"action"`
	Sender string `json:"sender"`
	Object string `json:"object"`
	Parent string `json:"parent,omitempty"`
	Retry  int    `json:"retry,omitempty"`
}

// RetrievalDownload is the only retrieval action currently defined.
const RetrievalDownload = "download"

// PatchJob carries a metadata update for the status patcher. Reference is
// the "SENDER:sender_ref" message identifier.
type PatchJob struct {
	Reference    string `json:"sender_ref"`
	Status       string `json:"status,omitempty"`
	ChannelID    string `json:"channel_id,omitempty"`
	ChannelTxnID string `json:"channel_txn_id,omitempty"`
}
