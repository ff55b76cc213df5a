// Package message defines the wire protocol of the node: the five-part
// message assertion, its lifecycle status, jurisdiction codes and the URI
// shapes a message may reference.
package message

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Field names as they appear on the wire.
const (
	FieldSender       = "sender"
	FieldReceiver     = "receiver"
	FieldSubject      = "subject"
	FieldObj          = "obj"
	FieldPredicate    = "predicate"
	FieldSenderRef    = "sender_ref"
	FieldStatus       = "status"
	FieldChannelID    = "channel_id"
	FieldChannelTxnID = "channel_txn_id"
)

var requiredFields = []string{
	FieldSender, FieldReceiver, FieldSubject, FieldObj, FieldPredicate,
}

var knownFields = map[string]struct{}{
	FieldSender: {}, FieldReceiver: {}, FieldSubject: {}, FieldObj: {},
	FieldPredicate: {}, FieldSenderRef: {}, FieldStatus: {},
	FieldChannelID: {}, FieldChannelTxnID: {},
}

// Message is an assertion exchanged between two jurisdictions: sender tells
// receiver that predicate holds between subject and obj. SenderRef is the
// sender-scoped identifier; Status and the channel fields accumulate as the
// message moves through the node.
type Message struct {
	Sender       Jurisdiction `json:"sender"`
	Receiver     Jurisdiction `json:"receiver"`
	Subject      URI          `json:"subject"`
	Obj          URI          `json:"obj"`
	Predicate    URI          `json:"predicate"`
	SenderRef    string       `json:"sender_ref,omitempty"`
	Status       Status       `json:"status,omitempty"`
	ChannelID    string       `json:"channel_id,omitempty"`
	ChannelTxnID string       `json:"channel_txn_id,omitempty"`

	// extra records unexpected attributes seen during deserialization so
	// Validate can report them.
	extra []string
}

// DeserializationError reports input that cannot even be coerced into a
// Message, as opposed to a well-formed message with invalid content.
type DeserializationError struct {
	Field  string
	Reason string
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("message: cannot deserialize field %q: %s", e.Field, e.Reason)
}

// FromMap builds a Message from an untyped mapping, for example a decoded
// JSON body or queue payload. All five required attributes must be present
// and every value must be a string; anything else fails with a
// DeserializationError. Unknown attributes are recorded and reported by
// Validate.
func FromMap(attrs map[string]any) (*Message, error) {
	coerced := make(map[string]string, len(attrs))
	var extra []string
	for key, value := range attrs {
		if _, ok := knownFields[key]; !ok {
			extra = append(extra, key)
			continue
		}
		s, ok := value.(string)
		if !ok {
			return nil, &DeserializationError{Field: key, Reason: fmt.Sprintf("expected string, got %T", value)}
		}
		coerced[key] = s
	}
	for _, field := range requiredFields {
		if _, ok := coerced[field]; !ok {
			return nil, &DeserializationError{Field: field, Reason: "missing"}
		}
	}
	sort.Strings(extra)
	return &Message{
		Sender:       Jurisdiction(coerced[FieldSender]),
		Receiver:     Jurisdiction(coerced[FieldReceiver]),
		Subject:      URI(coerced[FieldSubject]),
		Obj:          URI(coerced[FieldObj]),
		Predicate:    URI(coerced[FieldPredicate]),
		SenderRef:    coerced[FieldSenderRef],
		Status:       Status(coerced[FieldStatus]),
		ChannelID:    coerced[FieldChannelID],
		ChannelTxnID: coerced[FieldChannelTxnID],
		extra:        extra,
	}, nil
}

// FromJSON decodes a JSON object through FromMap so unknown attributes and
// non-string values get the same treatment on every ingress path.
func FromJSON(data []byte) (*Message, error) {
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, &DeserializationError{Field: "", Reason: err.Error()}
	}
	return FromMap(attrs)
}

// Validate returns every semantic problem with the message. A nil result
// means the message is acceptable.
func (m *Message) Validate() []error {
	var errs []error
	for _, field := range m.extra {
		errs = append(errs, fmt.Errorf("unexpected attribute %q", field))
	}
	if m.Sender == "" {
		errs = append(errs, fmt.Errorf("attribute %q is required", FieldSender))
	} else if err := m.Sender.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", FieldSender, err))
	}
	if m.Receiver == "" {
		errs = append(errs, fmt.Errorf("attribute %q is required", FieldReceiver))
	} else if err := m.Receiver.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", FieldReceiver, err))
	}
	for field, uri := range map[string]URI{
		FieldSubject:   m.Subject,
		FieldObj:       m.Obj,
		FieldPredicate: m.Predicate,
	} {
		if uri == "" {
			errs = append(errs, fmt.Errorf("attribute %q is required", field))
		} else if !uri.IsValid() {
			errs = append(errs, fmt.Errorf("%s: %q is not a valid URI", field, uri.String()))
		}
	}
	if m.Status != "" && !m.Status.IsValid() {
		errs = append(errs, fmt.Errorf("status: %q is not a known status", m.Status.String()))
	}
	if (m.ChannelID == "") != (m.ChannelTxnID == "") {
		errs = append(errs, fmt.Errorf("attributes %q and %q must be set together", FieldChannelID, FieldChannelTxnID))
	}
	sortErrors(errs)
	return errs
}

// IsValid reports whether Validate finds no problems.
func (m *Message) IsValid() bool {
	return len(m.Validate()) == 0
}

// Reference returns the node-wide identifier "SENDER:sender_ref".
func (m *Message) Reference() string {
	return fmt.Sprintf("%s:%s", m.Sender, m.SenderRef)
}

// ToMap returns the non-empty wire attributes, minus any named in exclude.
// Channels posting a message to the counterparty strip the local-only
// attributes this way.
func (m *Message) ToMap(exclude ...string) map[string]string {
	out := map[string]string{
		FieldSender:       m.Sender.String(),
		FieldReceiver:     m.Receiver.String(),
		FieldSubject:      m.Subject.String(),
		FieldObj:          m.Obj.String(),
		FieldPredicate:    m.Predicate.String(),
		FieldSenderRef:    m.SenderRef,
		FieldStatus:       m.Status.String(),
		FieldChannelID:    m.ChannelID,
		FieldChannelTxnID: m.ChannelTxnID,
	}
	for key, value := range out {
		if value == "" {
			delete(out, key)
		}
	}
	for _, field := range exclude {
		delete(out, field)
	}
	return out
}

// Clone returns a copy safe to mutate independently.
func (m *Message) Clone() *Message {
	clone := *m
	clone.extra = append([]string(nil), m.extra...)
	return &clone
}

func sortErrors(errs []error) {
	sort.Slice(errs, func(i, j int) bool {
		return errs[i].Error() < errs[j].Error()
	})
}
