package message

// Status tracks a message through its delivery lifecycle. Outbound messages
// start as pending, inbound ones as received. Accepted and rejected are
// final and never change again.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReceived Status = "received"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// IsValid reports whether s is one of the known lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusReceived, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// IsFinal reports whether s permits no further transitions.
func (s Status) IsFinal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransitionTo reports whether a message in state s may move to next.
// Any non-final state may move to any valid state; final states are frozen.
func (s Status) CanTransitionTo(next Status) bool {
	return next.IsValid() && !s.IsFinal()
}

func (s Status) String() string {
	return string(s)
}
