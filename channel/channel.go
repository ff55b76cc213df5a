// Package channel connects the node to inter-jurisdiction message
// channels and decides which channel carries an outbound message.
//
// Channels are deliberately dumb carriers: they can screen a message and
// they can send it. All routing intelligence lives in the Router, which
// walks an ordered rule table and hands the message to the first channel
// that takes it.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
)

// Channel carries messages to a counterparty jurisdiction.
type Channel interface {
	// ID names the channel in routing results and logs.
	ID() string

	// Screen reports whether the channel refuses to carry msg.
	Screen(msg *message.Message) bool

	// Send delivers msg and returns the channel's transaction id.
	Send(ctx context.Context, msg *message.Message) (string, error)
}

// Rule is one row of the routing table. A rule applies to a message when
// the receiver equals Jurisdiction and the predicate starts with
// Predicate.
type Rule struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
	Predicate    string `json:"predicate"`
	Endpoint     string `json:"endpoint"`
	AuthToken    string `json:"auth_token,omitempty"`
}

// Applies reports whether the rule covers msg.
func (r Rule) Applies(msg *message.Message) bool {
	return r.Jurisdiction == msg.Receiver.String() &&
		strings.HasPrefix(msg.Predicate.String(), r.Predicate)
}

// Result reports where a message went.
type Result struct {
	ChannelID    string
	ChannelTxnID string
}

type boundRule struct {
	rule    Rule
	channel Channel
}

// Router walks its rule table in order and returns the first channel that
// accepts the message.
type Router struct {
	rules  []boundRule
	logger *slog.Logger
}

// NewRouter returns an empty router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{logger: logger}
}

// AddRule appends a rule bound to its channel. Order matters: earlier
// rules are preferred.
func (r *Router) AddRule(rule Rule, ch Channel) {
	r.rules = append(r.rules, boundRule{rule: rule, channel: ch})
}

// Rules reports how many rules are loaded.
func (r *Router) Rules() int {
	return len(r.rules)
}

// Route finds a channel for msg. Channels that screen the message or fail
// to send are skipped; when no channel accepts, the error satisfies
// errors.Is(err, errors.ErrNoRoute).
func (r *Router) Route(ctx context.Context, msg *message.Message) (*Result, error) {
	for _, bound := range r.rules {
		if !bound.rule.Applies(msg) {
			continue
		}
		if bound.channel.Screen(msg) {
			r.logger.Debug("channel screened message",
				"channel", bound.channel.ID(), "rule", bound.rule.Name, "ref", msg.Reference())
			continue
		}
		txnID, err := bound.channel.Send(ctx, msg)
		if err != nil {
			r.logger.Warn("channel send failed, trying next rule",
				"channel", bound.channel.ID(), "rule", bound.rule.Name,
				"ref", msg.Reference(), "error", err)
			continue
		}
		return &Result{ChannelID: bound.channel.ID(), ChannelTxnID: txnID}, nil
	}
	return nil, errors.WrapTransient(errors.ErrNoRoute, "channel", "Route",
		fmt.Sprintf("no channel accepted %s for %s", msg.Reference(), msg.Receiver))
}
