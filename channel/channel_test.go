package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
)

func outboundMessage(receiver message.Jurisdiction) *message.Message {
	return &message.Message{
		Sender:    "AU",
		Receiver:  receiver,
		Subject:   "QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n",
		Obj:       "https://originals.example.com/docs/coo-1.json",
		Predicate: "UN.CEFACT.Trade.CertificateOfOrigin.created",
		SenderRef: "ref-1",
		Status:    message.StatusPending,
	}
}

func TestRuleApplies(t *testing.T) {
	rule := Rule{Jurisdiction: "CN", Predicate: "UN.CEFACT."}
	assert.True(t, rule.Applies(outboundMessage("CN")))
	assert.False(t, rule.Applies(outboundMessage("SG")))

	narrow := Rule{Jurisdiction: "CN", Predicate: "UN.CEFACT.Vehicle."}
	assert.False(t, narrow.Applies(outboundMessage("CN")))
}

func TestRouteFirstApplicableChannelWins(t *testing.T) {
	first := NewMemoryChannel("first")
	second := NewMemoryChannel("second")
	r := NewRouter(nil)
	r.AddRule(Rule{Name: "first", Jurisdiction: "CN", Predicate: "UN.CEFACT."}, first)
	r.AddRule(Rule{Name: "second", Jurisdiction: "CN", Predicate: "UN.CEFACT."}, second)

	res, err := r.Route(context.Background(), outboundMessage("CN"))
	require.NoError(t, err)
	assert.Equal(t, "first", res.ChannelID)
	assert.NotEmpty(t, res.ChannelTxnID)
	assert.Len(t, first.Sent(), 1)
	assert.Empty(t, second.Sent())
}

func TestRouteSkipsScreeningChannel(t *testing.T) {
	screening := NewMemoryChannel("screening")
	blockAll := NewFilter() // nothing whitelisted, screens everything
	screening.SetFilter(blockAll)
	open := NewMemoryChannel("open")

	r := NewRouter(nil)
	r.AddRule(Rule{Name: "a", Jurisdiction: "CN", Predicate: "UN.CEFACT."}, screening)
	r.AddRule(Rule{Name: "b", Jurisdiction: "CN", Predicate: "UN.CEFACT."}, open)

	res, err := r.Route(context.Background(), outboundMessage("CN"))
	require.NoError(t, err)
	assert.Equal(t, "open", res.ChannelID)
}

func TestRouteSkipsFailingChannel(t *testing.T) {
	broken := NewMemoryChannel("broken")
	broken.SetFailing(true)
	healthy := NewMemoryChannel("healthy")

	r := NewRouter(nil)
	r.AddRule(Rule{Name: "a", Jurisdiction: "CN", Predicate: "UN.CEFACT."}, broken)
	r.AddRule(Rule{Name: "b", Jurisdiction: "CN", Predicate: "UN.CEFACT."}, healthy)

	res, err := r.Route(context.Background(), outboundMessage("CN"))
	require.NoError(t, err)
	assert.Equal(t, "healthy", res.ChannelID)
}

func TestRouteNoApplicableRule(t *testing.T) {
	r := NewRouter(nil)
	r.AddRule(Rule{Jurisdiction: "SG", Predicate: "UN.CEFACT."}, NewMemoryChannel("sg"))

	_, err := r.Route(context.Background(), outboundMessage("CN"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoRoute))
}

func TestRouteAllChannelsRefuse(t *testing.T) {
	broken := NewMemoryChannel("broken")
	broken.SetFailing(true)
	r := NewRouter(nil)
	r.AddRule(Rule{Jurisdiction: "CN", Predicate: ""}, broken)

	_, err := r.Route(context.Background(), outboundMessage("CN"))
	assert.True(t, errors.Is(err, errors.ErrNoRoute))
}
