package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
)

// MemoryChannel keeps sent messages in memory. It serves tests and
// loopback setups where both jurisdictions run in one process.
type MemoryChannel struct {
	id     string
	filter *Filter
	fail   bool

	mu   sync.Mutex
	sent []*message.Message
}

// NewMemoryChannel returns an accepting channel named id.
func NewMemoryChannel(id string) *MemoryChannel {
	return &MemoryChannel{id: id}
}

// SetFilter installs a screening filter.
func (c *MemoryChannel) SetFilter(filter *Filter) {
	c.filter = filter
}

// SetFailing makes every Send fail, for routing tests.
func (c *MemoryChannel) SetFailing(fail bool) {
	c.fail = fail
}

// ID names the channel.
func (c *MemoryChannel) ID() string {
	return c.id
}

// Screen delegates to the filter; without one, everything passes.
func (c *MemoryChannel) Screen(msg *message.Message) bool {
	return c.filter != nil && c.filter.Screen(msg)
}

// Send records the message and returns a synthetic transaction id.
func (c *MemoryChannel) Send(_ context.Context, msg *message.Message) (string, error) {
	if c.fail {
		return "", errors.WrapTransient(errors.ErrDeliveryFailed, "channel", "Send", "channel "+c.id+" is failing")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg.Clone())
	return fmt.Sprintf("%s-txn-%d", c.id, len(c.sent)), nil
}

// Sent returns a copy of everything the channel carried.
func (c *MemoryChannel) Sent() []*message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*message.Message, len(c.sent))
	copy(out, c.sent)
	return out
}
