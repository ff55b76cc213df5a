package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
)

// HTTPChannel posts messages to a counterparty channel API, for example a
// shared-database channel endpoint. The channel has no routing opinions of
// its own; an optional Filter supplies screening.
type HTTPChannel struct {
	id       string
	endpoint string
	token    string
	filter   *Filter
	client   *http.Client
}

// HTTPOption configures an HTTPChannel.
type HTTPOption func(*HTTPChannel)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPChannel) { c.client = client }
}

// WithBearerToken adds an Authorization header to every post.
func WithBearerToken(token string) HTTPOption {
	return func(c *HTTPChannel) { c.token = token }
}

// WithFilter installs a screening filter.
func WithFilter(filter *Filter) HTTPOption {
	return func(c *HTTPChannel) { c.filter = filter }
}

// NewHTTPChannel builds a channel named id posting to endpoint.
func NewHTTPChannel(id, endpoint string, opts ...HTTPOption) *HTTPChannel {
	c := &HTTPChannel{
		id:       id,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID names the channel.
func (c *HTTPChannel) ID() string {
	return c.id
}

// Screen delegates to the filter; without one, everything passes.
func (c *HTTPChannel) Screen(msg *message.Message) bool {
	return c.filter != nil && c.filter.Screen(msg)
}

// Send posts the message, minus the local-only attributes, to the channel
// API and returns the id the channel assigned.
func (c *HTTPChannel) Send(ctx context.Context, msg *message.Message) (string, error) {
	body, err := json.Marshal(msg.ToMap(message.FieldSenderRef, message.FieldStatus))
	if err != nil {
		return "", errors.WrapFatal(err, "channel", "Send", "marshal message")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", errors.WrapInvalid(err, "channel", "Send", "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.WrapTransient(err, "channel", "Send", "post to "+c.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.WrapTransient(errors.ErrDeliveryFailed, "channel", "Send",
			fmt.Sprintf("channel %s returned %d", c.id, resp.StatusCode))
	}

	var reply struct {
		ID string `json:"id"`
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.WrapTransient(err, "channel", "Send", "read response")
	}
	if len(data) > 0 {
		// A body without an id is tolerated, the txn id just stays empty.
		_ = json.Unmarshal(data, &reply)
	}
	return reply.ID, nil
}
