// Package subrefresh keeps the node subscribed to its channels. Channel
// subscriptions expire, so each one is renewed with a WebSub subscribe
// request once per refresh period.
package subrefresh

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
)

// Worker renews channel subscriptions for the local jurisdiction.
type Worker struct {
	jurisdiction message.Jurisdiction
	channels     []string
	callback     string
	secret       string
	period       time.Duration
	client       *http.Client
	now          func() time.Time
	lastRenewed  time.Time
	logger       *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithPeriod sets how often subscriptions are renewed.
func WithPeriod(d time.Duration) Option {
	return func(w *Worker) { w.period = d }
}

// WithSecret sets the hub.secret sent with each subscribe request.
func WithSecret(secret string) Option {
	return func(w *Worker) { w.secret = secret }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Worker) { w.client = client }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New wires a subscription refresher. channels are the subscription
// endpoints of every channel the node listens on; callback is where the
// channels deliver messages for the local jurisdiction.
func New(jurisdiction message.Jurisdiction, channels []string, callback string, opts ...Option) *Worker {
	w := &Worker{
		jurisdiction: jurisdiction,
		channels:     channels,
		callback:     callback,
		period:       24 * time.Hour,
		client:       &http.Client{Timeout: 30 * time.Second},
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "subrefresh" }

// Step renews every channel subscription once the period has lapsed. A
// partial failure leaves lastRenewed unset so the next step tries again.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	if !w.due() {
		return false, nil
	}

	var firstErr error
	for _, channel := range w.channels {
		if err := w.subscribe(ctx, channel); err != nil {
			w.logger.Error("channel subscription failed", "channel", channel, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return true, firstErr
	}

	w.lastRenewed = w.now()
	w.logger.Info("channel subscriptions renewed",
		"channels", len(w.channels), "next", w.lastRenewed.Add(w.period))
	return true, nil
}

func (w *Worker) due() bool {
	return w.lastRenewed.IsZero() || w.now().Sub(w.lastRenewed) >= w.period
}

func (w *Worker) subscribe(ctx context.Context, channel string) error {
	form := url.Values{}
	form.Set("hub.mode", "subscribe")
	form.Set("hub.callback", w.callback)
	form.Set("hub.topic", w.jurisdiction.String())
	form.Set("hub.secret", w.secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.WrapInvalid(err, "subrefresh", "subscribe", "build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "subrefresh", "subscribe", "channel unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return errors.WrapTransient(errors.ErrDeliveryFailed, "subrefresh", "subscribe",
			fmt.Sprintf("channel answered %d", resp.StatusCode))
	}
	return nil
}
