package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustbridge/intergov/intake"
	"github.com/trustbridge/intergov/lake"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/metric"
	"github.com/trustbridge/intergov/queue/memqueue"
	"github.com/trustbridge/intergov/storage/memstore"
	"github.com/trustbridge/intergov/subscription"
)

type fixture struct {
	handler       http.Handler
	inbox         *memqueue.Queue
	lake          *lake.Lake
	subscriptions *subscription.Registry
}

func newFixture() *fixture {
	f := &fixture{
		inbox:         memqueue.New(),
		lake:          lake.New(memstore.New()),
		subscriptions: subscription.New(memstore.New()),
	}
	in := intake.New("AU", f.inbox, intake.WithRefGenerator(func() string { return "generated-ref" }))
	patcher := lake.NewPatcher(f.lake, memqueue.New(), nil)
	srv := NewServer(in, f.lake, patcher, f.subscriptions, WithMetrics(metric.NewRegistry()))
	f.handler = srv.Handler()
	return f
}

func (f *fixture) store(t *testing.T, msg *message.Message) {
	t.Helper()
	require.NoError(t, f.lake.Put(context.Background(), msg))
}

func sampleMessage() *message.Message {
	return &message.Message{
		Sender:    "AU",
		Receiver:  "CN",
		Subject:   "QmdfTbBqBPQ7VNxZEYEj14VmRuZBkqFbiwReogJgS1zR1n",
		Obj:       "https://originals.example.com/docs/coo-1234.json",
		Predicate: "UN.CEFACT.Trade.CertificateOfOrigin.created",
		SenderRef: "ref-0001",
		Status:    message.StatusPending,
	}
}

func (f *fixture) do(method, target string, body []byte, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": []string{"application/json"}}
}

func TestPostMessage(t *testing.T) {
	f := newFixture()
	msg := sampleMessage()
	msg.SenderRef = ""
	msg.Status = ""
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/messages", body, jsonHeader())
	require.Equal(t, http.StatusCreated, rec.Code)

	var stored message.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "generated-ref", stored.SenderRef)
	assert.Equal(t, message.StatusPending, stored.Status)

	d, err := f.inbox.Get(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestPostInvalidMessage(t *testing.T) {
	f := newFixture()
	msg := sampleMessage()
	msg.Receiver = "not-a-jurisdiction"
	body, err := json.Marshal(msg)
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/messages", body, jsonHeader())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestGetMessage(t *testing.T) {
	f := newFixture()
	f.store(t, sampleMessage())

	rec := f.do(http.MethodGet, "/messages/AU:ref-0001", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got message.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "AU:ref-0001", got.Reference())
}

func TestGetUnknownMessage(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/messages/AU:missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchMessage(t *testing.T) {
	f := newFixture()
	f.store(t, sampleMessage())

	rec := f.do(http.MethodPatch, "/messages/AU:ref-0001",
		[]byte(`{"status":"accepted","channel_id":"ch","channel_txn_id":"txn"}`), jsonHeader())
	require.Equal(t, http.StatusOK, rec.Code)
	var got message.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, message.StatusAccepted, got.Status)
	assert.Equal(t, "ch", got.ChannelID)
}

func TestPatchFinalStatusConflicts(t *testing.T) {
	f := newFixture()
	msg := sampleMessage()
	msg.Status = message.StatusRejected
	f.store(t, msg)

	rec := f.do(http.MethodPatch, "/messages/AU:ref-0001",
		[]byte(`{"status":"accepted"}`), jsonHeader())
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPatchHalfChannelPair(t *testing.T) {
	f := newFixture()
	f.store(t, sampleMessage())

	rec := f.do(http.MethodPatch, "/messages/AU:ref-0001",
		[]byte(`{"channel_id":"ch"}`), jsonHeader())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func subscriptionForm(mode, callback, topic, lease string) ([]byte, http.Header) {
	form := url.Values{}
	form.Set("hub.mode", mode)
	form.Set("hub.callback", callback)
	form.Set("hub.topic", topic)
	if lease != "" {
		form.Set("hub.lease_seconds", lease)
	}
	header := http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}
	return []byte(form.Encode()), header
}

func TestSubscribe(t *testing.T) {
	f := newFixture()
	body, header := subscriptionForm("subscribe", "https://hook.example.com/cb", "UN.CEFACT.Trade.*", "3600")

	rec := f.do(http.MethodPost, "/subscriptions", body, header)
	require.Equal(t, http.StatusAccepted, rec.Code)

	callbacks, err := f.subscriptions.Match(context.Background(), "UN.CEFACT.Trade.CertificateOfOrigin.created")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://hook.example.com/cb"}, callbacks)
}

func TestUnsubscribe(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.subscriptions.Subscribe(ctx, "UN.CEFACT.Trade.*", "https://hook.example.com/cb", time.Hour))

	body, header := subscriptionForm("unsubscribe", "https://hook.example.com/cb", "UN.CEFACT.Trade.*", "")
	rec := f.do(http.MethodPost, "/subscriptions", body, header)
	require.Equal(t, http.StatusAccepted, rec.Code)

	callbacks, err := f.subscriptions.Match(ctx, "UN.CEFACT.Trade.CertificateOfOrigin.created")
	require.NoError(t, err)
	assert.Empty(t, callbacks)
}

func TestSubscribeValidation(t *testing.T) {
	f := newFixture()
	cases := map[string]struct {
		mode, callback, topic, lease string
	}{
		"unknown mode":    {"ping", "https://hook.example.com/cb", "UN.CEFACT.Trade.*", ""},
		"bad callback":    {"subscribe", "ftp://hook.example.com/cb", "UN.CEFACT.Trade.*", ""},
		"broad topic":     {"subscribe", "https://hook.example.com/cb", "UN.CEFACT.Trade", ""},
		"lease too small": {"subscribe", "https://hook.example.com/cb", "UN.CEFACT.Trade.*", "10"},
		"lease not a number": {
			"subscribe", "https://hook.example.com/cb", "UN.CEFACT.Trade.*", "soon"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			body, header := subscriptionForm(tc.mode, tc.callback, tc.topic, tc.lease)
			rec := f.do(http.MethodPost, "/subscriptions", body, header)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestMissingFormAttributes(t *testing.T) {
	f := newFixture()
	header := http.Header{"Content-Type": []string{"application/x-www-form-urlencoded"}}
	rec := f.do(http.MethodPost, "/subscriptions", []byte("hub.mode=subscribe"), header)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "hub.callback"))
}

func TestSubscriptionContentType(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodPost, "/subscriptions", []byte(`{}`), jsonHeader())
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// stubHealth fakes the NATS client for healthz tests.
type stubHealth struct {
	healthy  bool
	failures int32
	rtt      time.Duration
}

func (h *stubHealth) IsHealthy() bool             { return h.healthy }
func (h *stubHealth) Failures() int32             { return h.failures }
func (h *stubHealth) RTT() (time.Duration, error) { return h.rtt, nil }

func newHealthFixture(h HealthReporter) *fixture {
	f := &fixture{
		inbox:         memqueue.New(),
		lake:          lake.New(memstore.New()),
		subscriptions: subscription.New(memstore.New()),
	}
	in := intake.New("AU", f.inbox)
	patcher := lake.NewPatcher(f.lake, memqueue.New(), nil)
	srv := NewServer(in, f.lake, patcher, f.subscriptions, WithHealth(h))
	f.handler = srv.Handler()
	return f
}

func TestHealthzReportsBackend(t *testing.T) {
	f := newHealthFixture(&stubHealth{healthy: true, failures: 2, rtt: time.Millisecond})
	rec := f.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"status":"ok","nats":{"connected":true,"failures":2,"rtt":"1ms"}}`,
		rec.Body.String())
}

func TestHealthzDegradedWhenBackendDown(t *testing.T) {
	f := newHealthFixture(&stubHealth{healthy: false, failures: 5})
	rec := f.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string `json:"status"`
		NATS   struct {
			Connected bool `json:"connected"`
		} `json:"nats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.False(t, body.NATS.Connected)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture()
	rec := f.do(http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
