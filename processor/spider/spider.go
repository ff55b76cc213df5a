// Package spider downloads foreign documents referenced by incoming
// messages, recursively following their links.
package spider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trustbridge/intergov/acl"
	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
	"github.com/trustbridge/intergov/pkg/retry"
	"github.com/trustbridge/intergov/queue"
	"github.com/trustbridge/intergov/storage"
)

// MaxRetries is how many re-posts a retrieval job gets after its first
// failed attempt.
const MaxRetries = 3

// maxObjectSize caps a single downloaded document.
const maxObjectSize = 32 << 20

// Worker retrieves one document per step.
type Worker struct {
	jurisdiction message.Jurisdiction
	retrievals   queue.Queue
	objects      storage.Store
	acl          *acl.Store
	endpoints    map[string]string
	client       *http.Client
	minDelay     time.Duration
	maxDelay     time.Duration
	logger       *slog.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Worker) { w.client = client }
}

// WithRetryDelay bounds the random delay before a re-posted attempt.
func WithRetryDelay(minDelay, maxDelay time.Duration) Option {
	return func(w *Worker) {
		w.minDelay = minDelay
		w.maxDelay = maxDelay
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// New wires a spider. endpoints maps a sender jurisdiction to the base
// URL of its document API.
func New(
	jurisdiction message.Jurisdiction,
	retrievals queue.Queue,
	objects storage.Store,
	aclStore *acl.Store,
	endpoints map[string]string,
	opts ...Option,
) *Worker {
	w := &Worker{
		jurisdiction: jurisdiction,
		retrievals:   retrievals,
		objects:      objects,
		acl:          aclStore,
		endpoints:    endpoints,
		client:       &http.Client{Timeout: 30 * time.Second},
		minDelay:     time.Second,
		maxDelay:     10 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name identifies the worker in logs and metrics.
func (w *Worker) Name() string { return "spider" }

// Step pulls one retrieval job, downloads the object unless it is
// already stored, grants the local jurisdiction access and spawns child
// jobs for every link the document carries.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	d, err := w.retrievals.Get(ctx)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	var job queue.RetrievalJob
	if err := queue.DecodeJSON(d, &job); err != nil {
		_ = w.retrievals.Delete(ctx, d)
		return true, err
	}
	if job.Action != queue.RetrievalDownload || job.Object == "" || job.Sender == "" {
		_ = w.retrievals.Delete(ctx, d)
		return true, errors.WrapInvalid(errors.ErrInvalidData, "spider", "Step",
			fmt.Sprintf("dropped malformed retrieval job for %q", job.Object))
	}

	if err := w.retrieve(ctx, &job); err != nil {
		_ = w.retrievals.Delete(ctx, d)
		return true, w.requeue(ctx, &job, err)
	}
	if err := w.retrievals.Delete(ctx, d); err != nil {
		return true, err
	}
	return true, nil
}

func (w *Worker) retrieve(ctx context.Context, job *queue.RetrievalJob) error {
	stored, err := w.objects.Get(ctx, job.Object)
	if errors.IsNotFound(err) {
		stored, err = w.download(ctx, job)
		if err != nil {
			return err
		}
		if err := w.objects.Put(ctx, job.Object, stored); err != nil {
			return err
		}
		w.logger.Info("object stored", "object", job.Object, "sender", job.Sender, "bytes", len(stored))
	} else if err != nil {
		return err
	}

	if err := w.acl.Allow(ctx, message.URI(job.Object), w.jurisdiction); err != nil {
		return err
	}
	return w.spawnLinks(ctx, job, stored)
}

func (w *Worker) download(ctx context.Context, job *queue.RetrievalJob) ([]byte, error) {
	base, ok := w.endpoints[job.Sender]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "spider", "download",
			fmt.Sprintf("no document API for jurisdiction %s", job.Sender))
	}

	target := strings.TrimSuffix(base, "/") + "/" + url.PathEscape(job.Object) +
		"?as_jurisdiction=" + url.QueryEscape(w.jurisdiction.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.WrapInvalid(err, "spider", "download", "build request")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "spider", "download", "document API unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errors.WrapTransient(errors.ErrDeliveryFailed, "spider", "download",
			fmt.Sprintf("document API answered %d for %s", resp.StatusCode, job.Object))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize))
	if err != nil {
		return nil, errors.WrapTransient(err, "spider", "download", "read body")
	}
	return body, nil
}

// spawnLinks posts a child retrieval job for every linked document. A
// body that is not JSON, or JSON without a links section, is fine.
func (w *Worker) spawnLinks(ctx context.Context, job *queue.RetrievalJob, body []byte) error {
	var doc struct {
		Links []struct {
			Link string `json:"link"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil
	}

	for _, link := range doc.Links {
		if link.Link == "" || strings.ContainsAny(link.Link, "/:") {
			continue
		}
		child := queue.RetrievalJob{
			Action: queue.RetrievalDownload,
			Sender: job.Sender,
			Object: link.Link,
			Parent: job.Object,
		}
		if err := queue.PostJSON(ctx, w.retrievals, child, 0); err != nil {
			return err
		}
		w.logger.Info("linked object scheduled", "object", link.Link, "parent", job.Object)
	}
	return nil
}

// requeue re-posts a failed job with a bumped retry counter, or drops it
// once the attempts are spent.
func (w *Worker) requeue(ctx context.Context, job *queue.RetrievalJob, cause error) error {
	if errors.IsInvalid(cause) || job.Retry >= MaxRetries {
		w.logger.Error("object unretrievable, dropping",
			"object", job.Object, "sender", job.Sender, "retry", job.Retry, "error", cause)
		return cause
	}
	next := *job
	next.Retry++
	delay := retry.RandomDelay(w.minDelay, w.maxDelay)
	if err := queue.PostJSON(ctx, w.retrievals, next, delay); err != nil {
		return err
	}
	w.logger.Warn("retrieval failed, re-posted",
		"object", job.Object, "retry", next.Retry, "delay", delay, "error", cause)
	return nil
}
