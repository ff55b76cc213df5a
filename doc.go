// Package intergov implements a message-exchange node for
// inter-jurisdiction trade documentation. Jurisdictions assert facts
// about trade documents as subject-predicate-object messages, ship them
// to each other over pluggable channels, and let third parties follow
// topics of interest through WebSub-style subscriptions.
//
// # Architecture
//
// The node is a set of small single-purpose workers glued together by
// at-least-once queues. Every handler is idempotent; the only mutual
// exclusion in the system is the queue visibility timeout, so any worker
// can be scaled horizontally by running more copies of the binary.
//
//	┌──────────┐   inbox    ┌──────────┐  notifications ┌────────────┐
//	│ HTTP API ├───────────►│ inbound  ├───────────────►│ dispatcher │
//	└──────────┘            └────┬─────┘                └─────┬──────┘
//	                             │ outbox (KV)                │ deliveries
//	                             ▼                            ▼
//	                        ┌──────────┐                ┌───────────┐
//	                        │  router  │                │ deliverer │
//	                        └────┬─────┘                └───────────┘
//	                             │ updates                 callbacks
//	                             ▼
//	                        ┌──────────┐
//	                        │ updater  ├──► message lake metadata
//	                        └──────────┘
//
// Incoming foreign messages additionally feed the object spider, which
// walks the referenced documents and mirrors them into the local object
// lake.
//
// # Packages
//
// Domain:
//   - message: the message model, jurisdictions, URIs, status machine
//   - topic: hierarchical topic patterns with trailing wildcards
//   - lake: message content and metadata persistence
//   - acl: per-object jurisdiction access grants
//   - outbox: claim-based reliable delivery records (NATS KV)
//   - channel: routing table, screening filters, HTTP channels
//   - subscription: WebSub subscription registry with lease expiry
//   - intake: message admission and sender_ref stamping
//
// Infrastructure:
//   - queue: at-least-once queues (JetStream work queues, in-memory)
//   - storage: prefix-listable object storage (JetStream object store)
//   - natsclient: NATS connection management and KV access
//   - processor: worker poll loops and the workers themselves
//   - api: the HTTP surface (messages, subscriptions, health, metrics)
//   - config: file + environment configuration
//   - errors: classified errors (transient, invalid, conflict, ...)
//   - metric: Prometheus metrics
//   - pkg/retry: backoff and jittered delays
//
// # Binary
//
// cmd/intergov runs any subset of workers plus the HTTP API:
//
//	# everything in one process
//	intergov --config /etc/intergov/config.json
//
//	# just the delivery pipeline
//	intergov --config config.json --workers dispatcher,deliverer
package intergov
