// Package storage defines the pluggable blob store backing the message
// lake, the object ACL and the subscription registry.
package storage

import "context"

// Store is a key-addressed blob store. Keys are hierarchical paths with "/"
// separators; values are opaque bytes. Implementations must be safe for
// concurrent use, the node's workers share one Store per bucket.
type Store interface {
	// Put stores data at key, overwriting any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// Get retrieves the value at key. A missing key yields an error
	// satisfying errors.IsNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns the keys under prefix in lexicographic order. An empty
	// prefix lists everything; no matches yields an empty slice.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the value at key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}
