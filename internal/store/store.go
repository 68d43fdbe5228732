// Package store defines the durable key→document store backing partition
// record logs, with a two-tier (fast local, durable remote) read path.
package store

import "context"

// BlobStore is the key→document contract consumed by the sync engine.
// Keys are partition-scoped strings, opaque beyond uniqueness per partition.
type BlobStore interface {
	// Get returns the document for key, or found=false when absent.
	Get(ctx context.Context, key string) (doc []byte, found bool, err error)
	// Put stores the document under key, overwriting any prior value.
	Put(ctx context.Context, key string, doc []byte) error
}
