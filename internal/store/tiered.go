package store

import (
	"context"
	"log/slog"
)

// Tiered composes a fast tier and a durable tier into one BlobStore.
//
// Get reads the fast tier first and falls back to the durable tier on a miss,
// repopulating the fast tier on a durable hit. A durable-tier read failure
// degrades to fast-only operation: it is logged and the key reads as absent,
// which at worst causes a redundant upstream re-fetch, never data loss.
//
// Put writes both tiers. A fast-tier write failure is logged only; a
// durable-tier write failure is returned so callers can surface it, since a
// dropped checkpoint means the fetched data may not survive to the next call.
type Tiered struct {
	fast    BlobStore
	durable BlobStore
	logger  *slog.Logger
}

// NewTiered creates a two-tier store.
func NewTiered(fast, durable BlobStore, logger *slog.Logger) *Tiered {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tiered{fast: fast, durable: durable, logger: logger}
}

// Get implements the read-through path.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	doc, found, err := t.fast.Get(ctx, key)
	if err != nil {
		t.logger.Warn("fast tier read failed", "key", key, "error", err)
	} else if found {
		return doc, true, nil
	}

	doc, found, err = t.durable.Get(ctx, key)
	if err != nil {
		t.logger.Warn("durable tier read failed, degrading to fast-only", "key", key, "error", err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	if err := t.fast.Put(ctx, key, doc); err != nil {
		t.logger.Warn("fast tier repopulation failed", "key", key, "error", err)
	}
	return doc, true, nil
}

// Put writes both tiers.
func (t *Tiered) Put(ctx context.Context, key string, doc []byte) error {
	if err := t.fast.Put(ctx, key, doc); err != nil {
		t.logger.Warn("fast tier write failed", "key", key, "error", err)
	}
	return t.durable.Put(ctx, key, doc)
}
