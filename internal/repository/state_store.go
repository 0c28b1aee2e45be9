package repository

import (
	"context"
	"time"
)

// StateStore abstracts ephemeral key-value state: admin double-click dedupe
// keys and the repair-job cursor.
// Implementations: Redis (production) or in-memory (local dev / single-instance).
type StateStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX sets the key only if it does not exist yet; returns true when the
	// key was set. Used as an atomic first-writer-wins dedupe mark.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
