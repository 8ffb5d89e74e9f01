// Package cache is the key/value service the sync engine memoises into.
//
// Two values live here: the field-definition checksum of every synced list
// (no TTL, overwritten on change), and the request fingerprint the queue
// producer writes so stale messages can be dropped.  Redis is the shared
// backend; Memory serves single-process runs and tests.
package cache

import (
	"context"
	"time"
)

// Store is a byte-valued cache.  A ttl <= 0 means the entry never expires.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// GetString returns the entry at key as a string; a missing entry reads as
// "".
func GetString(ctx context.Context, s Store, key string) (string, error) {
	b, found, err := s.Get(ctx, key)
	if err != nil || !found {
		return "", err
	}
	return string(b), nil
}
