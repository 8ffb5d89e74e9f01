package queue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/yanizio/fieldsync/internal/cache"
)

// RequestKey is the cache key holding the fingerprint of a list's newest
// sync request.
func RequestKey(listID int64) string {
	sum := sha1.Sum([]byte("fieldsync.queue.sync_list_fields:list:" + strconv.FormatInt(listID, 10) + ":request"))
	return hex.EncodeToString(sum[:])
}

// Enqueuer is the producer side.  Each Enqueue overwrites the list's
// fingerprint, so older messages still in flight are dropped on delivery.
type Enqueuer struct {
	cache    cache.Store
	pub      Publisher
	queue    string
	newValue func() string
}

// NewEnqueuer publishes to queue.
func NewEnqueuer(c cache.Store, pub Publisher, queue string) *Enqueuer {
	return &Enqueuer{cache: c, pub: pub, queue: queue, newValue: uuid.NewString}
}

// Enqueue requests a sync of listID and returns the published message.
func (e *Enqueuer) Enqueue(ctx context.Context, listID int64) (*Message, error) {
	m := &Message{
		ListID:       listID,
		RequestKey:   RequestKey(listID),
		RequestValue: e.newValue(),
		QueueName:    e.queue,
	}
	m.withDefaults()

	if err := e.cache.Set(ctx, m.RequestKey, []byte(m.RequestValue), 0); err != nil {
		return nil, fmt.Errorf("store request fingerprint of list %d: %w", listID, err)
	}
	if err := e.pub.Publish(ctx, e.queue, m, 0); err != nil {
		return nil, fmt.Errorf("publish sync of list %d: %w", listID, err)
	}
	return m, nil
}
