// internal/queue/processor.go
//
// Processor for "list import finished, sync the list fields" messages.
//
// Context
// -------
// Producers enqueue a sync whenever an import into a list finishes.  Several
// imports in a row produce several messages; only the newest one matters,
// and a list is never synced by two workers at once.
//
// Decision order
// --------------
//  1. Redelivered               → Ack (never retried by the broker).
//  2. Fingerprint superseded    → Ack (a newer request exists).
//  3. Attempts exhausted        → Reject.
//  4. List gone or inactive     → Ack.
//  5. List lease busy           → requeue a copy with current+1, Ack.
//  6. Otherwise notify "started", run while extending the lease, notify
//     "completed" or "error", release the lease, Ack.
//
// Notes
// -----
// • The requeue delay grows linearly: current × base delay.  The base delay
//   travels unchanged in the copy.
// • Cache, list, or lock-service failures before the lease is held take the
//   requeue path as well.
// • A requeue whose copy would exceed max attempts rejects instead, on
//   every path.
// • Runner errors and panics are logged, never returned.
package queue

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/fieldsync/internal/cache"
	"github.com/yanizio/fieldsync/internal/fieldsync"
	"github.com/yanizio/fieldsync/internal/metrics"
	"github.com/yanizio/fieldsync/internal/mutex"
	"github.com/yanizio/fieldsync/internal/store"
)

// Dispositions reported on QueueMessagesTotal.
const (
	dispRedelivered = "redelivered"
	dispSuperseded  = "superseded"
	dispExhausted   = "exhausted"
	dispNoList      = "list_not_found"
	dispRequeued    = "requeued"
	dispSynced      = "synced"
	dispFailed      = "failed"
)

// Lists finds active lists.  *store.Repository satisfies it.
type Lists interface {
	ActiveList(ctx context.Context, listID int64) (*store.List, error)
}

// Runner syncs one list.  *fieldsync.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, listID int64, logf fieldsync.LogFunc) (bool, error)
}

// Publisher sends a message to a named queue after delay.
type Publisher interface {
	Publish(ctx context.Context, queue string, m *Message, delay time.Duration) error
}

// Notifier reports sync lifecycle to the list owner.  *notify.Notifier
// satisfies it.
type Notifier interface {
	Started(ctx context.Context, l *store.List) error
	Completed(ctx context.Context, l *store.List) error
	Failed(ctx context.Context, l *store.List) error
}

// Processor decides the fate of one delivery.  It is safe for concurrent
// use.
type Processor struct {
	cache  cache.Store
	lists  Lists
	locker mutex.Locker
	runner Runner
	pub    Publisher
	notify Notifier
	log    *zap.SugaredLogger
}

// NewProcessor wires a processor.  A nil log discards events.
func NewProcessor(c cache.Store, lists Lists, locker mutex.Locker, runner Runner, pub Publisher, n Notifier, log *zap.SugaredLogger) *Processor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Processor{cache: c, lists: lists, locker: locker, runner: runner, pub: pub, notify: n, log: log}
}

// AccessKey is the per-list lease a queued sync holds.
func AccessKey(listID int64) string {
	sum := sha1.Sum([]byte("fieldsync.queue.sync_list_fields:list:" + strconv.FormatInt(listID, 10) + ":access"))
	return hex.EncodeToString(sum[:])
}

// Process handles m and reports whether to ack or reject it.
func (p *Processor) Process(ctx context.Context, m *Message) (res Result) {
	log := p.log.With("list_id", m.ListID, "message_id", m.ID)
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("queue processor panic", "panic", rec)
			metrics.QueueMessagesTotal.WithLabelValues(dispFailed).Inc()
			res = Ack
		}
	}()

	if m.Redelivered {
		return p.done(dispRedelivered, Ack)
	}

	current, err := cache.GetString(ctx, p.cache, m.RequestKey)
	if err != nil {
		return p.requeue(ctx, m, fmt.Errorf("read request fingerprint: %w", err))
	}
	if current != m.RequestValue {
		log.Debugw("queue message superseded by a newer request")
		return p.done(dispSuperseded, Ack)
	}

	m.withDefaults()
	if m.Retry.Attempts.Current > m.Retry.Attempts.Max {
		log.Warnw("queue message out of attempts", "max", m.Retry.Attempts.Max)
		return p.done(dispExhausted, Reject)
	}

	list, err := p.lists.ActiveList(ctx, m.ListID)
	if errors.Is(err, store.ErrNotFound) {
		return p.done(dispNoList, Ack)
	}
	if err != nil {
		return p.requeue(ctx, m, err)
	}

	key := AccessKey(list.ID)
	ok, err := p.locker.Acquire(ctx, key, 0)
	if err != nil {
		return p.requeue(ctx, m, fmt.Errorf("acquire list lease: %w", err))
	}
	if !ok {
		return p.requeue(ctx, m, nil)
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Warnw("list lease release failed", "err", err)
		}
	}()

	held, stop := mutex.Hold(ctx, p.locker, key, log)
	defer stop()

	if err := p.notify.Started(ctx, list); err != nil {
		log.Errorw("started notification failed", "err", err)
	}

	runErr := p.run(held, list.ID)
	note := p.notify.Completed
	disp := dispSynced
	if runErr != nil {
		log.Errorw("queued list sync failed", "err", runErr)
		note, disp = p.notify.Failed, dispFailed
	}
	if err := note(ctx, list); err != nil {
		log.Errorw("result notification failed", "err", err)
	}
	return p.done(disp, Ack)
}

// run calls the runner and turns a panic into an error.  A busy sync lease
// (false) counts as completed: another run is already on it.
func (p *Processor) run(ctx context.Context, listID int64) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sync runner panic: %v", rec)
		}
	}()
	_, err = p.runner.Run(ctx, listID, nil)
	return err
}

// requeue publishes a copy with one more attempt and acks the original.
// Once the copy would exceed max attempts the original is rejected instead.
// cause is nil for plain lease contention.
func (p *Processor) requeue(ctx context.Context, m *Message, cause error) Result {
	m.withDefaults()
	next := m.Clone()
	next.Retry.Attempts.Current++
	delay := time.Duration(m.Retry.Attempts.Current) * m.Retry.Attempts.RetryDelay()

	log := p.log.With("list_id", m.ListID, "attempt", next.Retry.Attempts.Current, "delay", delay)
	if next.Retry.Attempts.Current > m.Retry.Attempts.Max {
		log.Warnw("queue message out of attempts", "max", m.Retry.Attempts.Max, "err", cause)
		return p.done(dispExhausted, Reject)
	}
	if cause != nil {
		log.Warnw("queue message requeued after error", "err", cause)
	} else {
		log.Infow("list busy, queue message requeued")
	}
	if err := p.pub.Publish(ctx, m.QueueName, next, delay); err != nil {
		log.Errorw("requeue publish failed", "err", err)
	}
	return p.done(dispRequeued, Ack)
}

func (p *Processor) done(disposition string, r Result) Result {
	metrics.QueueMessagesTotal.WithLabelValues(disposition).Inc()
	return r
}
