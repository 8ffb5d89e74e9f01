// internal/fieldsync/runner.go
//
// List custom-fields sync runner.
//
// Context
// -------
// For one list, make sure every subscriber holds one `list_field_value`
// row per field definition, filling gaps with the definition's rendered
// default.  Lists can hold millions of subscribers, so the work is paged
// by subscriber_id and fanned out in rounds of concurrent workers.
//
// Workflow
// --------
//  1. Count subscribers and derive the checksum key from (list, count).
//  2. Take the per-list, per-day lease with a bounded wait.  Losing the race
//     is a plain `false`.
//  3. Compare AVG(list_field.last_updated) with the cached checksum; equal
//     means nothing changed since the last good run.
//  4. Otherwise run rounds of `Workers` pages until a round in which every
//     worker loaded zero subscribers, then store the checksum.
//
// Notes
// -----
// • The lease is extended while the run is alive and released on every
//   path, errors included.  A run that loses its lease stops and fails.
//   The checksum is only written after a clean run, so a failed run is
//   redone next time.
// • Paging by offset is not stable if the list changes mid-run; a row may
//   be visited twice or skipped until the next run.
package fieldsync

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yanizio/fieldsync/internal/cache"
	"github.com/yanizio/fieldsync/internal/metrics"
	"github.com/yanizio/fieldsync/internal/mutex"
	"github.com/yanizio/fieldsync/internal/store"
	"github.com/yanizio/fieldsync/internal/tags"
)

// LogFunc receives human-readable progress lines.  It may be called from
// several goroutines, one line at a time.
type LogFunc func(string)

// Store is what the runner needs from the database.
type Store interface {
	CountSubscribers(ctx context.Context, listID int64) (int, error)
	FieldsChecksum(ctx context.Context, listID int64) (string, error)
	Fields(ctx context.Context, listID int64) ([]store.Field, error)
	Session(ctx context.Context) (store.Session, error)
}

// Options tunes paging and fan-out.  Zero fields take the defaults below.
type Options struct {
	PageSize    int
	Workers     int
	InsertChunk int
	LockWait    time.Duration
}

const (
	defaultPageSize    = 1000
	defaultWorkers     = 10
	defaultInsertChunk = 100
	defaultLockWait    = 10 * time.Second
)

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = defaultPageSize
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.InsertChunk <= 0 {
		o.InsertChunk = defaultInsertChunk
	}
	if o.LockWait <= 0 {
		o.LockWait = defaultLockWait
	}
	return o
}

// Report describes one Sync call.
type Report struct {
	Acquired bool // false: another run holds today's lease
	Changed  bool // false: checksum matched, nothing was paged
	Rounds   int
	Stats    BatchStats
}

// Runner is safe for concurrent use across lists.
type Runner struct {
	store  Store
	cache  cache.Store
	locker mutex.Locker
	log    *zap.SugaredLogger
	opts   Options
	now    func() time.Time
	render tags.Renderer
}

// NewRunner wires a runner.  A nil log discards structured events.
func NewRunner(st Store, c cache.Store, l mutex.Locker, log *zap.SugaredLogger, opts Options) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Runner{
		store:  st,
		cache:  c,
		locker: l,
		log:    log,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
	r.render = tags.Renderer{Now: func() time.Time { return r.now() }}
	return r
}

// ChecksumKey is the cache key holding the last synced checksum of a list
// with count subscribers.
func ChecksumKey(listID int64, count int) string {
	sum := sha1.Sum([]byte("fieldsync.sync_custom_fields_values.list_id." +
		strconv.FormatInt(listID, 10) + ".avg_last_updated.count_" + strconv.Itoa(count)))
	return hex.EncodeToString(sum[:])
}

// LockKey scopes a checksum key to one calendar day.
func LockKey(checksumKey string, day time.Time) string {
	return checksumKey + ":" + day.Format("20060102")
}

// Run syncs one list.  It returns false when another run holds the list's
// lease for today; callers should try again later.
func (r *Runner) Run(ctx context.Context, listID int64, logf LogFunc) (bool, error) {
	rep, err := r.Sync(ctx, listID, logf)
	return rep.Acquired, err
}

// Sync is Run with a detailed report.
func (r *Runner) Sync(ctx context.Context, listID int64, logf LogFunc) (rep Report, err error) {
	p := progress(logf)
	p("Processing list id: %d", listID)

	count, err := r.store.CountSubscribers(ctx, listID)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(metrics.RunFailed).Inc()
		return rep, err
	}
	key := ChecksumKey(listID, count)
	lockKey := LockKey(key, r.now())

	p("Acquiring the mutex lock...")
	ok, err := r.locker.Acquire(ctx, lockKey, r.opts.LockWait)
	if err != nil {
		metrics.SyncRunsTotal.WithLabelValues(metrics.RunFailed).Inc()
		return rep, err
	}
	if !ok {
		p("Unable to acquire the mutex lock, another sync is running for this list today")
		metrics.SyncRunsTotal.WithLabelValues(metrics.RunLocked).Inc()
		return rep, nil
	}
	rep.Acquired = true
	defer func() {
		if rerr := r.locker.Release(context.WithoutCancel(ctx), lockKey); rerr != nil {
			r.log.Warnw("sync lease release failed", "list_id", listID, "err", rerr)
		}
		if err != nil {
			metrics.SyncRunsTotal.WithLabelValues(metrics.RunFailed).Inc()
			r.log.Errorw("list sync failed", "list_id", listID, "err", err)
		}
	}()
	held, stop := mutex.Hold(ctx, r.locker, lockKey, r.log)
	defer stop()

	avg, err := r.store.FieldsChecksum(held, listID)
	if err != nil {
		return rep, err
	}
	cached, err := cache.GetString(held, r.cache, key)
	if err != nil {
		return rep, fmt.Errorf("read checksum of list %d: %w", listID, err)
	}
	if avg == cached {
		p("No change detected in the custom fields for this list!")
		metrics.SyncRunsTotal.WithLabelValues(metrics.RunUnchanged).Inc()
		return rep, nil
	}
	rep.Changed = true
	r.log.Infow("list sync started", "list_id", listID, "subscribers", count, "checksum", avg)

	start := time.Now()
	p("Loading all custom fields for this list...")
	fields, err := r.store.Fields(held, listID)
	if err != nil {
		return rep, err
	}

	rep.Rounds, rep.Stats, err = r.page(held, listID, fields, p)
	if lost := context.Cause(held); errors.Is(lost, mutex.ErrLeaseLost) {
		return rep, fmt.Errorf("sync list %d: %w", listID, lost)
	}
	if err != nil {
		return rep, err
	}

	if err = r.cache.Set(held, key, []byte(avg), 0); err != nil {
		return rep, fmt.Errorf("store checksum of list %d: %w", listID, err)
	}

	metrics.SyncRunsTotal.WithLabelValues(metrics.RunSynced).Inc()
	metrics.SyncRunDuration.Observe(time.Since(start).Seconds())
	r.log.Infow("list synced",
		"list_id", listID,
		"subscribers", count,
		"rounds", rep.Rounds,
		"inserted", rep.Stats.Inserted,
		"pruned", rep.Stats.Pruned,
		"failed", rep.Stats.Failed,
	)
	p("Done, no more subscribers for this list!")
	return rep, nil
}

// page runs rounds until one in which every worker came back empty.
func (r *Runner) page(ctx context.Context, listID int64, fields []store.Field, p progressFunc) (int, BatchStats, error) {
	var total BatchStats
	size, width := r.opts.PageSize, r.opts.Workers

	for round, offset := 1, 0; ; round, offset = round+1, offset+size*width {
		loaded := make([]int, width)
		stats := make([]BatchStats, width)

		var g errgroup.Group
		for i := 0; i < width; i++ {
			g.Go(func() error {
				var err error
				loaded[i], stats[i], err = r.work(ctx, listID, fields, offset+i*size, i, p)
				return err
			})
		}
		err := g.Wait()
		metrics.SyncRoundsTotal.Inc()

		empty := true
		for i := range stats {
			total.add(stats[i])
			if loaded[i] > 0 {
				empty = false
			}
		}
		if err != nil {
			return round, total, err
		}
		if empty {
			return round, total, nil
		}
	}
}

// work handles one page on its own connection.
func (r *Runner) work(ctx context.Context, listID int64, fields []store.Field, offset, worker int, p progressFunc) (int, BatchStats, error) {
	sess, err := r.store.Session(ctx)
	if err != nil {
		return 0, BatchStats{}, err
	}
	defer sess.Close()

	p("[%d] Loading subscribers set for the list with limit: %d and offset %d", worker, r.opts.PageSize, offset)
	subs, err := sess.SubscribersPage(ctx, listID, r.opts.PageSize, offset)
	if err != nil {
		return 0, BatchStats{}, err
	}
	if len(subs) == 0 {
		return 0, BatchStats{}, nil
	}

	st, err := r.processBatch(ctx, sess, fields, subs, worker, p)
	return len(subs), st, err
}

//
// progress sink
//

type progressFunc func(format string, args ...any)

func progress(logf LogFunc) progressFunc {
	if logf == nil {
		return func(string, ...any) {}
	}
	var mu sync.Mutex
	return func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		mu.Lock()
		logf(line)
		mu.Unlock()
	}
}
