package fieldsync

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/fieldsync/internal/cache"
	"github.com/yanizio/fieldsync/internal/mutex"
	"github.com/yanizio/fieldsync/internal/store"
)

func redisRunner(t *testing.T, db *fakeDB, c cache.Store, rdb redis.UniversalClient, ttl time.Duration) *Runner {
	t.Helper()
	r := NewRunner(db, c, mutex.NewRedis(rdb, "fieldsync:mutex:", ttl), nil, Options{LockWait: 20 * time.Millisecond})
	r.now = func() time.Time { return fixedNow }
	return r
}

func TestSync_LeaseHeldPastTTLWhileRunning(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	const ttl = 30 * time.Millisecond
	db := newFakeDB(2, store.Field{ID: 1, Tag: "CITY", DefaultValue: "Paris"})
	db.gate, db.entered = make(chan struct{}), make(chan struct{})
	c := cache.NewMemory(64)
	first, second := redisRunner(t, db, c, rdb, ttl), redisRunner(t, db, c, rdb, ttl)

	type result struct {
		rep Report
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, err := first.Sync(ctx, 1, nil)
		done <- result{rep, err}
	}()
	<-db.entered

	key := "fieldsync:mutex:" + LockKey(ChecksumKey(1, 2), fixedNow)
	for i := 0; i < 5; i++ {
		mr.FastForward(20 * time.Millisecond)
		require.Eventually(t, func() bool { return mr.TTL(key) == ttl },
			time.Second, time.Millisecond, "lease not extended")
	}

	rep, err := second.Sync(ctx, 1, nil)
	require.NoError(t, err)
	assert.False(t, rep.Acquired, "a running sync keeps the list")

	close(db.gate)
	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.rep.Acquired)
	assert.Equal(t, 2, res.rep.Stats.Inserted)
	for _, id := range []int64{1, 2} {
		assert.Equal(t, []string{"Paris"}, db.valuesOf(1, id))
	}
	assert.False(t, mr.Exists(key), "released after the run")
}

func TestSync_LostLeaseFailsRun(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	db := newFakeDB(2, store.Field{ID: 1, Tag: "CITY", DefaultValue: "Paris"})
	db.gate, db.entered = make(chan struct{}), make(chan struct{})
	c := cache.NewMemory(64)
	r := redisRunner(t, db, c, rdb, 30*time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := r.Sync(ctx, 1, nil)
		done <- err
	}()
	<-db.entered

	// Another process takes the list over.
	key := "fieldsync:mutex:" + LockKey(ChecksumKey(1, 2), fixedNow)
	require.NoError(t, mr.Set(key, "someone-else"))
	time.Sleep(50 * time.Millisecond)
	close(db.gate)

	err := <-done
	require.ErrorIs(t, err, mutex.ErrLeaseLost)
	got, gerr := mr.Get(key)
	require.NoError(t, gerr)
	assert.Equal(t, "someone-else", got, "foreign lease untouched")
	v, cerr := cache.GetString(ctx, c, ChecksumKey(1, 2))
	require.NoError(t, cerr)
	assert.Empty(t, v, "checksum not stored")
}
