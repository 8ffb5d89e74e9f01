package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testQueue = "sync_list_fields"

func newTestBroker(t *testing.T, opts BrokerOptions) (*Broker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	if opts.Block == 0 {
		opts.Block = 10 * time.Millisecond
	}
	b := NewBroker(rdb, opts, nil)
	require.NoError(t, b.ensureGroup(context.Background(), testQueue))
	return b, rdb
}

type collector struct {
	got    []*Message
	result Result
}

func (c *collector) handle(_ context.Context, m *Message) Result {
	c.got = append(c.got, m)
	return c.result
}

func TestBroker_PublishAndPoll(t *testing.T) {
	b, rdb := newTestBroker(t, BrokerOptions{})
	ctx := context.Background()

	m := &Message{ListID: 7, RequestKey: "k", RequestValue: "v"}
	require.NoError(t, b.Publish(ctx, testQueue, m, 0))

	c := &collector{}
	n, err := b.Poll(ctx, testQueue, c.handle)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got := c.got[0]
	assert.Equal(t, int64(7), got.ListID)
	assert.Equal(t, "v", got.RequestValue)
	assert.Equal(t, testQueue, got.QueueName)
	assert.False(t, got.Redelivered)
	assert.NotEmpty(t, got.ID)

	left, err := rdb.XLen(ctx, testQueue).Result()
	require.NoError(t, err)
	assert.Zero(t, left, "acked entries are deleted")
}

func TestBroker_DelayedDelivery(t *testing.T) {
	b, _ := newTestBroker(t, BrokerOptions{})
	ctx := context.Background()
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Publish(ctx, testQueue, &Message{ListID: 1}, time.Minute))
	require.NoError(t, b.Publish(ctx, testQueue, &Message{ListID: 1}, time.Minute))

	c := &collector{}
	n, err := b.Poll(ctx, testQueue, c.handle)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = now.Add(2 * time.Minute)
	n, err = b.Poll(ctx, testQueue, c.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "identical payloads are not collapsed")
}

func TestBroker_RejectDeadLetters(t *testing.T) {
	b, rdb := newTestBroker(t, BrokerOptions{})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, testQueue, &Message{ListID: 2}, 0))
	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: testQueue, Values: map[string]any{"payload": "{"}}).Err())

	c := &collector{result: Reject}
	n, err := b.Poll(ctx, testQueue, c.handle)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, c.got, 1, "undecodable payload never reaches the handler")

	dead, err := rdb.XRange(ctx, DeadKey(testQueue), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, dead, 2)
	assert.Equal(t, "rejected", dead[0].Values["reason"])
	assert.Equal(t, "decode", dead[1].Values["reason"])
}

func TestBroker_ReclaimsStalePending(t *testing.T) {
	b, rdb := newTestBroker(t, BrokerOptions{ClaimIdle: time.Millisecond})
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, testQueue, &Message{ListID: 3}, 0))

	// A consumer that reads and dies before acking.
	_, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.opts.Group,
		Consumer: "crashed",
		Streams:  []string{testQueue, ">"},
		Count:    1,
	}).Result()
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	c := &collector{}
	n, err := b.Poll(ctx, testQueue, c.handle)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.True(t, c.got[0].Redelivered)
}

func TestBroker_PublishNeedsQueue(t *testing.T) {
	b, _ := newTestBroker(t, BrokerOptions{})
	assert.Error(t, b.Publish(context.Background(), "", &Message{}, 0))
}
