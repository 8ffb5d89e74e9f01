// internal/queue/redis.go
//
// Redis Streams broker.
//
// Layout per queue name Q
// -----------------------
//   Q           stream; consumers read it through one consumer group
//   Q:delayed   sorted set of "<uuid>:<payload>" scored by due time (ms)
//   Q:dead      stream of rejected or undecodable payloads
//
// Each poll promotes due delayed entries, reclaims deliveries left pending
// longer than ClaimIdle by a crashed consumer (flagged Redelivered), then
// blocks on new entries.  Ack is XACK + XDEL so the stream does not grow
// without bound.
package queue

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Handler processes one delivery.
type Handler func(ctx context.Context, m *Message) Result

// BrokerOptions tunes the consumer side.  Zero fields take defaults.
type BrokerOptions struct {
	Group     string
	Consumer  string
	Block     time.Duration
	ClaimIdle time.Duration
	Count     int64
}

// Broker publishes to and consumes from Redis Streams queues.
type Broker struct {
	rdb  redis.UniversalClient
	opts BrokerOptions
	log  *zap.SugaredLogger
	now  func() time.Time
}

var _ Publisher = (*Broker)(nil)

// promoteScript moves due delayed entries onto the stream atomically.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(due) do
  local i = string.find(m, ':', 1, true)
  redis.call('XADD', KEYS[2], '*', 'payload', string.sub(m, i + 1))
  redis.call('ZREM', KEYS[1], m)
end
return #due
`)

// NewBroker wraps rdb.  A nil log discards events.
func NewBroker(rdb redis.UniversalClient, opts BrokerOptions, log *zap.SugaredLogger) *Broker {
	if opts.Group == "" {
		opts.Group = "fieldsync"
	}
	if opts.Consumer == "" {
		opts.Consumer = "fieldsync-" + uuid.NewString()
	}
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = 30 * time.Minute
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Broker{rdb: rdb, opts: opts, log: log, now: time.Now}
}

func delayedKey(queue string) string { return queue + ":delayed" }

// DeadKey is the dead-letter stream of queue.
func DeadKey(queue string) string { return queue + ":dead" }

// Publish sends m to queue, or to m.QueueName when queue is empty.  A
// positive delay parks the message until it is due.
func (b *Broker) Publish(ctx context.Context, queue string, m *Message, delay time.Duration) error {
	if queue == "" {
		queue = m.QueueName
	}
	if queue == "" {
		return errors.New("queue: publish without a queue name")
	}
	if m.QueueName == "" {
		m.QueueName = queue
	}
	payload, err := m.Encode()
	if err != nil {
		return err
	}

	if delay <= 0 {
		return b.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: queue,
			Values: map[string]any{"payload": payload},
		}).Err()
	}
	due := b.now().Add(delay).UnixMilli()
	return b.rdb.ZAdd(ctx, delayedKey(queue), redis.Z{
		Score:  float64(due),
		Member: uuid.NewString() + ":" + string(payload),
	}).Err()
}

// Consume polls queue until ctx ends.  Transient Redis errors are logged
// and retried after a short pause.
func (b *Broker) Consume(ctx context.Context, queue string, h Handler) error {
	if err := b.ensureGroup(ctx, queue); err != nil {
		return err
	}
	b.log.Infow("queue consumer started", "queue", queue, "group", b.opts.Group, "consumer", b.opts.Consumer)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := b.Poll(ctx, queue, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Errorw("queue poll failed", "queue", queue, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll runs one promote, reclaim, read cycle and returns how many
// deliveries were handled.
func (b *Broker) Poll(ctx context.Context, queue string, h Handler) (int, error) {
	if err := b.promote(ctx, queue); err != nil {
		return 0, err
	}

	handled := 0
	claimed, _, err := b.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   queue,
		Group:    b.opts.Group,
		Consumer: b.opts.Consumer,
		MinIdle:  b.opts.ClaimIdle,
		Start:    "0-0",
		Count:    b.opts.Count,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	for _, xm := range claimed {
		b.handle(ctx, queue, xm, true, h)
		handled++
	}

	streams, err := b.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.opts.Group,
		Consumer: b.opts.Consumer,
		Streams:  []string{queue, ">"},
		Count:    b.opts.Count,
		Block:    b.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return handled, nil
	}
	if err != nil {
		return handled, err
	}
	for _, s := range streams {
		for _, xm := range s.Messages {
			b.handle(ctx, queue, xm, false, h)
			handled++
		}
	}
	return handled, nil
}

func (b *Broker) ensureGroup(ctx context.Context, queue string) error {
	err := b.rdb.XGroupCreateMkStream(ctx, queue, b.opts.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (b *Broker) promote(ctx context.Context, queue string) error {
	now := b.now().UnixMilli()
	return promoteScript.Run(ctx, b.rdb, []string{delayedKey(queue), queue}, now, b.opts.Count).Err()
}

func (b *Broker) handle(ctx context.Context, queue string, xm redis.XMessage, redelivered bool, h Handler) {
	payload, _ := xm.Values["payload"].(string)
	m, err := Decode([]byte(payload))
	if err != nil {
		b.log.Errorw("undecodable queue message", "queue", queue, "id", xm.ID, "err", err)
		b.deadLetter(ctx, queue, payload, "decode")
		b.ack(ctx, queue, xm.ID)
		return
	}
	m.ID, m.Redelivered = xm.ID, redelivered
	if m.QueueName == "" {
		m.QueueName = queue
	}

	if h(ctx, m) == Reject {
		b.deadLetter(ctx, queue, payload, "rejected")
	}
	b.ack(ctx, queue, xm.ID)
}

func (b *Broker) deadLetter(ctx context.Context, queue, payload, reason string) {
	err := b.rdb.XAdd(context.WithoutCancel(ctx), &redis.XAddArgs{
		Stream: DeadKey(queue),
		Values: map[string]any{"payload": payload, "reason": reason},
	}).Err()
	if err != nil {
		b.log.Errorw("dead-letter publish failed", "queue", queue, "err", err)
	}
}

func (b *Broker) ack(ctx context.Context, queue, id string) {
	ctx = context.WithoutCancel(ctx)
	_, err := b.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.XAck(ctx, queue, b.opts.Group, id)
		p.XDel(ctx, queue, id)
		return nil
	})
	if err != nil {
		b.log.Errorw("queue ack failed", "queue", queue, "id", id, "err", err)
	}
}
