package mutex

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry only when the lease still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis implements Locker with SET NX PX leases.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	every  time.Duration

	mu     sync.Mutex
	tokens map[string]string // key → token of leases held by this process
}

// NewRedis returns a Locker whose leases expire after ttl.
func NewRedis(c redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{
		client: c,
		prefix: prefix,
		ttl:    ttl,
		every:  defaultPoll,
		tokens: make(map[string]string),
	}
}

func (r *Redis) Acquire(ctx context.Context, key string, wait time.Duration) (bool, error) {
	token := uuid.NewString()
	ok, err := poll(ctx, wait, r.every, func() (bool, error) {
		return r.client.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	})
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	token, held := r.tokens[key]
	delete(r.tokens, key)
	r.mu.Unlock()
	if !held {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{r.prefix + key}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Extend(ctx context.Context, key string) (bool, error) {
	r.mu.Lock()
	token, held := r.tokens[key]
	r.mu.Unlock()
	if !held {
		return false, nil
	}
	n, err := extendScript.Run(ctx, r.client, []string{r.prefix + key}, token, r.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend %s: %w", key, err)
	}
	return n == 1, nil
}

// TTL is the lifetime of a lease that is not extended.
func (r *Redis) TTL() time.Duration { return r.ttl }
