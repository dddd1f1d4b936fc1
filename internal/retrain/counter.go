// Package retrain counts labeled writes and, each time the count reaches the
// configured threshold, retrains the classifier out of line and hot-swaps the
// result.
package retrain

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultThreshold is the number of labeled writes between retrains.
const DefaultThreshold = 10000

// Counter is the shared request counter. Increment is atomic with respect to
// the threshold check: exactly one of every threshold increments reports
// fired, and that increment leaves the counter at 0.
type Counter interface {
	Increment(ctx context.Context) (fired bool, err error)
	Value(ctx context.Context) (int64, error)
}

// CounterStore persists a counter value.
type CounterStore interface {
	Load(ctx context.Context, name string) (int64, error)
	Store(ctx context.Context, name string, value int64) error
}

// LocalCounter is a process-wide counter guarded by a mutex and written
// through to a CounterStore.
type LocalCounter struct {
	mu        sync.Mutex
	value     int64
	threshold int64
	name      string
	store     CounterStore
}

// NewLocalCounter restores the persisted value of name. store may be nil for
// a purely in-memory counter.
func NewLocalCounter(ctx context.Context, store CounterStore, name string, threshold int64) (*LocalCounter, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("threshold must be positive, got %d", threshold)
	}
	c := &LocalCounter{
		threshold: threshold,
		name:      name,
		store:     store,
	}
	if store != nil {
		v, err := store.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		c.value = v
	}
	return c, nil
}

// Increment adds one. The in-memory value is always committed; a persistence
// error is returned alongside the correct fired result.
func (c *LocalCounter) Increment(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.value + 1
	fired := next >= c.threshold
	if fired {
		next = 0
	}
	c.value = next

	if c.store != nil {
		if err := c.store.Store(ctx, c.name, next); err != nil {
			return fired, err
		}
	}
	return fired, nil
}

func (c *LocalCounter) Value(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

// incrementScript increments and conditionally resets in one atomic step.
var incrementScript = redis.NewScript(`
	local value = redis.call('INCR', KEYS[1])
	if value >= tonumber(ARGV[1]) then
		redis.call('SET', KEYS[1], 0)
		return 1
	end
	return 0
`)

// RedisCounter shares the counter between instances through a Redis key.
type RedisCounter struct {
	rdb       redis.UniversalClient
	key       string
	threshold int64
}

func NewRedisCounter(rdb redis.UniversalClient, key string, threshold int64) (*RedisCounter, error) {
	if threshold < 1 {
		return nil, fmt.Errorf("threshold must be positive, got %d", threshold)
	}
	return &RedisCounter{rdb: rdb, key: key, threshold: threshold}, nil
}

func (c *RedisCounter) Increment(ctx context.Context) (bool, error) {
	res, err := incrementScript.Run(ctx, c.rdb, []string{c.key}, c.threshold).Int64()
	if err != nil {
		return false, fmt.Errorf("redis counter increment: %w", err)
	}
	return res == 1, nil
}

func (c *RedisCounter) Value(ctx context.Context) (int64, error) {
	s, err := c.rdb.Get(ctx, c.key).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis counter read: %w", err)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis counter value %q: %w", s, err)
	}
	return v, nil
}
