// Package revision issues the tick values used for document revisions,
// generated document keys and collection ids.
package revision

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Source hands out ticks. Every value returned by one Source is distinct
// from, and greater than, every value it returned before.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// Clock is an in-process Source. Ticks follow the wall clock in
// microseconds so they keep increasing across restarts, and fall back to
// last+1 when the clock stalls or steps backwards.
type Clock struct {
	mu   sync.Mutex
	last uint64
	now  func() time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// WithNow replaces the time function. It returns c.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	c.now = now
	return c
}

func (c *Clock) Next(_ context.Context) (string, error) {
	return strconv.FormatUint(c.tick(), 10), nil
}

func (c *Clock) tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := uint64(c.now().UnixMicro())
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}

// RedisSource shares one tick counter between every server that talks to
// the same Redis, so revisions stay distinct across instances.
type RedisSource struct {
	client *redis.Client
	key    string
	floor  func() time.Time
}

// NewRedisSource uses key as the counter. The counter is lifted to the
// wall clock in microseconds the first time it is used.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	if key == "" {
		key = "revdoc:tick"
	}
	return &RedisSource{client: client, key: key, floor: time.Now}
}

func (s *RedisSource) Next(ctx context.Context) (string, error) {
	// seed once; SETNX keeps concurrent seeders from moving the counter back
	if err := s.client.SetNX(ctx, s.key, s.floor().UnixMicro(), 0).Err(); err != nil {
		return "", err
	}
	v, err := s.client.Incr(ctx, s.key).Result()
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}
