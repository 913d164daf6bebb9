// Package ratelimit counts requests per key in fixed windows.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

type Limiter interface {
	// Allow records one hit for key and reports whether it is within the
	// limit of the current window.
	Allow(ctx context.Context, key string) (bool, error)
}

const keyPrefix = "livechat:ratelimit:"

// fixedWindowScript increments the counter and starts the window on the
// first hit, atomically.
const fixedWindowScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`

// RedisFixedWindow shares counters between replicas.
type RedisFixedWindow struct {
	rdb    redis.UniversalClient
	script *redis.Script
	limit  int
	window time.Duration
}

func NewRedisFixedWindow(rdb redis.UniversalClient, limit int, window time.Duration) *RedisFixedWindow {
	return &RedisFixedWindow{
		rdb:    rdb,
		script: redis.NewScript(fixedWindowScript),
		limit:  limit,
		window: window,
	}
}

func (l *RedisFixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.script.Run(ctx, l.rdb, []string{keyPrefix + key}, l.limit, l.window.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

type counter struct {
	start time.Time
	count int
}

// MemoryFixedWindow keeps counters in process.
type MemoryFixedWindow struct {
	mu      sync.Mutex
	windows map[string]*counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryFixedWindow(limit int, windowSize time.Duration) *MemoryFixedWindow {
	return &MemoryFixedWindow{
		windows: make(map[string]*counter),
		limit:   limit,
		window:  windowSize,
		now:     time.Now,
	}
}

func (l *MemoryFixedWindow) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		l.evictExpired(now)
		w = &counter{start: now}
		l.windows[key] = w
	}
	w.count++
	return w.count <= l.limit, nil
}

func (l *MemoryFixedWindow) evictExpired(now time.Time) {
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, key)
		}
	}
}
