package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// renewScript pushes the expiry out only while the key still carries our
// token.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const keyPrefix = "livechat:lock:"

// RedisLocker shares locks between processes. Each key is a SET NX PX entry
// whose value is a per-acquisition token; ttl bounds how long a crashed
// holder can block others. While held, the lease is renewed every ttl/3.
type RedisLocker struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	wait    time.Duration
	backoff time.Duration
	log     zerolog.Logger
}

func NewRedisLocker(rdb redis.UniversalClient, ttl, wait time.Duration, log zerolog.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:     rdb,
		ttl:     ttl,
		wait:    wait,
		backoff: 25 * time.Millisecond,
		log:     log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := normalize(keys)
	token := uuid.NewString()

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	held := make([]string, 0, len(ordered))
	release := func() {
		// release must work even when the caller's context is gone.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := l.rdb.Eval(releaseCtx, releaseScript, []string{keyPrefix + held[i]}, token).Err(); err != nil {
				l.log.Warn().Err(err).Str("key", held[i]).Msg("release lock")
			}
		}
	}

	for _, key := range ordered {
		if err := l.acquire(waitCtx, keyPrefix+key, token); err != nil {
			release()
			return nil, fmt.Errorf("%w %s: %v", ErrLockTimeout, key, err)
		}
		held = append(held, key)
	}

	stopRenew := keepAlive(l.ttl/3, func() error {
		return l.renew(context.WithoutCancel(ctx), held, token)
	}, l.log)

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenew()
			release()
		})
	}, nil
}

func (l *RedisLocker) renew(ctx context.Context, keys []string, token string) error {
	ctx, cancel := context.WithTimeout(ctx, l.ttl/3)
	defer cancel()
	for _, key := range keys {
		n, err := l.rdb.Eval(ctx, renewScript, []string{keyPrefix + key}, token, l.ttl.Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("renew %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("%w %s", ErrLockLost, key)
		}
	}
	return nil
}

// keepAlive calls extend every interval until stop is called. It gives up
// once extend reports ErrLockLost; other errors are retried on the next tick.
func keepAlive(interval time.Duration, extend func() error, log zerolog.Logger) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if err := extend(); err != nil {
				if errors.Is(err, ErrLockLost) {
					log.Error().Err(err).Msg("lock lease lost while held")
					return
				}
				log.Warn().Err(err).Msg("renew lock lease")
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	delay := l.backoff
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return err
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if delay < 500*time.Millisecond {
			delay *= 2
		}
	}
}
