package redisstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when the caller's context ends before the lock
// could be taken.
var ErrLockTimeout = errors.New("redis lock: timed out waiting")

// release only deletes the key if it still carries our token.
var release = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extend pushes the expiry out only while the key still carries our token.
var extend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a per-key mutex shared by every instance talking to the same
// Redis. A held key is extended every ttl/3 until unlock; a crashed holder
// stops extending and the key expires after ttl.
type Lock struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	poll   time.Duration
	prefix string
}

func NewLock(rdb redis.UniversalClient, ttl time.Duration) *Lock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Lock{rdb: rdb, ttl: ttl, poll: 25 * time.Millisecond, prefix: "support_pilot:turn_lock:"}
}

func (l *Lock) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := uuid.NewString()

	t := time.NewTicker(l.poll)
	defer t.Stop()
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrLockTimeout, ctx.Err())
			}
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrLockTimeout, ctx.Err())
		case <-t.C:
		}
	}

	done := make(chan struct{})
	go l.keepAlive(k, token, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			// an unlock failure leaves the key to expire on its own
			_ = release.Run(rctx, l.rdb, []string{k}, token).Err()
		})
	}, nil
}

func (l *Lock) keepAlive(key, token string, done <-chan struct{}) {
	every := l.ttl / 3
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := extend.Run(ctx, l.rdb, []string{key}, token, l.ttl.Milliseconds()).Int()
		cancel()
		if err == nil && n == 0 {
			// the key expired or was taken over
			return
		}
	}
}
