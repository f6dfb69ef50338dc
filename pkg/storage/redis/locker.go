package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultLockTTL bounds how long a crashed holder can block a conversation.
	// A live holder keeps extending its lock, so turns may run longer.
	DefaultLockTTL = 30 * time.Second

	defaultRetryInterval = 50 * time.Millisecond
)

// Only the holder that set the token may release or extend the lock.
var (
	releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)
	extendScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)
)

// Locker serializes turns across replicas with SET NX PX locks. A held lock
// is extended every third of its TTL until it is released, so a slow turn
// never loses it while its process is alive.
type Locker struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	retry     time.Duration
}

// NewLocker creates a Locker sharing the driver's client and namespace.
// A zero ttl uses DefaultLockTTL.
func NewLocker(d *Driver, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Locker{
		client:    d.client,
		keyPrefix: d.keyPrefix,
		ttl:       ttl,
		retry:     defaultRetryInterval,
	}
}

func (l *Locker) lockKey(key string) string {
	return l.keyPrefix + "lock:" + key
}

func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := l.lockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock: %w", err)
		}
		if ok {
			return l.hold(lockKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// hold starts extending the lock and returns the function releasing it.
func (l *Locker) hold(lockKey, token string) func() {
	stop := make(chan struct{})
	stopped := make(chan struct{})
	go l.keepAlive(lockKey, token, stop, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-stopped

			// The turn's context may already be cancelled
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err()
		})
	}
}

func (l *Locker) keepAlive(lockKey, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := l.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		extended, err := extendScript.Run(ctx, l.client, []string{lockKey}, token, l.ttl.Milliseconds()).Int()
		cancel()

		// Another holder owns the key now; a transient error is retried on the next tick
		if err == nil && extended == 0 {
			return
		}
	}
}
