package lock

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a crashed holder keeps a key.
const DefaultTTL = 2 * time.Minute

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client is the subset of a go-redis client the lock needs.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Redis serializes keys across processes with SET NX plus an owner token.
type Redis struct {
	client Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// RedisOptions configure a Redis lock. Zero values take defaults.
type RedisOptions struct {
	TTL   time.Duration
	Wait  time.Duration
	Retry time.Duration
}

// NewRedis creates a Redis lock.
func NewRedis(client Client, opts RedisOptions) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Wait <= 0 {
		opts.Wait = DefaultWait
	}
	if opts.Retry <= 0 {
		opts.Retry = 50 * time.Millisecond
	}
	return &Redis{
		client: client,
		ttl:    opts.TTL,
		wait:   opts.Wait,
		retry:  opts.Retry,
	}
}

// Acquire retries SET NX until it wins, the wait limit passes or ctx is done.
func (l *Redis) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, errors.Wrap(err, "setnx")
		}
		if ok {
			return func(ctx context.Context) error {
				if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
					return errors.Wrap(err, "release")
				}
				return nil
			}, nil
		}

		if !time.Now().Before(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-time.After(l.retry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
