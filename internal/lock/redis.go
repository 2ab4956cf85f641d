package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token, so a
// holder whose TTL expired cannot release somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every replica pointing at the same Redis,
// for deployments where several processes populate one cache volume.
type Redis struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
	retry     time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
	// TTL bounds how long a crashed holder can block others.
	TTL time.Duration
	// RetryInterval is the polling interval while waiting.
	RetryInterval time.Duration
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}

	return &Redis{
		client:    client,
		namespace: cfg.Namespace,
		ttl:       ttl,
		retry:     retry,
	}, nil
}

func (r *Redis) redisKey(key string) string {
	if r.namespace == "" {
		return "lock:" + key
	}
	return r.namespace + ":lock:" + key
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.redisKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %q: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
	}, nil
}

// Ping checks if Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client connections.
func (r *Redis) Close() error {
	return r.client.Close()
}
