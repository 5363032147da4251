package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/docscan/internal/common"
)

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Redis keeps one key per document ({prefix}lock:{id}) holding the token, with a PX expiry.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "docscan:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(id uuid.UUID) string {
	return r.prefix + "lock:" + id.String()
}

func (r *Redis) Acquire(ctx context.Context, id uuid.UUID, ttl time.Duration) (string, error) {
	tok := newToken()
	ok, err := r.client.SetNX(ctx, r.key(id), tok, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis lock acquire: %w", err)
	}
	if !ok {
		return "", common.ErrAlreadyActive
	}
	return tok, nil
}

func (r *Redis) Refresh(ctx context.Context, id uuid.UUID, token string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, r.client, []string{r.key(id)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis lock refresh: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Release(ctx context.Context, id uuid.UUID, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key(id)}, token).Int()
	if err != nil {
		return fmt.Errorf("redis lock release: %w", err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Holder(ctx context.Context, id uuid.UUID) (string, bool, error) {
	tok, err := r.client.Get(ctx, r.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis lock holder: %w", err)
	}
	return tok, true, nil
}
