package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"paygate/internal/domain/ports/repository"
)

var _ repository.ReplayGuard = (*ReplayGuard)(nil)

// ReplayGuard claims webhook idempotency keys with SET NX so redelivered
// notifications short-circuit before touching the database.
type ReplayGuard struct {
	cli *redis.Client
}

func NewReplayGuard(c *Client) *ReplayGuard {
	return &ReplayGuard{cli: c.cli}
}

func (g *ReplayGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := g.cli.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

var luaRelease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (g *ReplayGuard) Release(ctx context.Context, key, token string) error {
	_, err := luaRelease.Run(ctx, g.cli, []string{key}, token).Result()
	return err
}
