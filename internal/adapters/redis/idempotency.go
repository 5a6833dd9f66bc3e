package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Admitter backs the idempotency guard with SET NX, which makes the
// admit/reject decision atomic across processes.
type Admitter struct {
	client *redis.Client
}

func NewAdmitter(client *redis.Client) *Admitter {
	return &Admitter{client: client}
}

func (a *Admitter) Admit(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res := a.client.SetNX(ctx, "seen:"+key, 1, ttl)
	return res.Val(), res.Err()
}

// Release drops an admitted key whose processing failed, so the provider's
// retry of the same delivery passes the guard.
func (a *Admitter) Release(ctx context.Context, key string) error {
	return a.client.Del(ctx, "seen:"+key).Err()
}
