package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// SetBooking caches a read-side snapshot of a booking. The cache is an
// optimization for the read API; the store remains the source of truth.
func (c *Cache) SetBooking(ctx context.Context, b domain.Booking, ttl time.Duration) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, "booking:"+b.ID, data, ttl).Err()
}

// GetBooking returns the cached snapshot, or ok=false on a miss.
func (c *Cache) GetBooking(ctx context.Context, bookingID string) (domain.Booking, bool, error) {
	data, err := c.client.Get(ctx, "booking:"+bookingID).Bytes()
	if err == redis.Nil {
		return domain.Booking{}, false, nil
	}
	if err != nil {
		return domain.Booking{}, false, err
	}
	var b domain.Booking
	if err := json.Unmarshal(data, &b); err != nil {
		return domain.Booking{}, false, err
	}
	return b, true, nil
}

// InvalidateBooking drops the snapshot after an accepted transition.
func (c *Cache) InvalidateBooking(ctx context.Context, bookingID string) error {
	return c.client.Del(ctx, "booking:"+bookingID).Err()
}
