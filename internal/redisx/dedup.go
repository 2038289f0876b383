package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which events a service already handled.
type Dedup struct {
	R       *redis.Client
	Service string
}

// First claims eventID and reports whether this is the first claim.
func (d *Dedup) First(ctx context.Context, eventID string) (bool, error) {
	return d.R.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), 1, TTLDedup).Result()
}

// Release drops the claim so a redelivery is processed again.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	return d.R.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Err()
}
