package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

// OrderCache is a read-through cache of single orders. Writers invalidate
// after commit; the TTL bounds staleness if an invalidation is lost.
type OrderCache struct {
	R *redis.Client
}

// Get returns ok=false on a miss.
func (c *OrderCache) Get(ctx context.Context, id int64) (orders.Order, bool, error) {
	b, err := c.R.Get(ctx, fmt.Sprintf(KeyOrder, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	var o orders.Order
	if err := json.Unmarshal(b, &o); err != nil {
		return orders.Order{}, false, err
	}
	return o, true, nil
}

func (c *OrderCache) Set(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, TTLOrderCache).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, id int64) error {
	return c.R.Del(ctx, fmt.Sprintf(KeyOrder, id)).Err()
}
