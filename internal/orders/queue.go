package orders

import (
	"fmt"
	"math"
	"time"
)

// EstimateReadyAt models one sequential preparation line per seller: the new
// order starts when the current tail finishes, or now if the line is idle or
// the tail is already in the past.
func EstimateReadyAt(now time.Time, tail *time.Time, prep time.Duration) time.Time {
	start := now
	if tail != nil && tail.After(now) {
		start = *tail
	}
	return start.Add(prep)
}

const maxPrepMinutes = int64(math.MaxInt64 / int64(time.Minute))

// PrepDuration is the linear prep model: qty units of a p-minute item cost
// qty*p minutes of the seller's time. A total that does not fit in a
// time.Duration is a validation error.
func PrepDuration(products map[int64]Product, items []ItemInput) (time.Duration, error) {
	var minutes int64
	for _, it := range items {
		prep, qty := int64(products[it.ProductID].PrepTime), int64(it.Quantity)
		if prep > 0 && qty > (maxPrepMinutes-minutes)/prep {
			return 0, fmt.Errorf("%w: preparation time of the order is too long", ErrValidation)
		}
		minutes += prep * qty
	}
	return time.Duration(minutes) * time.Minute, nil
}

// lineTotal adds price*qty to total, refusing amounts that overflow.
func lineTotal(total, price int64, qty int) (int64, error) {
	q := int64(qty)
	if price > 0 && q > 0 && (price > math.MaxInt64/q || total > math.MaxInt64-price*q) {
		return 0, fmt.Errorf("%w: order total is too large", ErrValidation)
	}
	return total + price*q, nil
}
