package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

const Window = 7 * 24 * time.Hour

// Weekly enqueues one WeeklySalesReport per seller that completed at least
// one order in the trailing window.
type Weekly struct {
	Store   orders.Store
	Service string
	Now     func() time.Time
}

func (w *Weekly) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

// Run produces one round of reports and returns how many were enqueued.
func (w *Weekly) Run(ctx context.Context) (int, error) {
	to := w.now()
	from := to.Add(-Window)
	sales, err := w.Store.CompletedSales(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("aggregate sales: %w", err)
	}

	n := 0
	for _, s := range sales {
		if s.TotalOrders == 0 {
			continue
		}
		ev, err := orders.NewEnvelope(orders.EventWeeklySalesReport, w.Service, fmt.Sprint(s.SellerID), orders.WeeklySalesReportPayload{
			SellerID:     s.SellerID,
			TotalOrders:  s.TotalOrders,
			TotalRevenue: s.TotalRevenue,
			From:         from.UTC(),
			To:           to.UTC(),
		}, to)
		if err != nil {
			return n, err
		}
		if err := w.Store.InTx(ctx, func(tx orders.Tx) error {
			return tx.Enqueue(ctx, s.SellerID, ev)
		}); err != nil {
			return n, fmt.Errorf("enqueue report for seller %d: %w", s.SellerID, err)
		}
		n++
	}
	logging.Log(logging.Fields{
		Service: w.Service, Step: "report.weekly", Status: "ok",
		Message: fmt.Sprintf("%d seller reports", n),
	})
	return n, nil
}

// Schedule runs the report every interval until ctx ends. A non-positive
// interval disables it.
func (w *Weekly) Schedule(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Run(ctx); err != nil && ctx.Err() == nil {
				logging.Err(logging.Fields{Service: w.Service, Step: "report.weekly"}, err)
			}
		}
	}
}
