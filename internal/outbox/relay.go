package outbox

import (
	"context"
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/metrics"
)

type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

type PublisherFunc func(ctx context.Context, rec Record) error

func (f PublisherFunc) Publish(ctx context.Context, rec Record) error { return f(ctx, rec) }

// Relay moves committed outbox records to a Publisher. Delivery is
// at-least-once: a record is marked sent only after Publish succeeds.
type Relay struct {
	Source    Source
	Publisher Publisher
	Interval  time.Duration
	Batch     int
	Metrics   *metrics.Metrics
	Service   string
}

func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
			logging.Err(logging.Fields{Service: r.Service, Step: "outbox.flush"}, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Flush relays one batch and reports how many records were published. The
// first publish failure ends the batch; the record is retried next time.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	recs, err := r.Source.FetchPending(ctx, batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rec := range recs {
		if err := r.Publisher.Publish(ctx, rec); err != nil {
			r.Metrics.Outbox(rec.Topic, "error")
			return sent, err
		}
		if err := r.Source.MarkSent(ctx, rec.ID); err != nil {
			return sent, err
		}
		r.Metrics.Outbox(rec.Topic, "ok")
		sent++
	}
	return sent, nil
}
