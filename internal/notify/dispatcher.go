package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/mail"
	"github.com/ariefcatur/go-canteen-orders/internal/metrics"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
	"github.com/ariefcatur/go-canteen-orders/internal/outbox"
)

// Deduper claims event ids; redisx.Dedup is the production implementation.
type Deduper interface {
	First(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// Dispatcher turns order events into mail. Delivery problems are logged and
// counted, never returned: the order they describe is already committed.
type Dispatcher struct {
	Directory Directory
	Mailer    mail.Mailer
	Dedup     Deduper
	Metrics   *metrics.Metrics
	Service   string

	Attempts int
	Backoff  time.Duration
}

// Handle delivers one event. It returns an error only when the recipient
// lookup failed for a reason worth redelivering the event for.
func (d *Dispatcher) Handle(ctx context.Context, ev orders.Envelope) error {
	f := logging.Fields{Service: d.Service, EventID: ev.EventID, Step: "notify." + ev.EventType}

	if d.Dedup != nil {
		first, err := d.Dedup.First(ctx, ev.EventID)
		if err != nil {
			logging.Err(f, fmt.Errorf("dedup: %w", err))
		} else if !first {
			d.Metrics.Notification(ev.EventType, "duplicate")
			f.Status = "duplicate"
			logging.Log(f)
			return nil
		}
	}

	l, err := compose(ev)
	if err != nil {
		d.Metrics.Notification(ev.EventType, "invalid")
		logging.Err(f, err)
		return nil
	}

	contact, err := d.lookup(ctx, l)
	if errors.Is(err, orders.ErrNotFound) {
		d.Metrics.Notification(ev.EventType, "no_recipient")
		logging.Err(f, err)
		return nil
	}
	if err != nil {
		d.release(ctx, f, ev.EventID)
		return fmt.Errorf("resolve recipient: %w", err)
	}

	html, err := render(ev.EventType, contact.Name, l.payload)
	if err != nil {
		d.Metrics.Notification(ev.EventType, "invalid")
		logging.Err(f, err)
		return nil
	}

	msg := mail.Message{To: contact.Email, Subject: l.subject, HTML: html}
	if err := d.send(ctx, msg); err != nil {
		d.Metrics.Notification(ev.EventType, "failed")
		logging.Err(f, err)
		return nil
	}
	d.Metrics.Notification(ev.EventType, "sent")
	f.Status = "sent"
	f.Message = msg.To
	logging.Log(f)
	return nil
}

// PublishRecord lets the outbox relay hand records straight to the
// dispatcher when no broker is configured.
func (d *Dispatcher) PublishRecord(ctx context.Context, rec outbox.Record) error {
	var ev orders.Envelope
	if err := json.Unmarshal(rec.Payload, &ev); err != nil {
		logging.Err(logging.Fields{Service: d.Service, EventID: rec.EventID, Step: "notify.decode"}, err)
		return nil
	}
	return d.Handle(ctx, ev)
}

func (d *Dispatcher) lookup(ctx context.Context, l letter) (Contact, error) {
	if l.audience == toSeller {
		return d.Directory.SellerContact(ctx, l.recipient)
	}
	return d.Directory.UserContact(ctx, l.recipient)
}

// send tries up to Attempts times, waiting Backoff*n before attempt n+1.
func (d *Dispatcher) send(ctx context.Context, msg mail.Message) error {
	attempts := d.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = d.Mailer.Send(ctx, msg); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.Backoff * time.Duration(i)):
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func (d *Dispatcher) release(ctx context.Context, f logging.Fields, eventID string) {
	if d.Dedup == nil {
		return
	}
	if err := d.Dedup.Release(ctx, eventID); err != nil {
		logging.Err(f, fmt.Errorf("dedup release: %w", err))
	}
}
