package orders

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/metrics"
)

const DefaultLowStockThreshold = 5

// FileStore keeps uploaded payment proofs and returns their reference path.
type FileStore interface {
	Save(ctx context.Context, filename string, r io.Reader) (string, error)
	Remove(ctx context.Context, path string) error
}

type Upload struct {
	Filename string
	Body     io.Reader
}

type Engine struct {
	Store   Store
	Files   FileStore
	Metrics *metrics.Metrics
	Service string

	// Stock at or below this level triggers a LowStockWarning.
	LowStockThreshold int
	// Put ordered quantities back on the shelf when an order is cancelled
	// or rejected.
	RestockOnCancel bool

	Now func() time.Time
}

func (e *Engine) now() time.Time {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().Truncate(time.Microsecond)
}

// Create prices the order from the catalog, places it at the tail of the
// seller's preparation queue and takes the stock, all in one unit of work.
func (e *Engine) Create(ctx context.Context, userID int64, in CreateOrderInput) (Order, error) {
	if userID <= 0 {
		return Order{}, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if err := in.Validate(); err != nil {
		return Order{}, err
	}

	start := time.Now()
	var (
		out      Order
		lowStock int
	)
	err := e.Store.InTx(ctx, func(tx Tx) error {
		lowStock = 0
		if err := tx.LockSellerQueue(ctx, in.SellerID); err != nil {
			return err
		}

		products, err := tx.ProductsByIDs(ctx, uniqueProductIDs(in.Items))
		if err != nil {
			return err
		}
		var total int64
		items := make([]OrderItem, 0, len(in.Items))
		for _, it := range in.Items {
			p, ok := products[it.ProductID]
			if !ok {
				return fmt.Errorf("%w: product %d", ErrNotFound, it.ProductID)
			}
			if p.SellerID != in.SellerID {
				return fmt.Errorf("%w: product %d is not sold by seller %d", ErrValidation, p.ID, in.SellerID)
			}
			if total, err = lineTotal(total, p.Price, it.Quantity); err != nil {
				return err
			}
			items = append(items, OrderItem{
				ProductID:   p.ID,
				ProductName: p.Name,
				Quantity:    it.Quantity,
				Price:       p.Price,
			})
		}

		tail, err := tx.QueueTail(ctx, in.SellerID)
		if err != nil {
			return err
		}
		prep, err := PrepDuration(products, in.Items)
		if err != nil {
			return err
		}
		now := e.now()
		readyAt := EstimateReadyAt(now, tail, prep)

		o := Order{
			UserID:           userID,
			SellerID:         in.SellerID,
			OrderType:        in.OrderType,
			Status:           StatusWaitingPayment,
			TotalAmount:      total,
			EstimatedReadyAt: &readyAt,
			Items:            items,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}

		var events []Envelope
		for _, it := range aggregateQuantities(in.Items) {
			p, err := tx.DecrementStock(ctx, it.ProductID, it.Quantity)
			if err != nil {
				return fmt.Errorf("product %d (%s): %w", it.ProductID, products[it.ProductID].Name, err)
			}
			if ev, ok, err := e.lowStockEvent(p, now); err != nil {
				return err
			} else if ok {
				events = append(events, ev)
				lowStock++
			}
		}

		confirm, err := NewEnvelope(EventOrderConfirmation, e.Service, fmt.Sprint(o.ID), OrderConfirmationPayload{
			OrderID:          o.ID,
			UserID:           o.UserID,
			SellerID:         o.SellerID,
			Status:           o.Status,
			TotalAmount:      o.TotalAmount,
			EstimatedReadyAt: o.EstimatedReadyAt,
		}, now)
		if err != nil {
			return err
		}
		alert, err := NewEnvelope(EventNewOrderAlert, e.Service, fmt.Sprint(o.ID), NewOrderAlertPayload{
			OrderID:     o.ID,
			SellerID:    o.SellerID,
			TotalAmount: o.TotalAmount,
		}, now)
		if err != nil {
			return err
		}
		events = append([]Envelope{confirm, alert}, events...)
		if err := tx.Enqueue(ctx, o.SellerID, events...); err != nil {
			return err
		}

		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	e.Metrics.OrderCreated(string(out.OrderType))
	for i := 0; i < lowStock; i++ {
		e.Metrics.LowStockWarning()
	}
	logging.Log(logging.Fields{
		Service: e.Service, OrderID: out.ID, SellerID: out.SellerID,
		Step: "order.create", Status: string(out.Status),
		DurationMS: time.Since(start).Milliseconds(),
		Message:    "ready at " + out.EstimatedReadyAt.Format(time.RFC3339),
	})
	return out, nil
}

func (e *Engine) lowStockEvent(p Product, at time.Time) (Envelope, bool, error) {
	if p.Stock > e.LowStockThreshold {
		return Envelope{}, false, nil
	}
	ev, err := NewEnvelope(EventLowStockWarning, e.Service, fmt.Sprint(p.ID), LowStockPayload{
		SellerID:     p.SellerID,
		ProductID:    p.ID,
		ProductName:  p.Name,
		CurrentStock: p.Stock,
	}, at)
	if err != nil {
		return Envelope{}, false, err
	}
	return ev, true, nil
}

// Transition moves an order to target. Asking for the status the order is
// already in is a no-op and emits nothing.
func (e *Engine) Transition(ctx context.Context, orderID int64, target Status) (Order, error) {
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}
	if target == StatusWaitingConfirmation {
		return Order{}, fmt.Errorf("%w: %s is reached by uploading payment proof", ErrInvalidTransition, target)
	}

	var (
		out  Order
		from Status
	)
	err := e.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		if o.Status == target {
			out = o
			return nil
		}
		if !CanTransition(o.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, target)
		}

		now := e.now()
		if e.RestockOnCancel && (target == StatusCancelled || target == StatusRejected) {
			for _, it := range aggregateQuantities(itemInputs(o.Items)) {
				if _, err := tx.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
					return err
				}
			}
		}

		o.Status = target
		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, &o); err != nil {
			return err
		}

		kind := EventOrderStatusUpdate
		if target == StatusReady {
			kind = EventOrderReady
		}
		ev, err := NewEnvelope(kind, e.Service, fmt.Sprint(o.ID), OrderStatusPayload{
			OrderID:          o.ID,
			UserID:           o.UserID,
			SellerID:         o.SellerID,
			Status:           o.Status,
			EstimatedReadyAt: o.EstimatedReadyAt,
		}, now)
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, o.SellerID, ev); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if from != target {
		e.Metrics.Transition(string(target))
		logging.Log(logging.Fields{
			Service: e.Service, OrderID: out.ID, SellerID: out.SellerID,
			Step: "order.transition", Status: string(target),
			Message: string(from) + " -> " + string(target),
		})
	}
	return out, nil
}

// UploadPaymentProof stores the proof and moves the order to
// WAITING_CONFIRMATION. A re-upload while still waiting for confirmation
// replaces the previous proof.
func (e *Engine) UploadPaymentProof(ctx context.Context, orderID int64, up Upload) (Order, error) {
	if up.Body == nil {
		return Order{}, fmt.Errorf("%w: no payment proof file supplied", ErrNotFound)
	}

	path, err := e.Files.Save(ctx, up.Filename, up.Body)
	if err != nil {
		return Order{}, fmt.Errorf("save payment proof: %w", err)
	}

	var (
		out      Order
		previous *string
	)
	err = e.Store.InTx(ctx, func(tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusWaitingPayment && o.Status != StatusWaitingConfirmation {
			return fmt.Errorf("%w: cannot accept payment proof in %s", ErrInvalidTransition, o.Status)
		}
		previous = o.PaymentProofURL
		o.PaymentProofURL = &path
		o.Status = StatusWaitingConfirmation
		o.UpdatedAt = e.now()
		if err := tx.UpdateOrder(ctx, &o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		if rmErr := e.Files.Remove(ctx, path); rmErr != nil {
			logging.Err(logging.Fields{Service: e.Service, OrderID: orderID, Step: "payment.cleanup"}, rmErr)
		}
		return Order{}, err
	}

	if previous != nil && *previous != path {
		if rmErr := e.Files.Remove(ctx, *previous); rmErr != nil {
			logging.Err(logging.Fields{Service: e.Service, OrderID: orderID, Step: "payment.replace"}, rmErr)
		}
	}
	logging.Log(logging.Fields{
		Service: e.Service, OrderID: out.ID, SellerID: out.SellerID,
		Step: "order.payment", Status: string(out.Status),
	})
	return out, nil
}

func (e *Engine) Get(ctx context.Context, id int64) (Order, error) {
	return e.Store.GetOrder(ctx, id)
}

func (e *Engine) ListForUser(ctx context.Context, userID int64) ([]Order, error) {
	return e.Store.ListOrdersByUser(ctx, userID)
}

func (e *Engine) ListForSeller(ctx context.Context, sellerID int64) ([]Order, error) {
	return e.Store.ListOrdersBySeller(ctx, sellerID)
}

// ListForCaller lists a seller's incoming orders or a customer's own orders.
// A seller without a profile has no orders.
func (e *Engine) ListForCaller(ctx context.Context, c Caller) ([]Order, error) {
	if c.Role != RoleSeller {
		return e.ListForUser(ctx, c.UserID)
	}
	sellerID, err := e.Store.SellerIDForUser(ctx, c.UserID)
	if err != nil {
		if isNotFound(err) {
			return []Order{}, nil
		}
		return nil, err
	}
	return e.ListForSeller(ctx, sellerID)
}

func uniqueProductIDs(items []ItemInput) []int64 {
	seen := make(map[int64]bool, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

// aggregateQuantities merges repeated lines per product, keeping first-seen
// order.
func aggregateQuantities(items []ItemInput) []ItemInput {
	idx := make(map[int64]int, len(items))
	out := make([]ItemInput, 0, len(items))
	for _, it := range items {
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, it)
	}
	return out
}

func itemInputs(items []OrderItem) []ItemInput {
	out := make([]ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
