package orders

import (
	"context"
	"time"
)

// Store is the persistence boundary of the order engine. PGStore is the
// production implementation, MemStore backs tests and local runs.
type Store interface {
	// InTx runs fn as one all-or-nothing unit of work. A non-nil error from
	// fn discards every mutation made through tx, including enqueued events.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id int64) (Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error)
	ListOrdersBySeller(ctx context.Context, sellerID int64) ([]Order, error)
	SellerIDForUser(ctx context.Context, userID int64) (int64, error)

	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, f ProductFilter) ([]Product, int, error)

	CompletedSales(ctx context.Context, from, to time.Time) ([]SellerSales, error)
}

type Tx interface {
	// LockSellerQueue blocks until the caller holds the seller's queue for
	// the rest of the unit of work.
	LockSellerQueue(ctx context.Context, sellerID int64) error
	// QueueTail is the latest estimated_ready_at among the seller's
	// non-terminal orders, nil when the seller has none.
	QueueTail(ctx context.Context, sellerID int64) (*time.Time, error)

	ProductsByIDs(ctx context.Context, ids []int64) (map[int64]Product, error)
	// DecrementStock subtracts qty only if stock stays >= 0, otherwise it
	// returns ErrOutOfStock and leaves the row untouched.
	DecrementStock(ctx context.Context, productID int64, qty int) (Product, error)
	IncrementStock(ctx context.Context, productID int64, qty int) (Product, error)
	InsertProduct(ctx context.Context, p *Product) error
	LockProduct(ctx context.Context, id int64) (Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	// DeleteProduct refuses with ErrInUse while any order line references
	// the product.
	DeleteProduct(ctx context.Context, id int64) error

	InsertOrder(ctx context.Context, o *Order) error
	LockOrder(ctx context.Context, id int64) (Order, error)
	UpdateOrder(ctx context.Context, o *Order) error

	// Enqueue writes events to the outbox; they are relayed after commit.
	Enqueue(ctx context.Context, sellerID int64, events ...Envelope) error
}

// ProductFilter selects catalog rows. Zero values leave a field
// unconstrained; MinPrice and MaxPrice are inclusive.
type ProductFilter struct {
	Search   string
	Category string
	SellerID int64
	MinPrice int64
	MaxPrice int64
	Page     int
	Limit    int
}

func (f ProductFilter) Normalized() ProductFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 || f.Limit > 100 {
		f.Limit = 20
	}
	return f
}

// LastPage is the number of pages total rows span, at least 1.
func (f ProductFilter) LastPage(total int) int {
	f = f.Normalized()
	if total <= 0 {
		return 1
	}
	return (total + f.Limit - 1) / f.Limit
}

// Offset of the first row on f's page.
func (f ProductFilter) Offset() int {
	f = f.Normalized()
	return (f.Page - 1) * f.Limit
}
