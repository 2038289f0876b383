package orders

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/outbox"
)

// MemStore is an in-process Store. Units of work are serialized by a single
// mutex and rolled back by restoring a snapshot. It also serves as the
// outbox Source for in-process relaying.
type MemStore struct {
	mu sync.Mutex

	nextProductID int64
	nextOrderID   int64
	nextItemID    int64
	nextOutboxID  int64

	products map[int64]Product
	orders   map[int64]Order
	sellers  map[int64]int64 // user id -> seller profile id
	outbox   []outbox.Record
}

func NewMemStore() *MemStore {
	return &MemStore{
		products: map[int64]Product{},
		orders:   map[int64]Order{},
		sellers:  map[int64]int64{},
	}
}

// AddSeller links a user account to a seller profile.
func (m *MemStore) AddSeller(userID, sellerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sellers[userID] = sellerID
}

// PutProduct seeds a product, assigning an id when p.ID is zero.
func (m *MemStore) PutProduct(p Product) Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == 0 {
		m.nextProductID++
		p.ID = m.nextProductID
	} else if p.ID > m.nextProductID {
		m.nextProductID = p.ID
	}
	m.products[p.ID] = p
	return p
}

// PutOrder seeds an order as-is, bypassing the engine.
func (m *MemStore) PutOrder(o Order) Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == 0 {
		m.nextOrderID++
		o.ID = m.nextOrderID
	} else if o.ID > m.nextOrderID {
		m.nextOrderID = o.ID
	}
	m.orders[o.ID] = cloneOrder(o)
	return o
}

type memSnapshot struct {
	nextProductID, nextOrderID, nextItemID, nextOutboxID int64

	products  map[int64]Product
	orders    map[int64]Order
	outboxLen int
}

func (m *MemStore) snapshot() memSnapshot {
	s := memSnapshot{
		nextProductID: m.nextProductID,
		nextOrderID:   m.nextOrderID,
		nextItemID:    m.nextItemID,
		nextOutboxID:  m.nextOutboxID,
		products:      make(map[int64]Product, len(m.products)),
		orders:        make(map[int64]Order, len(m.orders)),
		outboxLen:     len(m.outbox),
	}
	for k, v := range m.products {
		s.products[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	return s
}

func (m *MemStore) restore(s memSnapshot) {
	m.nextProductID, m.nextOrderID = s.nextProductID, s.nextOrderID
	m.nextItemID, m.nextOutboxID = s.nextItemID, s.nextOutboxID
	m.products, m.orders = s.products, s.orders
	m.outbox = m.outbox[:s.outboxLen]
}

func (m *MemStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := m.snapshot()
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *MemStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return cloneOrder(o), nil
}

func (m *MemStore) ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	return m.listOrders(func(o Order) bool { return o.UserID == userID }), nil
}

func (m *MemStore) ListOrdersBySeller(ctx context.Context, sellerID int64) ([]Order, error) {
	return m.listOrders(func(o Order) bool { return o.SellerID == sellerID }), nil
}

func (m *MemStore) listOrders(match func(Order) bool) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Order{}
	for _, o := range m.orders {
		if match(o) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *MemStore) SellerIDForUser(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.sellers[userID]
	if !ok {
		return 0, fmt.Errorf("%w: no seller profile for user %d", ErrNotFound, userID)
	}
	return id, nil
}

func (m *MemStore) GetProduct(ctx context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p, nil
}

func (m *MemStore) ListProducts(ctx context.Context, f ProductFilter) ([]Product, int, error) {
	f = f.Normalized()
	search := strings.ToLower(f.Search)
	m.mu.Lock()
	var all []Product
	for _, p := range m.products {
		if f.SellerID != 0 && p.SellerID != f.SellerID {
			continue
		}
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if (f.MinPrice > 0 && p.Price < f.MinPrice) || (f.MaxPrice > 0 && p.Price > f.MaxPrice) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(p.Name), search) &&
			!strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		all = append(all, p)
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	lo := f.Offset()
	if lo > total {
		lo = total
	}
	hi := lo + f.Limit
	if hi > total {
		hi = total
	}
	return append([]Product{}, all[lo:hi]...), total, nil
}

func (m *MemStore) CompletedSales(ctx context.Context, from, to time.Time) ([]SellerSales, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySeller := map[int64]*SellerSales{}
	for _, o := range m.orders {
		if o.Status != StatusCompleted || o.CreatedAt.Before(from) || o.CreatedAt.After(to) {
			continue
		}
		s, ok := bySeller[o.SellerID]
		if !ok {
			s = &SellerSales{SellerID: o.SellerID}
			bySeller[o.SellerID] = s
		}
		s.TotalOrders++
		s.TotalRevenue += o.TotalAmount
	}
	out := make([]SellerSales, 0, len(bySeller))
	for _, s := range bySeller {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SellerID < out[j].SellerID })
	return out, nil
}

// Events returns every enqueued outbox record, sent or not.
func (m *MemStore) Events() []outbox.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]outbox.Record{}, m.outbox...)
}

func (m *MemStore) FetchPending(ctx context.Context, limit int) ([]outbox.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []outbox.Record
	for _, rec := range m.outbox {
		if rec.SentAt == nil {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemStore) MarkSent(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.outbox {
		if m.outbox[i].ID == id {
			now := time.Now()
			m.outbox[i].SentAt = &now
			return nil
		}
	}
	return fmt.Errorf("%w: outbox record %d", ErrNotFound, id)
}

// memTx runs with MemStore.mu held.
type memTx struct{ m *MemStore }

// LockSellerQueue is a no-op: the whole unit of work already holds the
// store mutex.
func (t *memTx) LockSellerQueue(ctx context.Context, sellerID int64) error { return nil }

func (t *memTx) QueueTail(ctx context.Context, sellerID int64) (*time.Time, error) {
	var tail *time.Time
	for _, o := range t.m.orders {
		if o.SellerID != sellerID || o.Status.Terminal() || o.EstimatedReadyAt == nil {
			continue
		}
		if tail == nil || o.EstimatedReadyAt.After(*tail) {
			v := *o.EstimatedReadyAt
			tail = &v
		}
	}
	return tail, nil
}

func (t *memTx) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	for _, id := range ids {
		if p, ok := t.m.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memTx) DecrementStock(ctx context.Context, productID int64, qty int) (Product, error) {
	p, ok := t.m.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	if p.Stock < qty {
		return Product{}, ErrOutOfStock
	}
	p.Stock -= qty
	p.UpdatedAt = time.Now()
	t.m.products[productID] = p
	return p, nil
}

func (t *memTx) IncrementStock(ctx context.Context, productID int64, qty int) (Product, error) {
	p, ok := t.m.products[productID]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	p.Stock += qty
	p.UpdatedAt = time.Now()
	t.m.products[productID] = p
	return p, nil
}

func (t *memTx) InsertProduct(ctx context.Context, p *Product) error {
	t.m.nextProductID++
	p.ID = t.m.nextProductID
	t.m.products[p.ID] = *p
	return nil
}

func (t *memTx) LockProduct(ctx context.Context, id int64) (Product, error) {
	p, ok := t.m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p, nil
}

func (t *memTx) UpdateProduct(ctx context.Context, p *Product) error {
	if _, ok := t.m.products[p.ID]; !ok {
		return fmt.Errorf("%w: product %d", ErrNotFound, p.ID)
	}
	t.m.products[p.ID] = *p
	return nil
}

func (t *memTx) DeleteProduct(ctx context.Context, id int64) error {
	if _, ok := t.m.products[id]; !ok {
		return fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	for _, o := range t.m.orders {
		for _, it := range o.Items {
			if it.ProductID == id {
				return fmt.Errorf("%w: product %d is referenced by order %d", ErrInUse, id, o.ID)
			}
		}
	}
	delete(t.m.products, id)
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *Order) error {
	t.m.nextOrderID++
	o.ID = t.m.nextOrderID
	for i := range o.Items {
		t.m.nextItemID++
		o.Items[i].ID = t.m.nextItemID
		o.Items[i].OrderID = o.ID
	}
	t.m.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return cloneOrder(o), nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *Order) error {
	if _, ok := t.m.orders[o.ID]; !ok {
		return fmt.Errorf("%w: order %d", ErrNotFound, o.ID)
	}
	t.m.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) Enqueue(ctx context.Context, sellerID int64, events ...Envelope) error {
	for _, ev := range events {
		rec, err := outboxRecord(sellerID, ev)
		if err != nil {
			return err
		}
		t.m.nextOutboxID++
		rec.ID = t.m.nextOutboxID
		rec.CreatedAt = ev.OccurredAt
		t.m.outbox = append(t.m.outbox, rec)
	}
	return nil
}

func cloneOrder(o Order) Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	if o.EstimatedReadyAt != nil {
		v := *o.EstimatedReadyAt
		o.EstimatedReadyAt = &v
	}
	if o.PaymentProofURL != nil {
		v := *o.PaymentProofURL
		o.PaymentProofURL = &v
	}
	return o
}
