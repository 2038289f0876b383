package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-canteen-orders/internal/outbox"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeFiles struct {
	mu      sync.Mutex
	n       int
	saved   map[string]string
	removed []string
	failErr error
}

func (f *fakeFiles) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if f.failErr != nil {
		return "", f.failErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	ref := "/uploads/" + strings.Repeat("x", f.n) + "-" + name
	f.saved[ref] = string(b)
	return ref, nil
}

func (f *fakeFiles) Remove(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.saved, ref)
	f.removed = append(f.removed, ref)
	return nil
}

type harness struct {
	store  *MemStore
	engine *Engine
	clock  *clock
	files  *fakeFiles
}

const (
	seller   = int64(1)
	customer = int64(100)
)

func newHarness() *harness {
	store := NewMemStore()
	c := &clock{now: t0}
	files := &fakeFiles{saved: map[string]string{}}
	return &harness{
		store: store,
		clock: c,
		files: files,
		engine: &Engine{
			Store:             store,
			Files:             files,
			Service:           "test",
			LowStockThreshold: DefaultLowStockThreshold,
			Now:               c.Now,
		},
	}
}

func (h *harness) product(name string, price int64, stock, prep int) Product {
	return h.store.PutProduct(Product{SellerID: seller, Name: name, Price: price, Stock: stock, PrepTime: prep})
}

func (h *harness) order(t *testing.T, items ...ItemInput) Order {
	t.Helper()
	o, err := h.engine.Create(context.Background(), customer, CreateOrderInput{SellerID: seller, OrderType: OrderTypeDineIn, Items: items})
	require.NoError(t, err)
	return o
}

func (h *harness) stock(t *testing.T, id int64) int {
	t.Helper()
	p, err := h.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func eventsOf(t *testing.T, recs []outbox.Record, kind string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, rec := range recs {
		if rec.EventType != kind {
			continue
		}
		var ev Envelope
		require.NoError(t, json.Unmarshal(rec.Payload, &ev))
		out = append(out, ev)
	}
	return out
}

func payloadOf[T any](t *testing.T, ev Envelope) T {
	t.Helper()
	var p T
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	return p
}

func item(id int64, qty int) ItemInput { return ItemInput{ProductID: id, Quantity: qty} }

func TestCreate_TotalsSnapshotPrices(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 20, 5)
	teh := h.product("Es Teh", 4000, 20, 1)

	o := h.order(t, item(nasi.ID, 2), item(teh.ID, 1))

	assert.Equal(t, int64(34000), o.TotalAmount)
	assert.Equal(t, StatusWaitingPayment, o.Status)
	assert.Equal(t, customer, o.UserID)
	require.Len(t, o.Items, 2)
	assert.Equal(t, int64(15000), o.Items[0].Price)
	assert.Equal(t, "Nasi Goreng", o.Items[0].ProductName)

	price := int64(18000)
	cat := &Catalog{Store: h.store, Service: "test", LowStockThreshold: DefaultLowStockThreshold}
	_, err := cat.Update(context.Background(), seller, nasi.ID, ProductPatch{Price: &price})
	require.NoError(t, err)

	got, err := h.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(34000), got.TotalAmount)
	assert.Equal(t, int64(15000), got.Items[0].Price)
}

func TestCreate_EmptyQueueStartsNow(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 20, 5)

	o := h.order(t, item(nasi.ID, 2))

	require.NotNil(t, o.EstimatedReadyAt)
	assert.Equal(t, t0.Add(10*time.Minute), *o.EstimatedReadyAt)
	assert.False(t, o.EstimatedReadyAt.Before(o.CreatedAt))
}

func TestCreate_BackToBackOrdersQueue(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 20, 5)

	first := h.order(t, item(nasi.ID, 2))
	second := h.order(t, item(nasi.ID, 2))

	assert.Equal(t, t0.Add(10*time.Minute), *first.EstimatedReadyAt)
	assert.Equal(t, t0.Add(20*time.Minute), *second.EstimatedReadyAt)
}

func TestCreate_DrainedQueueRestartsAtNow(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 20, 5)

	h.order(t, item(nasi.ID, 2))
	h.clock.Advance(time.Hour)
	o := h.order(t, item(nasi.ID, 1))

	assert.Equal(t, t0.Add(time.Hour+5*time.Minute), *o.EstimatedReadyAt)
}

func TestCreate_TerminalOrdersLeaveTheQueue(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 20, 5)

	first := h.order(t, item(nasi.ID, 4))
	_, err := h.engine.Transition(context.Background(), first.ID, StatusCancelled)
	require.NoError(t, err)

	o := h.order(t, item(nasi.ID, 1))
	assert.Equal(t, t0.Add(5*time.Minute), *o.EstimatedReadyAt)
}

func TestCreate_QueuesArePerSeller(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 20, 5)
	kopi := h.store.PutProduct(Product{SellerID: 2, Name: "Kopi", Price: 10000, Stock: 20, PrepTime: 3})

	h.order(t, item(nasi.ID, 4))
	o, err := h.engine.Create(context.Background(), customer, CreateOrderInput{SellerID: 2, OrderType: OrderTypeTakeAway, Items: []ItemInput{item(kopi.ID, 1)}})
	require.NoError(t, err)

	assert.Equal(t, t0.Add(3*time.Minute), *o.EstimatedReadyAt)
}

func TestCreate_EventsInOrder(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 20, 5)

	o := h.order(t, item(nasi.ID, 1))

	recs := h.store.Events()
	require.Len(t, recs, 2)
	assert.Equal(t, EventOrderConfirmation, recs[0].EventType)
	assert.Equal(t, EventNewOrderAlert, recs[1].EventType)
	for _, rec := range recs {
		assert.Equal(t, TopicOrderEvents, rec.Topic)
		assert.Equal(t, "1", rec.Key)
		assert.Nil(t, rec.SentAt)
	}

	confirm := payloadOf[OrderConfirmationPayload](t, eventsOf(t, recs, EventOrderConfirmation)[0])
	assert.Equal(t, o.ID, confirm.OrderID)
	assert.Equal(t, customer, confirm.UserID)
	assert.Equal(t, int64(15000), confirm.TotalAmount)
}

func TestCreate_LowStockWarning(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 5, 5)

	h.order(t, item(nasi.ID, 2))

	assert.Equal(t, 3, h.stock(t, nasi.ID))
	warnings := eventsOf(t, h.store.Events(), EventLowStockWarning)
	require.Len(t, warnings, 1)
	p := payloadOf[LowStockPayload](t, warnings[0])
	assert.Equal(t, nasi.ID, p.ProductID)
	assert.Equal(t, 3, p.CurrentStock)
	assert.Equal(t, seller, p.SellerID)
}

func TestCreate_NoWarningAboveThreshold(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)

	h.order(t, item(nasi.ID, 2))

	assert.Equal(t, 8, h.stock(t, nasi.ID))
	assert.Empty(t, eventsOf(t, h.store.Events(), EventLowStockWarning))
}

func TestCreate_MissingProductChangesNothing(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)

	_, err := h.engine.Create(context.Background(), customer, CreateOrderInput{
		SellerID: seller, OrderType: OrderTypeDineIn, Items: []ItemInput{item(nasi.ID, 1), item(999, 1)},
	})

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 10, h.stock(t, nasi.ID))
	assert.Empty(t, h.store.Events())
	list, err := h.engine.ListForUser(context.Background(), customer)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreate_OutOfStockRollsBackEarlierLines(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	teh := h.product("Es Teh", 4000, 1, 1)

	_, err := h.engine.Create(context.Background(), customer, CreateOrderInput{
		SellerID: seller, OrderType: OrderTypeDineIn, Items: []ItemInput{item(nasi.ID, 3), item(teh.ID, 2)},
	})

	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 10, h.stock(t, nasi.ID))
	assert.Equal(t, 1, h.stock(t, teh.ID))
	assert.Empty(t, h.store.Events())

	// a rejected order does not occupy the queue
	o := h.order(t, item(nasi.ID, 1))
	assert.Equal(t, t0.Add(5*time.Minute), *o.EstimatedReadyAt)
}

func TestCreate_DuplicateLines(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)

	o := h.order(t, item(nasi.ID, 2), item(nasi.ID, 3))

	assert.Len(t, o.Items, 2)
	assert.Equal(t, int64(75000), o.TotalAmount)
	assert.Equal(t, t0.Add(25*time.Minute), *o.EstimatedReadyAt)
	assert.Equal(t, 5, h.stock(t, nasi.ID))

	_, err := h.engine.Create(context.Background(), customer, CreateOrderInput{
		SellerID: seller, OrderType: OrderTypeDineIn, Items: []ItemInput{item(nasi.ID, 3), item(nasi.ID, 3)},
	})
	assert.ErrorIs(t, err, ErrOutOfStock)
	assert.Equal(t, 5, h.stock(t, nasi.ID))
}

func TestCreate_ProductOfAnotherSeller(t *testing.T) {
	h := newHarness()
	kopi := h.store.PutProduct(Product{SellerID: 2, Name: "Kopi", Price: 10000, Stock: 20, PrepTime: 3})

	_, err := h.engine.Create(context.Background(), customer, CreateOrderInput{
		SellerID: seller, OrderType: OrderTypeDineIn, Items: []ItemInput{item(kopi.ID, 1)},
	})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 20, h.stock(t, kopi.ID))
}

func TestCreate_RejectsBadInput(t *testing.T) {
	h := newHarness()
	_, err := h.engine.Create(context.Background(), 0, CreateOrderInput{SellerID: seller, OrderType: OrderTypeDineIn, Items: []ItemInput{item(1, 1)}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.Create(context.Background(), customer, CreateOrderInput{SellerID: seller, OrderType: OrderTypeDineIn})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCreate_OversizedOrderChangesNothing(t *testing.T) {
	h := newHarness()
	bulk := h.product("Kerupuk", 1000, 200_000_000, 1)
	slow := h.product("Tumpeng", 500000, 5000, 200_000_000)

	for _, in := range [][]ItemInput{
		{item(bulk.ID, 200_000_000)},
		{item(slow.ID, MaxItemQuantity)},
	} {
		_, err := h.engine.Create(context.Background(), customer, CreateOrderInput{SellerID: seller, OrderType: OrderTypeTakeAway, Items: in})
		assert.ErrorIs(t, err, ErrValidation)
	}

	assert.Equal(t, 200_000_000, h.stock(t, bulk.ID))
	assert.Equal(t, 5000, h.stock(t, slow.ID))
	assert.Empty(t, h.store.Events())

	o := h.order(t, item(bulk.ID, MaxItemQuantity))
	assert.False(t, o.EstimatedReadyAt.Before(o.CreatedAt))
}

func TestCreate_TimestampsAtMicrosecondPrecision(t *testing.T) {
	h := newHarness()
	h.clock.Advance(123456789 * time.Nanosecond)
	nasi := h.product("Nasi Goreng", 15000, 10, 5)

	o := h.order(t, item(nasi.ID, 1))

	assert.Zero(t, o.CreatedAt.Nanosecond()%1000)
	assert.Zero(t, o.EstimatedReadyAt.Nanosecond()%1000)
	stored, err := h.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.CreatedAt, stored.CreatedAt)
}

func TestCreate_ConcurrentOrdersNeverOversell(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)

	var (
		wg       sync.WaitGroup
		ok, oos  atomic.Int32
		mu       sync.Mutex
		readyAts = map[time.Time]bool{}
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := h.engine.Create(context.Background(), customer, CreateOrderInput{
				SellerID: seller, OrderType: OrderTypeTakeAway, Items: []ItemInput{item(nasi.ID, 1)},
			})
			switch {
			case err == nil:
				ok.Add(1)
				mu.Lock()
				readyAts[*o.EstimatedReadyAt] = true
				mu.Unlock()
			case errors.Is(err, ErrOutOfStock):
				oos.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(30), oos.Load())
	assert.Equal(t, 0, h.stock(t, nasi.ID))
	assert.Len(t, readyAts, 10, "every admitted order gets its own queue slot")
	for i := 1; i <= 10; i++ {
		assert.True(t, readyAts[t0.Add(time.Duration(5*i)*time.Minute)], "slot %d", i)
	}
}

func TestGet_Idempotent(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 1))

	a, err := h.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	b, err := h.engine.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 9, h.stock(t, nasi.ID))

	_, err = h.engine.Get(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func (h *harness) pay(t *testing.T, id int64) Order {
	t.Helper()
	o, err := h.engine.UploadPaymentProof(context.Background(), id, Upload{Filename: "proof.jpg", Body: strings.NewReader("jpeg")})
	require.NoError(t, err)
	return o
}

func TestTransition_FullLifecycle(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 1))
	h.pay(t, o.ID)

	for _, s := range []Status{StatusProcessing, StatusReady, StatusCompleted} {
		h.clock.Advance(time.Minute)
		got, err := h.engine.Transition(context.Background(), o.ID, s)
		require.NoError(t, err)
		assert.Equal(t, s, got.Status)
		assert.Equal(t, h.clock.Now(), got.UpdatedAt)
	}

	recs := h.store.Events()
	updates := eventsOf(t, recs, EventOrderStatusUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, StatusProcessing, payloadOf[OrderStatusPayload](t, updates[0]).Status)
	assert.Equal(t, StatusCompleted, payloadOf[OrderStatusPayload](t, updates[1]).Status)
	ready := eventsOf(t, recs, EventOrderReady)
	require.Len(t, ready, 1)
	assert.Equal(t, customer, payloadOf[OrderStatusPayload](t, ready[0]).UserID)
}

func TestTransition_DuplicateReadyFiresOnce(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 1))
	h.pay(t, o.ID)
	_, err := h.engine.Transition(context.Background(), o.ID, StatusProcessing)
	require.NoError(t, err)

	first, err := h.engine.Transition(context.Background(), o.ID, StatusReady)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	second, err := h.engine.Transition(context.Background(), o.ID, StatusReady)
	require.NoError(t, err)

	assert.Equal(t, StatusReady, second.Status)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Len(t, eventsOf(t, h.store.Events(), EventOrderReady), 1)
}

func TestTransition_Rejections(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 1))
	ctx := context.Background()

	_, err := h.engine.Transition(ctx, o.ID, StatusReady)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.engine.Transition(ctx, o.ID, StatusWaitingConfirmation)
	assert.ErrorIs(t, err, ErrInvalidTransition, "only a payment upload confirms")

	_, err = h.engine.Transition(ctx, o.ID, "BURNT")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.engine.Transition(ctx, 404, StatusCancelled)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.Transition(ctx, o.ID, StatusRejected)
	require.NoError(t, err)
	_, err = h.engine.Transition(ctx, o.ID, StatusCancelled)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := h.engine.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
}

func TestTransition_CancelKeepsStockByDefault(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 3))

	_, err := h.engine.Transition(context.Background(), o.ID, StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 7, h.stock(t, nasi.ID))
}

func TestTransition_RestockOnCancel(t *testing.T) {
	h := newHarness()
	h.engine.RestockOnCancel = true
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 2), item(nasi.ID, 1))
	assert.Equal(t, 7, h.stock(t, nasi.ID))

	_, err := h.engine.Transition(context.Background(), o.ID, StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, 10, h.stock(t, nasi.ID))

	// a no-op transition must not restock twice
	_, err = h.engine.Transition(context.Background(), o.ID, StatusRejected)
	require.NoError(t, err)
	assert.Equal(t, 10, h.stock(t, nasi.ID))
}

func TestUploadPaymentProof(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 1))
	before := len(h.store.Events())

	paid := h.pay(t, o.ID)
	assert.Equal(t, StatusWaitingConfirmation, paid.Status)
	require.NotNil(t, paid.PaymentProofURL)
	assert.Equal(t, "jpeg", h.files.saved[*paid.PaymentProofURL])
	assert.Len(t, h.store.Events(), before, "payment upload notifies nobody")

	again := h.pay(t, o.ID)
	assert.NotEqual(t, *paid.PaymentProofURL, *again.PaymentProofURL)
	assert.Equal(t, []string{*paid.PaymentProofURL}, h.files.removed)
	assert.Len(t, h.files.saved, 1)
}

func TestUploadPaymentProof_Errors(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	o := h.order(t, item(nasi.ID, 1))
	ctx := context.Background()

	_, err := h.engine.UploadPaymentProof(ctx, o.ID, Upload{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.engine.UploadPaymentProof(ctx, 404, Upload{Filename: "a.jpg", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, h.files.saved, "orphaned file is cleaned up")

	_, err = h.engine.Transition(ctx, o.ID, StatusCancelled)
	require.NoError(t, err)
	_, err = h.engine.UploadPaymentProof(ctx, o.ID, Upload{Filename: "a.jpg", Body: strings.NewReader("x")})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, h.files.saved)

	h.files.failErr = errors.New("disk full")
	o2 := h.order(t, item(nasi.ID, 1))
	_, err = h.engine.UploadPaymentProof(ctx, o2.ID, Upload{Filename: "a.jpg", Body: strings.NewReader("x")})
	assert.Error(t, err)
	got, err := h.engine.Get(ctx, o2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingPayment, got.Status)
}

func TestListForCaller(t *testing.T) {
	h := newHarness()
	h.store.AddSeller(500, seller)
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	first := h.order(t, item(nasi.ID, 1))
	second := h.order(t, item(nasi.ID, 1))
	ctx := context.Background()

	mine, err := h.engine.ListForCaller(ctx, Caller{UserID: customer, Role: RoleCustomer})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")
	assert.Equal(t, first.ID, mine[1].ID)

	incoming, err := h.engine.ListForCaller(ctx, Caller{UserID: 500, Role: RoleSeller})
	require.NoError(t, err)
	assert.Len(t, incoming, 2)

	none, err := h.engine.ListForCaller(ctx, Caller{UserID: 501, Role: RoleSeller})
	require.NoError(t, err)
	assert.Empty(t, none)

	other, err := h.engine.ListForCaller(ctx, Caller{UserID: 7, Role: RoleCustomer})
	require.NoError(t, err)
	assert.Empty(t, other)
}
