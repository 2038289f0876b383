package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog() (*Catalog, *MemStore) {
	store := NewMemStore()
	return &Catalog{Store: store, Service: "test", LowStockThreshold: DefaultLowStockThreshold, Now: func() time.Time { return t0 }}, store
}

func TestCatalog_Create(t *testing.T) {
	c, _ := newCatalog()
	ctx := context.Background()

	p, err := c.Create(ctx, seller, ProductInput{Name: "  Soto Ayam ", Price: 13000, Stock: 12})
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, "Soto Ayam", p.Name)
	assert.Equal(t, DefaultPrepTime, p.PrepTime)
	assert.Equal(t, t0, p.CreatedAt)

	got, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	for _, in := range []ProductInput{
		{Price: 1000, Stock: 1},
		{Name: "x", Price: -1, Stock: 1},
		{Name: "x", Price: 1, Stock: -1},
		{Name: "x", Price: 1, Stock: 1, PrepTime: -2},
		{Name: "Nasi\r\nBcc: attacker@evil", Price: 1, Stock: 1},
		{Name: "x", Price: MaxPrice + 1, Stock: 1},
		{Name: "x", Price: 1, Stock: MaxStock + 1},
		{Name: "x", Price: 1, Stock: 1, PrepTime: MaxPrepTime + 1},
	} {
		_, err := c.Create(ctx, seller, in)
		assert.ErrorIs(t, err, ErrValidation, "%+v", in)
	}
	_, err = c.Create(ctx, 0, ProductInput{Name: "x", Price: 1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCatalog_UpdateLowStock(t *testing.T) {
	c, store := newCatalog()
	ctx := context.Background()
	p, err := c.Create(ctx, seller, ProductInput{Name: "Soto Ayam", Price: 13000, Stock: 12})
	require.NoError(t, err)

	stock := 4
	got, err := c.Update(ctx, seller, p.ID, ProductPatch{Stock: &stock})
	require.NoError(t, err)
	assert.Equal(t, 4, got.Stock)

	warnings := eventsOf(t, store.Events(), EventLowStockWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, 4, payloadOf[LowStockPayload](t, warnings[0]).CurrentStock)

	name := "Soto Betawi"
	_, err = c.Update(ctx, seller, p.ID, ProductPatch{Name: &name})
	require.NoError(t, err)
	assert.Len(t, eventsOf(t, store.Events(), EventLowStockWarning), 1, "renaming does not re-warn")

	stock = 40
	_, err = c.Update(ctx, seller, p.ID, ProductPatch{Stock: &stock})
	require.NoError(t, err)
	assert.Len(t, eventsOf(t, store.Events(), EventLowStockWarning), 1)
}

func TestCatalog_UpdateErrors(t *testing.T) {
	c, _ := newCatalog()
	ctx := context.Background()
	p, err := c.Create(ctx, seller, ProductInput{Name: "Soto Ayam", Price: 13000, Stock: 12})
	require.NoError(t, err)

	price := int64(1)
	_, err = c.Update(ctx, 2, p.ID, ProductPatch{Price: &price})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = c.Update(ctx, seller, 404, ProductPatch{Price: &price})
	assert.ErrorIs(t, err, ErrNotFound)

	neg := -3
	_, err = c.Update(ctx, seller, p.ID, ProductPatch{Stock: &neg})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := c.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Stock)
	assert.Equal(t, int64(13000), got.Price)
}

func TestCatalog_List(t *testing.T) {
	c, store := newCatalog()
	ctx := context.Background()
	for i := 1; i <= 25; i++ {
		cat := "rice"
		if i%5 == 0 {
			cat = "drink"
		}
		store.PutProduct(Product{SellerID: seller, Name: fmt.Sprintf("Menu %02d", i), Category: cat, Price: 1000, Stock: 1, PrepTime: 1})
	}
	store.PutProduct(Product{SellerID: 2, Name: "Kopi Tubruk", Description: "strong menu coffee", Category: "drink", Price: 1000, Stock: 1, PrepTime: 1})

	page, total, err := c.List(ctx, ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 26, total)
	assert.Len(t, page, 20)
	assert.Equal(t, "Kopi Tubruk", page[0].Name, "newest first")

	page, total, err = c.List(ctx, ProductFilter{Page: 2, Limit: 20})
	require.NoError(t, err)
	assert.Equal(t, 26, total)
	assert.Len(t, page, 6)

	_, total, err = c.List(ctx, ProductFilter{Category: "drink"})
	require.NoError(t, err)
	assert.Equal(t, 6, total)

	page, total, err = c.List(ctx, ProductFilter{Search: "COFFEE"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, int64(2), page[0].SellerID)

	_, total, err = c.List(ctx, ProductFilter{Search: "menu", SellerID: seller})
	require.NoError(t, err)
	assert.Equal(t, 25, total)

	mine, total, err := c.List(ctx, ProductFilter{SellerID: 2})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, mine, 1)

	page, _, err = c.List(ctx, ProductFilter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestCatalog_ListPriceRange(t *testing.T) {
	c, store := newCatalog()
	ctx := context.Background()
	for _, price := range []int64{3000, 8000, 12000, 15000, 25000} {
		store.PutProduct(Product{SellerID: seller, Name: fmt.Sprintf("Menu %d", price), Price: price, Stock: 1, PrepTime: 1})
	}

	page, total, err := c.List(ctx, ProductFilter{MinPrice: 8000, MaxPrice: 15000})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, p := range page {
		assert.GreaterOrEqual(t, p.Price, int64(8000))
		assert.LessOrEqual(t, p.Price, int64(15000))
	}

	_, total, err = c.List(ctx, ProductFilter{MinPrice: 12000})
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	_, total, err = c.List(ctx, ProductFilter{MaxPrice: 7999})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestProductFilter_LastPage(t *testing.T) {
	assert.Equal(t, 1, ProductFilter{}.LastPage(0))
	assert.Equal(t, 1, ProductFilter{}.LastPage(20))
	assert.Equal(t, 2, ProductFilter{}.LastPage(21))
	assert.Equal(t, 3, ProductFilter{Limit: 10}.LastPage(26))
}

func TestCatalog_Delete(t *testing.T) {
	h := newHarness()
	c := &Catalog{Store: h.store, Service: "test", LowStockThreshold: DefaultLowStockThreshold}
	ctx := context.Background()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	teh := h.product("Es Teh", 4000, 10, 1)
	h.order(t, item(nasi.ID, 1))

	assert.ErrorIs(t, c.Delete(ctx, 2, teh.ID), ErrForbidden)
	assert.ErrorIs(t, c.Delete(ctx, seller, nasi.ID), ErrInUse)
	assert.ErrorIs(t, c.Delete(ctx, seller, 404), ErrNotFound)

	require.NoError(t, c.Delete(ctx, seller, teh.ID))
	_, err := c.Get(ctx, teh.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := c.Get(ctx, nasi.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Stock)
}

func TestMemStore_CompletedSales(t *testing.T) {
	store := NewMemStore()
	store.PutOrder(Order{SellerID: 2, Status: StatusCompleted, TotalAmount: 5000, CreatedAt: t0})
	store.PutOrder(Order{SellerID: 1, Status: StatusCompleted, TotalAmount: 7000, CreatedAt: t0})
	store.PutOrder(Order{SellerID: 1, Status: StatusCompleted, TotalAmount: 3000, CreatedAt: t0.Add(-time.Hour)})
	store.PutOrder(Order{SellerID: 1, Status: StatusReady, TotalAmount: 9000, CreatedAt: t0})

	sales, err := store.CompletedSales(context.Background(), t0.Add(-30*time.Minute), t0)
	require.NoError(t, err)
	assert.Equal(t, []SellerSales{
		{SellerID: 1, TotalOrders: 1, TotalRevenue: 7000},
		{SellerID: 2, TotalOrders: 1, TotalRevenue: 5000},
	}, sales)
}

func TestMemStore_OutboxSource(t *testing.T) {
	h := newHarness()
	nasi := h.product("Nasi Goreng", 15000, 10, 5)
	h.order(t, item(nasi.ID, 1))
	ctx := context.Background()

	pending, err := h.store.FetchPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NoError(t, h.store.MarkSent(ctx, pending[0].ID))

	pending, err = h.store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, EventNewOrderAlert, pending[0].EventType)

	assert.ErrorIs(t, h.store.MarkSent(ctx, 999), ErrNotFound)
}
