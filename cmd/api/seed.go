package main

import (
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/notify"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

// seedDemo fills the in-memory store with two stalls, a customer and a
// small menu so STORE_DRIVER=memory is usable without a database.
//
//	customer: X-User-ID 1
//	seller 1: X-User-ID 2, X-User-Role SELLER
//	seller 2: X-User-ID 3, X-User-Role SELLER
func seedDemo() (*orders.MemStore, *notify.MemDirectory) {
	store := orders.NewMemStore()
	dir := notify.NewMemDirectory()

	dir.AddUser(1, notify.Contact{Email: "student@campus.local", Name: "Student"})
	store.AddSeller(2, 1)
	dir.AddSeller(1, notify.Contact{Email: "warung-sri@campus.local", Name: "Warung Bu Sri"})
	store.AddSeller(3, 2)
	dir.AddSeller(2, notify.Contact{Email: "kopi-kampus@campus.local", Name: "Kopi Kampus"})

	now := time.Now()
	menu := []orders.Product{
		{SellerID: 1, Name: "Nasi Goreng", Category: "rice", Price: 15000, Stock: 20, PrepTime: 5},
		{SellerID: 1, Name: "Mie Ayam", Category: "noodle", Price: 12000, Stock: 15, PrepTime: 4},
		{SellerID: 1, Name: "Es Teh", Category: "drink", Price: 4000, Stock: 50, PrepTime: 1},
		{SellerID: 2, Name: "Kopi Susu", Category: "drink", Price: 10000, Stock: 30, PrepTime: 3},
		{SellerID: 2, Name: "Roti Bakar", Category: "snack", Price: 8000, Stock: 6, PrepTime: 6},
	}
	for _, p := range menu {
		p.CreatedAt, p.UpdatedAt = now, now
		store.PutProduct(p)
	}
	return store, dir
}
