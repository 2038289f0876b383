package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

type Contact struct {
	Email string
	Name  string
}

// Directory resolves event subjects to mail recipients.
type Directory interface {
	UserContact(ctx context.Context, userID int64) (Contact, error)
	SellerContact(ctx context.Context, sellerID int64) (Contact, error)
}

type PGDirectory struct{ DB *pgxpool.Pool }

func (d *PGDirectory) UserContact(ctx context.Context, userID int64) (Contact, error) {
	var c Contact
	err := d.DB.QueryRow(ctx, `SELECT email, name FROM users WHERE id=$1`, userID).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, fmt.Errorf("%w: user %d", orders.ErrNotFound, userID)
	}
	return c, err
}

func (d *PGDirectory) SellerContact(ctx context.Context, sellerID int64) (Contact, error) {
	var c Contact
	err := d.DB.QueryRow(ctx, `
		SELECT u.email, s.stall_name
		FROM seller_profiles s JOIN users u ON u.id = s.user_id
		WHERE s.id=$1`, sellerID).Scan(&c.Email, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, fmt.Errorf("%w: seller %d", orders.ErrNotFound, sellerID)
	}
	return c, err
}

type MemDirectory struct {
	mu      sync.RWMutex
	users   map[int64]Contact
	sellers map[int64]Contact
}

func NewMemDirectory() *MemDirectory {
	return &MemDirectory{users: map[int64]Contact{}, sellers: map[int64]Contact{}}
}

func (d *MemDirectory) AddUser(id int64, c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[id] = c
}

func (d *MemDirectory) AddSeller(id int64, c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sellers[id] = c
}

func (d *MemDirectory) UserContact(ctx context.Context, userID int64) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.users[userID]
	if !ok {
		return Contact{}, fmt.Errorf("%w: user %d", orders.ErrNotFound, userID)
	}
	return c, nil
}

func (d *MemDirectory) SellerContact(ctx context.Context, sellerID int64) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.sellers[sellerID]
	if !ok {
		return Contact{}, fmt.Errorf("%w: seller %d", orders.ErrNotFound, sellerID)
	}
	return c, nil
}
