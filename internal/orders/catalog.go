package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/metrics"
)

const (
	DefaultPrepTime = 5

	MaxPrice    = 1_000_000_000
	MaxStock    = 1_000_000
	MaxPrepTime = 24 * 60
)

type ProductInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
	PrepTime    int    `json:"prep_time"`
}

// ProductPatch sets only the non-nil fields.
type ProductPatch struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Category    *string `json:"category"`
	Price       *int64  `json:"price"`
	Stock       *int    `json:"stock"`
	PrepTime    *int    `json:"prep_time"`
}

type Catalog struct {
	Store             Store
	Metrics           *metrics.Metrics
	Service           string
	LowStockThreshold int
	Now               func() time.Time
}

func (c *Catalog) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().Truncate(time.Microsecond)
}

func (c *Catalog) Create(ctx context.Context, sellerID int64, in ProductInput) (Product, error) {
	if sellerID <= 0 {
		return Product{}, fmt.Errorf("%w: seller_id is required", ErrValidation)
	}
	if in.PrepTime == 0 {
		in.PrepTime = DefaultPrepTime
	}
	p := Product{
		SellerID:    sellerID,
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Category:    in.Category,
		Price:       in.Price,
		Stock:       in.Stock,
		PrepTime:    in.PrepTime,
	}
	if err := validateProduct(p); err != nil {
		return Product{}, err
	}
	now := c.now()
	p.CreatedAt, p.UpdatedAt = now, now
	err := c.Store.InTx(ctx, func(tx Tx) error {
		return tx.InsertProduct(ctx, &p)
	})
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

// Update edits a product owned by sellerID. Setting the stock at or below
// the low-stock threshold warns the seller.
func (c *Catalog) Update(ctx context.Context, sellerID, id int64, patch ProductPatch) (Product, error) {
	var (
		out  Product
		warn bool
	)
	err := c.Store.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if p.SellerID != sellerID {
			return fmt.Errorf("%w: product %d belongs to another seller", ErrForbidden, id)
		}
		applyPatch(&p, patch)
		if err := validateProduct(p); err != nil {
			return err
		}
		now := c.now()
		p.UpdatedAt = now
		if err := tx.UpdateProduct(ctx, &p); err != nil {
			return err
		}

		warn = patch.Stock != nil && p.Stock <= c.LowStockThreshold
		if warn {
			ev, err := NewEnvelope(EventLowStockWarning, c.Service, fmt.Sprint(p.ID), LowStockPayload{
				SellerID:     p.SellerID,
				ProductID:    p.ID,
				ProductName:  p.Name,
				CurrentStock: p.Stock,
			}, now)
			if err != nil {
				return err
			}
			if err := tx.Enqueue(ctx, p.SellerID, ev); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	if warn {
		c.Metrics.LowStockWarning()
		logging.Log(logging.Fields{
			Service: c.Service, SellerID: out.SellerID, ProductID: out.ID,
			Step: "product.low_stock", Status: "warned",
			Message: fmt.Sprintf("%s stock=%d", out.Name, out.Stock),
		})
	}
	return out, nil
}

func (c *Catalog) Get(ctx context.Context, id int64) (Product, error) {
	return c.Store.GetProduct(ctx, id)
}

// List returns one page of products and the total match count.
func (c *Catalog) List(ctx context.Context, f ProductFilter) ([]Product, int, error) {
	return c.Store.ListProducts(ctx, f.Normalized())
}

// Delete removes a product owned by sellerID. Products that already appear
// on an order stay, so order history keeps its lines; Delete then returns
// ErrInUse.
func (c *Catalog) Delete(ctx context.Context, sellerID, id int64) error {
	err := c.Store.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockProduct(ctx, id)
		if err != nil {
			return err
		}
		if p.SellerID != sellerID {
			return fmt.Errorf("%w: product %d belongs to another seller", ErrForbidden, id)
		}
		return tx.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}
	logging.Log(logging.Fields{Service: c.Service, SellerID: sellerID, ProductID: id, Step: "product.delete", Status: "deleted"})
	return nil
}

func applyPatch(p *Product, patch ProductPatch) {
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	if patch.PrepTime != nil {
		p.PrepTime = *patch.PrepTime
	}
}

func validateProduct(p Product) error {
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrValidation)
	case strings.ContainsAny(p.Name, "\r\n"):
		return fmt.Errorf("%w: name must be a single line", ErrValidation)
	case p.Price < 0 || p.Price > MaxPrice:
		return fmt.Errorf("%w: price must be between 0 and %d", ErrValidation, MaxPrice)
	case p.Stock < 0 || p.Stock > MaxStock:
		return fmt.Errorf("%w: stock must be between 0 and %d", ErrValidation, MaxStock)
	case p.PrepTime < 1 || p.PrepTime > MaxPrepTime:
		return fmt.Errorf("%w: prep_time must be between 1 and %d minutes", ErrValidation, MaxPrepTime)
	}
	return nil
}
