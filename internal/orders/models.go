package orders

import (
	"fmt"
	"time"
)

type OrderType string

const (
	OrderTypeDineIn   OrderType = "DINE_IN"
	OrderTypeTakeAway OrderType = "TAKE_AWAY"
)

func (t OrderType) Valid() bool {
	return t == OrderTypeDineIn || t == OrderTypeTakeAway
}

// Product prices are in the minor currency unit; PrepTime is minutes per unit.
type Product struct {
	ID          int64     `json:"id"`
	SellerID    int64     `json:"seller_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	PrepTime    int       `json:"prep_time"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Order struct {
	ID               int64       `json:"id"`
	UserID           int64       `json:"user_id"`
	SellerID         int64       `json:"seller_id"`
	OrderType        OrderType   `json:"order_type"`
	Status           Status      `json:"status"`
	TotalAmount      int64       `json:"total_amount"`
	EstimatedReadyAt *time.Time  `json:"estimated_ready_at"`
	PaymentProofURL  *string     `json:"payment_proof_url"`
	Items            []OrderItem `json:"items"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// OrderItem carries the unit price as it was when the order was placed.
type OrderItem struct {
	ID          int64  `json:"id"`
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Price       int64  `json:"price"`
}

type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// MaxItemQuantity bounds a single order line.
const MaxItemQuantity = 1000

type CreateOrderInput struct {
	SellerID  int64       `json:"seller_id"`
	OrderType OrderType   `json:"order_type"`
	Items     []ItemInput `json:"items"`
}

func (in CreateOrderInput) Validate() error {
	if in.SellerID <= 0 {
		return fmt.Errorf("%w: seller_id is required", ErrValidation)
	}
	if !in.OrderType.Valid() {
		return fmt.Errorf("%w: unknown order_type %q", ErrValidation, in.OrderType)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: order has no items", ErrValidation)
	}
	for _, it := range in.Items {
		if it.ProductID <= 0 {
			return fmt.Errorf("%w: invalid product_id %d", ErrValidation, it.ProductID)
		}
		if it.Quantity < 1 || it.Quantity > MaxItemQuantity {
			return fmt.Errorf("%w: quantity for product %d must be between 1 and %d", ErrValidation, it.ProductID, MaxItemQuantity)
		}
	}
	return nil
}

// SellerSales is one seller's completed-order aggregate over a report window.
type SellerSales struct {
	SellerID     int64
	TotalOrders  int
	TotalRevenue int64
}

const (
	RoleCustomer = "CUSTOMER"
	RoleSeller   = "SELLER"
	RoleAdmin    = "ADMIN"
)

// Caller is the already-authenticated identity supplied by the gateway.
type Caller struct {
	UserID int64
	Role   string
}
