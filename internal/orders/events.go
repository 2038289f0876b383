package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-canteen-orders/internal/outbox"
)

const (
	EventOrderConfirmation = "OrderConfirmation"
	EventNewOrderAlert     = "NewOrderAlert"
	EventOrderStatusUpdate = "OrderStatusUpdate"
	EventOrderReady        = "OrderReady"
	EventLowStockWarning   = "LowStockWarning"
	EventWeeklySalesReport = "WeeklySalesReport"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, producer, correlationID string, payload any, at time.Time) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

// Topic is where the outbox relay routes the event.
func (e Envelope) Topic() string {
	if e.EventType == EventWeeklySalesReport {
		return TopicReports
	}
	return TopicOrderEvents
}

// outboxRecord wraps the whole envelope as the record payload, keyed by
// seller so the relay can partition on it.
func outboxRecord(sellerID int64, ev Envelope) (outbox.Record, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return outbox.Record{}, fmt.Errorf("encode %s envelope: %w", ev.EventType, err)
	}
	return outbox.Record{
		EventID:   ev.EventID,
		EventType: ev.EventType,
		Topic:     ev.Topic(),
		Key:       string(PartitionKey(sellerID)),
		Payload:   b,
	}, nil
}

// ---- payloads ----

type OrderConfirmationPayload struct {
	OrderID          int64      `json:"order_id"`
	UserID           int64      `json:"user_id"`
	SellerID         int64      `json:"seller_id"`
	Status           Status     `json:"status"`
	TotalAmount      int64      `json:"total_amount"`
	EstimatedReadyAt *time.Time `json:"estimated_ready_at,omitempty"`
}

type NewOrderAlertPayload struct {
	OrderID     int64 `json:"order_id"`
	SellerID    int64 `json:"seller_id"`
	TotalAmount int64 `json:"total_amount"`
}

// OrderStatusPayload backs both OrderStatusUpdate and OrderReady.
type OrderStatusPayload struct {
	OrderID          int64      `json:"order_id"`
	UserID           int64      `json:"user_id"`
	SellerID         int64      `json:"seller_id"`
	Status           Status     `json:"status"`
	EstimatedReadyAt *time.Time `json:"estimated_ready_at,omitempty"`
}

type LowStockPayload struct {
	SellerID     int64  `json:"seller_id"`
	ProductID    int64  `json:"product_id"`
	ProductName  string `json:"product_name"`
	CurrentStock int    `json:"current_stock"`
}

type WeeklySalesReportPayload struct {
	SellerID     int64     `json:"seller_id"`
	TotalOrders  int       `json:"total_orders"`
	TotalRevenue int64     `json:"total_revenue"`
	From         time.Time `json:"from"`
	To           time.Time `json:"to"`
}
