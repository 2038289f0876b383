package logging

import (
	"encoding/json"
	"log"
	"time"
)

type Fields struct {
	Service    string `json:"service"`
	OrderID    int64  `json:"order_id,omitempty"`
	SellerID   int64  `json:"seller_id,omitempty"`
	ProductID  int64  `json:"product_id,omitempty"`
	EventID    string `json:"event_id,omitempty"`
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Log writes one JSON line through the standard logger.
func Log(fields Fields) {
	payload := map[string]any{
		"service":   fields.Service,
		"step":      fields.Step,
		"status":    fields.Status,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if fields.OrderID != 0 {
		payload["order_id"] = fields.OrderID
	}
	if fields.SellerID != 0 {
		payload["seller_id"] = fields.SellerID
	}
	if fields.ProductID != 0 {
		payload["product_id"] = fields.ProductID
	}
	if fields.EventID != "" {
		payload["event_id"] = fields.EventID
	}
	if fields.DurationMS != 0 {
		payload["duration_ms"] = fields.DurationMS
	}
	if fields.Message != "" {
		payload["message"] = fields.Message
	}
	if fields.Error != "" {
		payload["error"] = fields.Error
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("{\"service\":%q,\"status\":\"log_error\",\"error\":%q}", fields.Service, err.Error())
		return
	}
	log.Print(string(data))
}

// Err is Log with the error recorded and status "error".
func Err(fields Fields, err error) {
	fields.Status = "error"
	if err != nil {
		fields.Error = err.Error()
	}
	Log(fields)
}
