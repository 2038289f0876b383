package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

var funcs = template.FuncMap{
	"rupiah": rupiah,
	"clock": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.Format("15:04")
	},
	"date": func(t time.Time) string { return t.Format("02 Jan 2006") },
}

var templates = template.Must(template.New("mail").Funcs(funcs).Parse(`
{{define "OrderConfirmation"}}<p>Hi {{.Name}},</p>
<p>Your order #{{.P.OrderID}} has been received. Total: <b>{{rupiah .P.TotalAmount}}</b>.</p>
<p>Please upload your payment proof. Estimated ready at <b>{{clock .P.EstimatedReadyAt}}</b>.</p>{{end}}

{{define "NewOrderAlert"}}<p>Hi {{.Name}},</p>
<p>New order #{{.P.OrderID}} worth <b>{{rupiah .P.TotalAmount}}</b> is waiting for payment.</p>{{end}}

{{define "OrderStatusUpdate"}}<p>Hi {{.Name}},</p>
<p>Order #{{.P.OrderID}} is now <b>{{.P.Status}}</b>.</p>
{{if eq (print .P.Status) "PROCESSING"}}<p>Estimated ready at <b>{{clock .P.EstimatedReadyAt}}</b>.</p>{{end}}{{end}}

{{define "OrderReady"}}<p>Hi {{.Name}},</p>
<p>Your food for order #{{.P.OrderID}} is ready for pickup.</p>{{end}}

{{define "LowStockWarning"}}<p>Hi {{.Name}},</p>
<p><b>{{.P.ProductName}}</b> is running low: {{.P.CurrentStock}} left.</p>{{end}}

{{define "WeeklySalesReport"}}<p>Hi {{.Name}},</p>
<p>Sales from {{date .P.From}} to {{date .P.To}}:</p>
<ul><li>Completed orders: {{.P.TotalOrders}}</li><li>Revenue: <b>{{rupiah .P.TotalRevenue}}</b></li></ul>{{end}}
`))

type audience int

const (
	toUser audience = iota
	toSeller
)

// letter is an event decoded into who gets it and what they read.
type letter struct {
	audience  audience
	recipient int64
	subject   string
	payload   any
}

func compose(ev orders.Envelope) (letter, error) {
	switch ev.EventType {
	case orders.EventOrderConfirmation:
		p, err := decode[orders.OrderConfirmationPayload](ev)
		return letter{toUser, p.UserID, fmt.Sprintf("Order #%d received", p.OrderID), p}, err
	case orders.EventNewOrderAlert:
		p, err := decode[orders.NewOrderAlertPayload](ev)
		return letter{toSeller, p.SellerID, fmt.Sprintf("New order #%d", p.OrderID), p}, err
	case orders.EventOrderStatusUpdate:
		p, err := decode[orders.OrderStatusPayload](ev)
		return letter{toUser, p.UserID, fmt.Sprintf("Order #%d is %s", p.OrderID, p.Status), p}, err
	case orders.EventOrderReady:
		p, err := decode[orders.OrderStatusPayload](ev)
		return letter{toUser, p.UserID, fmt.Sprintf("Order #%d is ready for pickup", p.OrderID), p}, err
	case orders.EventLowStockWarning:
		p, err := decode[orders.LowStockPayload](ev)
		return letter{toSeller, p.SellerID, fmt.Sprintf("Low stock: %s", p.ProductName), p}, err
	case orders.EventWeeklySalesReport:
		p, err := decode[orders.WeeklySalesReportPayload](ev)
		return letter{toSeller, p.SellerID, "Your weekly sales report", p}, err
	}
	return letter{}, fmt.Errorf("unknown event type %q", ev.EventType)
}

func render(kind, name string, payload any) (string, error) {
	var b bytes.Buffer
	err := templates.ExecuteTemplate(&b, kind, struct {
		Name string
		P    any
	}{name, payload})
	return b.String(), err
}

func decode[T any](ev orders.Envelope) (T, error) {
	var t T
	if err := json.Unmarshal(ev.Payload, &t); err != nil {
		return t, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
	}
	return t, nil
}

// rupiah formats whole rupiah with dot thousands separators: 30000 -> "Rp 30.000".
func rupiah(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	var b []byte
	for i := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b = append(b, '.')
		}
		b = append(b, s[i])
	}
	if neg {
		return "-Rp " + string(b)
	}
	return "Rp " + string(b)
}
