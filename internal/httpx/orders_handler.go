package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-canteen-orders/internal/logging"
	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

const maxProofBytes = 5 << 20

// OrderCache is the read-through cache in front of GET /orders/{id}.
type OrderCache interface {
	Get(ctx context.Context, id int64) (orders.Order, bool, error)
	Set(ctx context.Context, o orders.Order) error
	Invalidate(ctx context.Context, id int64) error
}

type OrdersHandler struct {
	Engine  *orders.Engine
	Cache   OrderCache // optional
	Service string
}

type transitionReq struct {
	Status orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Patch("/orders/{id}/status", h.transition)
	r.Post("/orders/{id}/payment", h.uploadPayment)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	var req orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.Service, fmt.Errorf("%w: invalid json", orders.ErrValidation))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Engine.Create(ctx, c.UserID, req)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	h.cacheSet(ctx, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Engine.ListForCaller(ctx, c)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.load(ctx, id)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	if err := h.authorize(ctx, c, o); err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.Service, fmt.Errorf("%w: invalid json", orders.ErrValidation))
		return
	}
	target, err := orders.ParseStatus(string(req.Status))
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	current, err := h.Engine.Get(ctx, id)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	if err := h.authorizeTransition(ctx, c, current, target); err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	o, err := h.Engine.Transition(ctx, id, target)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	h.invalidate(ctx, id)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) uploadPayment(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxProofBytes)
	up := orders.Upload{}
	file, hdr, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		up = orders.Upload{Filename: hdr.Filename, Body: file}
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(w, r, h.Service, fmt.Errorf("%w: %v", orders.ErrValidation, err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	current, err := h.Engine.Get(ctx, id)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	if c.Role != orders.RoleAdmin && current.UserID != c.UserID {
		writeError(w, r, h.Service, fmt.Errorf("%w: order %d belongs to another user", orders.ErrForbidden, id))
		return
	}
	o, err := h.Engine.UploadPaymentProof(ctx, id, up)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	h.invalidate(ctx, id)
	writeJSON(w, http.StatusOK, o)
}

// load reads through the cache. Cache failures fall back to the store.
func (h *OrdersHandler) load(ctx context.Context, id int64) (orders.Order, error) {
	if h.Cache != nil {
		o, ok, err := h.Cache.Get(ctx, id)
		if err != nil {
			logging.Err(logging.Fields{Service: h.Service, OrderID: id, Step: "cache.get"}, err)
		} else if ok {
			return o, nil
		}
	}
	o, err := h.Engine.Get(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	h.cacheSet(ctx, o)
	return o, nil
}

func (h *OrdersHandler) cacheSet(ctx context.Context, o orders.Order) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Set(ctx, o); err != nil {
		logging.Err(logging.Fields{Service: h.Service, OrderID: o.ID, Step: "cache.set"}, err)
	}
}

func (h *OrdersHandler) invalidate(ctx context.Context, id int64) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, id); err != nil {
		logging.Err(logging.Fields{Service: h.Service, OrderID: id, Step: "cache.invalidate"}, err)
	}
}

// authorize lets customers see their own orders and sellers the orders
// placed with them.
func (h *OrdersHandler) authorize(ctx context.Context, c orders.Caller, o orders.Order) error {
	switch c.Role {
	case orders.RoleAdmin:
		return nil
	case orders.RoleSeller:
		sellerID, err := sellerOf(ctx, h.Engine.Store, c)
		if err != nil {
			return err
		}
		if sellerID == o.SellerID {
			return nil
		}
	default:
		if o.UserID == c.UserID {
			return nil
		}
	}
	return fmt.Errorf("%w: order %d", orders.ErrForbidden, o.ID)
}

// authorizeTransition: sellers drive their own orders, customers may only
// cancel their own.
func (h *OrdersHandler) authorizeTransition(ctx context.Context, c orders.Caller, o orders.Order, target orders.Status) error {
	if c.Role == orders.RoleCustomer {
		if o.UserID != c.UserID || target != orders.StatusCancelled {
			return fmt.Errorf("%w: customers may only cancel their own orders", orders.ErrForbidden)
		}
		return nil
	}
	return h.authorize(ctx, c, o)
}
