package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

type ProductsHandler struct {
	Catalog *orders.Catalog
	Service string
}

type productPage struct {
	Data     []orders.Product `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	LastPage int              `json:"last_page"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.list)
	r.Get("/products/{id}", h.get)
	r.Post("/products", h.create)
	r.Patch("/products/{id}", h.update)
	r.Delete("/products/{id}", h.remove)
}

func (h *ProductsHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ProductFilter{Search: q.Get("search"), Category: q.Get("category")}
	var err error
	if f.Page, err = queryInt(r, "page"); err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	var seller, minPrice, maxPrice int
	for _, p := range []struct {
		name string
		dst  *int
	}{{"seller_id", &seller}, {"min_price", &minPrice}, {"max_price", &maxPrice}} {
		if *p.dst, err = queryInt(r, p.name); err != nil {
			writeError(w, r, h.Service, err)
			return
		}
		if *p.dst < 0 {
			writeError(w, r, h.Service, fmt.Errorf("%w: %s must not be negative", orders.ErrValidation, p.name))
			return
		}
	}
	f.SellerID, f.MinPrice, f.MaxPrice = int64(seller), int64(minPrice), int64(maxPrice)
	f = f.Normalized()

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, total, err := h.Catalog.List(ctx, f)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	writeJSON(w, http.StatusOK, productPage{Data: ps, Total: total, Page: f.Page, Limit: f.Limit, LastPage: f.LastPage(total)})
}

func (h *ProductsHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Catalog.Get(ctx, id)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) create(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	var in orders.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, r, h.Service, fmt.Errorf("%w: invalid json", orders.ErrValidation))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sellerID, err := sellerOf(ctx, h.Catalog.Store, c)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	p, err := h.Catalog.Create(ctx, sellerID, in)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) update(w http.ResponseWriter, r *http.Request) {
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
	var patch orders.ProductPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, r, h.Service, fmt.Errorf("%w: invalid json", orders.ErrValidation))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sellerID, err := sellerOf(ctx, h.Catalog.Store, c)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	p, err := h.Catalog.Update(ctx, sellerID, id, patch)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) remove(w http.ResponseWriter, r *http.Request) {
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

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sellerID, err := sellerOf(ctx, h.Catalog.Store, c)
	if err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	if err := h.Catalog.Delete(ctx, sellerID, id); err != nil {
		writeError(w, r, h.Service, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
