package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-canteen-orders/internal/orders"
)

// Identity is asserted upstream by the gateway; these headers carry it.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

func callerFrom(r *http.Request) (orders.Caller, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderUserID)), 10, 64)
	if err != nil || id <= 0 {
		return orders.Caller{}, errUnauthenticated
	}
	role := strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderUserRole)))
	switch role {
	case "":
		role = orders.RoleCustomer
	case orders.RoleCustomer, orders.RoleSeller, orders.RoleAdmin:
	default:
		return orders.Caller{}, fmt.Errorf("%w: unknown role %q", orders.ErrValidation, role)
	}
	return orders.Caller{UserID: id, Role: role}, nil
}

// sellerOf resolves the seller profile a SELLER caller acts for.
func sellerOf(ctx context.Context, store orders.Store, c orders.Caller) (int64, error) {
	if c.Role != orders.RoleSeller {
		return 0, fmt.Errorf("%w: seller role required", orders.ErrForbidden)
	}
	id, err := store.SellerIDForUser(ctx, c.UserID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return 0, fmt.Errorf("%w: user %d has no seller profile", orders.ErrForbidden, c.UserID)
		}
		return 0, err
	}
	return id, nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", orders.ErrValidation, name)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", orders.ErrValidation, name)
	}
	return i, nil
}
