package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ariefcatur/go-canteen-orders/internal/metrics"
	"github.com/ariefcatur/go-canteen-orders/internal/storage"
)

func NewRouter(m *metrics.Metrics) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// MountUploads serves stored payment proofs under storage.URLPrefix.
func MountUploads(r chi.Router, files *storage.Local) {
	r.Get(storage.URLPrefix+"*", func(w http.ResponseWriter, req *http.Request) {
		p, ok := files.Path(req.URL.Path)
		if !ok {
			http.NotFound(w, req)
			return
		}
		http.ServeFile(w, req, p)
	})
}
