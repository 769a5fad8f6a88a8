package storeapi

import (
	"net/http"

	h "github.com/fjod/go_cart/cartsync/internal/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewRouter serves the cart resource under /api/carts.
func NewRouter(carts *CartsHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(h.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/carts", func(r chi.Router) {
		r.Use(carts.Authenticate)
		r.Get("/", carts.List)
		r.Post("/", carts.Create)
		r.Get("/{id}", carts.Get)
		r.Put("/{id}", carts.Update)
		r.Delete("/{id}", carts.Delete)
	})

	return otelhttp.NewHandler(r, "cart-store")
}
