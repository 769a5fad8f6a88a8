package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewRouter wires the cart API for client sessions.
func NewRouter(registry *session.Registry, verifier auth.Verifier, requestTimeout time.Duration, logger *zap.Logger) http.Handler {
	cartHandler := NewCartHandler(requestTimeout, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout + 5*time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware(registry, verifier, logger))
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Post("/items", cartHandler.AddItem)
			r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			r.Post("/items/{product_id}/increment", cartHandler.Increment)
			r.Post("/items/{product_id}/decrement", cartHandler.Decrement)
			r.Post("/reconcile", cartHandler.Reconcile)
		})
		r.Post("/session/signout", cartHandler.SignOut)
	})

	return otelhttp.NewHandler(r, "cartsync")
}
