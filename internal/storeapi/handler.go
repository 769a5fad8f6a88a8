// Package storeapi serves the REST cart resource the synchronizer talks to. Ownership is
// enforced here: callers only ever see and change their own rows.
package storeapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fjod/go_cart/cartsync/internal/auth"
	"github.com/fjod/go_cart/cartsync/internal/catalog"
	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/remote"
	"github.com/fjod/go_cart/cartsync/internal/store"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type ErrorDetail struct {
	Status  int    `json:"status"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

type ErrorBody struct {
	Data  interface{} `json:"data"`
	Error ErrorDetail `json:"error"`
}

type ctxKey int

const userKey ctxKey = iota

type CartsHandler struct {
	store    store.RecordStore
	catalog  *catalog.Catalog
	verifier auth.Verifier
	logger   *zap.Logger
}

func NewCartsHandler(s store.RecordStore, c *catalog.Catalog, verifier auth.Verifier, logger *zap.Logger) *CartsHandler {
	if c == nil {
		c = catalog.Empty()
	}
	return &CartsHandler{store: s, catalog: c, verifier: verifier, logger: logger}
}

// Authenticate rejects requests without a verified bearer token and stores the caller's
// user id in the request context.
func (h *CartsHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			respondError(w, http.StatusUnauthorized, "UnauthorizedError", "missing bearer token")
			return
		}
		identity, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "UnauthorizedError", "invalid bearer token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, identity.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) string {
	if uid, ok := ctx.Value(userKey).(string); ok {
		return uid
	}
	return ""
}

type populate struct {
	product  bool
	customer bool
}

func parsePopulate(r *http.Request) populate {
	var p populate
	for _, v := range r.URL.Query()["populate"] {
		for _, field := range strings.Split(v, ",") {
			switch strings.TrimSpace(field) {
			case "*":
				p.product, p.customer = true, true
			case "product":
				p.product = true
			case "customer":
				p.customer = true
			}
		}
	}
	return p
}

func (h *CartsHandler) entry(rec domain.RemoteRecord, p populate) remote.CartEntry {
	var attrs *remote.ProductAttributes
	if p.product {
		attrs, _ = h.catalog.Lookup(rec.ProductID)
	}
	return remote.EntryFromRecord(rec, attrs, p.product, p.customer)
}

func (h *CartsHandler) List(w http.ResponseWriter, r *http.Request) {
	uid := userFromContext(r.Context())
	records, err := h.store.List(r.Context(), uid)
	if err != nil {
		h.storeError(w, err)
		return
	}

	p := parsePopulate(r)
	entries := make([]remote.CartEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, h.entry(rec, p))
	}
	respondJSON(w, http.StatusOK, remote.Envelope[[]remote.CartEntry]{Data: entries})
}

func (h *CartsHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid := userFromContext(r.Context())
	rec, err := h.store.Get(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, remote.Envelope[remote.CartEntry]{Data: h.entry(rec, parsePopulate(r))})
}

// Create requires the customer relation to name the caller.
func (h *CartsHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid := userFromContext(r.Context())

	var body remote.Envelope[remote.CreateCartBody]
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "ValidationError", "invalid JSON body")
		return
	}
	if body.Data.Customer != uid {
		respondError(w, http.StatusForbidden, "ForbiddenError", "customer does not match the authenticated user")
		return
	}
	if body.Data.Quantity == 0 {
		body.Data.Quantity = 1
	}

	rec, err := h.store.Create(r.Context(), uid, body.Data.Product, body.Data.Quantity)
	if err != nil {
		h.storeError(w, err)
		return
	}
	h.logger.Debug("cart record created",
		zap.String("customer_id", uid),
		zap.String("product_id", rec.ProductID),
		zap.String("record_id", rec.ID))
	respondJSON(w, http.StatusOK, remote.Envelope[remote.CartEntry]{Data: h.entry(rec, populate{})})
}

func (h *CartsHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid := userFromContext(r.Context())

	var body remote.Envelope[remote.UpdateCartBody]
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "ValidationError", "invalid JSON body")
		return
	}

	rec, err := h.store.UpdateQuantity(r.Context(), uid, chi.URLParam(r, "id"), body.Data.Quantity)
	if err != nil {
		h.storeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, remote.Envelope[remote.CartEntry]{Data: h.entry(rec, populate{})})
}

func (h *CartsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	uid := userFromContext(r.Context())
	if err := h.store.Delete(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		h.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartsHandler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "NotFoundError", "cart record not found")
	case errors.Is(err, store.ErrDuplicate):
		respondError(w, http.StatusConflict, "ConflictError", "cart record already exists for this product")
	case errors.Is(err, store.ErrInvalid):
		respondError(w, http.StatusBadRequest, "ValidationError", err.Error())
	default:
		h.logger.Error("cart store failure", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "InternalServerError", "internal server error")
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, name, message string) {
	respondJSON(w, status, ErrorBody{Error: ErrorDetail{Status: status, Name: name, Message: message}})
}
