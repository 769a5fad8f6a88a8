package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/go_cart/cartsync/internal/domain"
	"github.com/fjod/go_cart/cartsync/internal/session"
	"github.com/fjod/go_cart/cartsync/internal/synchronizer"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type CartHandler struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewCartHandler(timeout time.Duration, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		timeout: timeout,
		logger:  logger,
	}
}

type FeaturesDTO struct {
	Color   string `json:"color,omitempty"`
	Storage string `json:"storage,omitempty"`
	RAM     string `json:"ram,omitempty"`
}

type AddItemRequestDTO struct {
	ProductID string      `json:"product_id"`
	Name      string      `json:"name"`
	Price     string      `json:"price"`
	Currency  string      `json:"currency,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	Features  FeaturesDTO `json:"features"`
}

type CartItemDTO struct {
	ProductID string      `json:"product_id"`
	Name      string      `json:"name"`
	Price     string      `json:"price"`
	Currency  string      `json:"currency,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	Features  FeaturesDTO `json:"features"`
	Quantity  int         `json:"quantity"`
	Subtotal  string      `json:"subtotal"`
	Sync      string      `json:"sync"`
	RecordID  string      `json:"record_id,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

type CartResponseDTO struct {
	SessionID string        `json:"session_id"`
	UserID    string        `json:"user_id,omitempty"`
	Items     []CartItemDTO `json:"items"`
	Total     string        `json:"total"`
}

type OperationDTO struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	ProductID string `json:"product_id"`
	State     string `json:"state"`
	RecordID  string `json:"record_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

type OperationResponseDTO struct {
	Operation OperationDTO    `json:"operation"`
	Cart      CartResponseDTO `json:"cart"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		respondError(w, http.StatusInternalServerError, "no_session", "session missing")
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(sess))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		respondError(w, http.StatusInternalServerError, "no_session", "session missing")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	price, err := domain.ParsePrice(req.Price)
	if err != nil {
		respondErrorDetails(w, http.StatusBadRequest, "invalid_price", "price is not a valid amount", err)
		return
	}

	op := sess.Sync.AddItem(domain.Product{
		ID:       req.ProductID,
		Name:     req.Name,
		Price:    price,
		Currency: req.Currency,
		ImageURL: req.ImageURL,
		Features: domain.Features{
			Color:   req.Features.Color,
			Storage: req.Features.Storage,
			RAM:     req.Features.RAM,
		},
	})

	status := http.StatusCreated
	if res, done := op.Result(); done && res.Noop {
		status = http.StatusOK
	}
	respondJSON(w, status, OperationResponseDTO{Operation: operationDTO(op), Cart: cartResponse(sess)})
}

// RemoveItem waits for the remote outcome up to the handler timeout. A removal still
// running after that is reported with 202.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess := sessionFromContext(r.Context())
	if sess == nil {
		respondError(w, http.StatusInternalServerError, "no_session", "session missing")
		return
	}
	productID := chi.URLParam(r, "product_id")
	if productID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}

	op := sess.Sync.RemoveItem(productID)
	res, err := op.Wait(ctx)
	if err != nil {
		respondJSON(w, http.StatusAccepted, OperationResponseDTO{Operation: operationDTO(op), Cart: cartResponse(sess)})
		return
	}

	switch {
	case res.Err == nil:
		respondJSON(w, http.StatusOK, OperationResponseDTO{Operation: operationDTO(op), Cart: cartResponse(sess)})
	case errors.Is(res.Err, synchronizer.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
	case errors.Is(res.Err, synchronizer.ErrRemoveFailed), errors.Is(res.Err, synchronizer.ErrRemoteRecordNotFound):
		h.logger.Info("remove failed",
			zap.String("session_id", sess.ID),
			zap.String("product_id", productID),
			zap.Error(res.Err))
		respondErrorDetails(w, http.StatusBadGateway, "remove_failed", synchronizer.ErrRemoveFailed.Error(), res.Err)
	default:
		respondErrorDetails(w, http.StatusConflict, "remove_aborted", "item was not removed", res.Err)
	}
}

func (h *CartHandler) Increment(w http.ResponseWriter, r *http.Request) {
	h.changeQuantity(w, r, (*synchronizer.Synchronizer).Increment)
}

func (h *CartHandler) Decrement(w http.ResponseWriter, r *http.Request) {
	h.changeQuantity(w, r, (*synchronizer.Synchronizer).Decrement)
}

func (h *CartHandler) changeQuantity(w http.ResponseWriter, r *http.Request, change func(*synchronizer.Synchronizer, string) *synchronizer.Operation) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		respondError(w, http.StatusInternalServerError, "no_session", "session missing")
		return
	}
	productID := chi.URLParam(r, "product_id")
	if _, ok := sess.Sync.Cart().Get(productID); !ok {
		respondError(w, http.StatusNotFound, "item_not_found", "product is not in the cart")
		return
	}

	op := change(sess.Sync, productID)
	respondJSON(w, http.StatusOK, OperationResponseDTO{Operation: operationDTO(op), Cart: cartResponse(sess)})
}

func (h *CartHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess := sessionFromContext(r.Context())
	if sess == nil {
		respondError(w, http.StatusInternalServerError, "no_session", "session missing")
		return
	}

	report, err := sess.Sync.Reconcile(ctx)
	switch {
	case errors.Is(err, synchronizer.ErrSignedOut):
		respondError(w, http.StatusUnauthorized, "unauthorized", "sign in to reconcile the cart")
		return
	case err != nil:
		h.logger.Warn("reconcile failed", zap.String("session_id", sess.ID), zap.Error(err))
		respondErrorDetails(w, http.StatusBadGateway, "reconcile_failed", "remote cart unavailable", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
		"cart":   cartResponse(sess),
	})
}

// SignOut drops the session's identity; the local cart is cleared with it.
func (h *CartHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if sess == nil {
		respondError(w, http.StatusInternalServerError, "no_session", "session missing")
		return
	}
	sess.Gate.SignOut()
	respondJSON(w, http.StatusOK, cartResponse(sess))
}

func cartResponse(sess *session.Session) CartResponseDTO {
	statuses := sess.Sync.Items()
	resp := CartResponseDTO{
		SessionID: sess.ID,
		UserID:    sess.Gate.CurrentUserID(),
		Items:     make([]CartItemDTO, 0, len(statuses)),
		Total:     sess.Sync.Cart().TotalPrice().String(),
	}
	for _, st := range statuses {
		p := st.Item.Product
		item := CartItemDTO{
			ProductID: p.ID,
			Name:      p.Name,
			Price:     p.Price.String(),
			Currency:  p.Currency,
			ImageURL:  p.ImageURL,
			Features:  FeaturesDTO{Color: p.Features.Color, Storage: p.Features.Storage, RAM: p.Features.RAM},
			Quantity:  st.Item.Quantity,
			Subtotal:  st.Item.Subtotal().String(),
			Sync:      string(st.Sync),
			RecordID:  st.RecordID,
		}
		if st.LastError != nil {
			item.LastError = st.LastError.Error()
		}
		resp.Items = append(resp.Items, item)
	}
	return resp
}

func operationDTO(op *synchronizer.Operation) OperationDTO {
	dto := OperationDTO{
		ID:        op.ID,
		Kind:      string(op.Kind),
		ProductID: op.ProductID,
		State:     op.State().String(),
	}
	if res, done := op.Result(); done {
		dto.State = res.State.String()
		dto.RecordID = res.RecordID
		if res.Err != nil {
			dto.Error = res.Err.Error()
		}
	}
	return dto
}
