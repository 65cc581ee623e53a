package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/safar/go-storefront/internal/auth"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/idempotency"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/placement"
	"github.com/safar/go-storefront/internal/store"
)

const (
	idempotencyHeader  = "Idempotency-Key"
	conflictRetryAfter = "1"
	publishTimeout     = 5 * time.Second
)

type PlaceOrderRequest struct {
	Items []models.LineItem `json:"items"`
}

type UpdateOrderStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, _ := auth.ClaimsFrom(ctx)

	var req PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	key := r.Header.Get(idempotencyHeader)
	previous, err := h.guard.Reserve(ctx, claims.UserID, key)
	if err != nil {
		// Redis is optional; placement goes ahead without replay protection.
		h.logger.WarnContext(ctx, "idempotency guard unavailable", "error", err)
		key = ""
	}
	if previous != nil {
		h.replay(w, r, previous)
		return
	}

	order, err := h.placer.PlaceOrder(ctx, claims.UserID, req.Items)
	if err != nil {
		if relErr := h.guard.Release(context.WithoutCancel(ctx), claims.UserID, key); relErr != nil {
			h.logger.WarnContext(ctx, "release idempotency key failed", "error", relErr)
		}
		h.writePlacementError(w, r, err)
		return
	}

	if err := h.guard.Complete(context.WithoutCancel(ctx), claims.UserID, key, order.ID); err != nil {
		h.logger.WarnContext(ctx, "complete idempotency key failed", "order_id", order.ID, "error", err)
	}

	h.publishPlaced(ctx, order)

	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, previous *idempotency.Result) {
	if previous.Pending {
		writeError(w, http.StatusConflict, "request_in_progress", idempotency.ErrInProgress.Error())
		return
	}

	order, err := store.GetOrder(r.Context(), h.db, previous.OrderID)
	if err != nil {
		h.internalError(w, r, "load replayed order failed", err)
		return
	}

	w.Header().Set("Idempotent-Replayed", "true")
	writeJSON(w, http.StatusOK, order)
}

// publishPlaced runs after commit. A broker failure is logged and the
// order stands.
func (h *Handler) publishPlaced(ctx context.Context, order *models.Order) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := h.publisher.PublishOrderPlaced(pubCtx, events.NewOrderPlaced(order)); err != nil {
		h.logger.ErrorContext(ctx, "publish order placed failed",
			"order_id", order.ID,
			"order_number", order.OrderNumber,
			"error", err,
		)
	}
}

func (h *Handler) writePlacementError(w http.ResponseWriter, r *http.Request, err error) {
	var missing *placement.ProductNotFoundError
	var short *placement.InsufficientInventoryError

	switch {
	case errors.Is(err, placement.ErrEmptyRequest):
		writeError(w, http.StatusBadRequest, "empty_request", err.Error())
	case errors.Is(err, placement.ErrInvalidQuantity):
		writeError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.As(err, &missing):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:   "product_not_found",
			Message: missing.Error(),
			Details: map[string]any{"product_id": missing.ProductID},
		})
	case errors.As(err, &short):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "insufficient_inventory",
			Message: short.Error(),
			Details: map[string]any{
				"product_id": short.ProductID,
				"available":  short.Available,
				"requested":  short.Requested,
			},
		})
	case errors.Is(err, database.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user_not_found", "User no longer exists")
	case errors.Is(err, placement.ErrTransactionConflict):
		w.Header().Set("Retry-After", conflictRetryAfter)
		writeError(w, http.StatusConflict, "transaction_conflict", "Inventory changed while placing the order, please retry")
	case errors.Is(err, placement.ErrTimeout):
		w.Header().Set("Retry-After", conflictRetryAfter)
		writeError(w, http.StatusServiceUnavailable, "timeout", "Order placement timed out, nothing was charged")
	default:
		h.internalError(w, r, "place order failed", err)
	}
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	page, err := store.ListOrdersCursor(r.Context(), h.db, claims.UserID, r.URL.Query().Get("cursor"), limit)
	if errors.Is(err, store.ErrInvalidCursor) {
		writeError(w, http.StatusBadRequest, "invalid_cursor", "Invalid cursor")
		return
	}
	if err != nil {
		h.internalError(w, r, "list orders failed", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())

	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid order ID")
		return
	}

	order, err := store.GetOrder(r.Context(), h.db, id)
	if errors.Is(err, database.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get order failed", err)
		return
	}

	// other users' orders look exactly like missing ones
	if order.UserID != claims.UserID && !claims.IsAdmin {
		writeError(w, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid order ID")
		return
	}

	var req UpdateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body or unsupported field")
		return
	}

	order, err := store.UpdateOrderStatus(r.Context(), h.db, id, req.Status)
	if errors.Is(err, store.ErrInvalidStatus) {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	if errors.Is(err, database.ErrOrderNotFound) {
		writeError(w, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "update order status failed", err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := store.ListAllOrders(r.Context(), h.db, page, pageSize)
	if err != nil {
		h.internalError(w, r, "list all orders failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
