// Package api exposes the storefront over HTTP.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/go-storefront/internal/auth"
	"github.com/safar/go-storefront/internal/events"
	"github.com/safar/go-storefront/internal/idempotency"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"golang.org/x/crypto/bcrypt"
)

// OrderPlacer is satisfied by *placement.Engine.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, userID int64, items []models.LineItem) (*models.Order, error)
}

type Handler struct {
	db         *sql.DB
	placer     OrderPlacer
	tokens     *auth.TokenIssuer
	guard      *idempotency.Guard
	publisher  events.Publisher
	metrics    *metrics.Collector
	logger     *slog.Logger
	bcryptCost int
}

type Option func(*Handler)

func WithIdempotency(g *idempotency.Guard) Option {
	return func(h *Handler) {
		h.guard = g
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(h *Handler) {
		h.publisher = p
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithBcryptCost(cost int) Option {
	return func(h *Handler) {
		h.bcryptCost = cost
	}
}

func New(db *sql.DB, placer OrderPlacer, tokens *auth.TokenIssuer, opts ...Option) *Handler {
	h := &Handler{
		db:         db,
		placer:     placer,
		tokens:     tokens,
		publisher:  events.NopPublisher{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Get("/metrics", h.GetMetrics)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)

		r.Get("/products", h.ListProducts)
		r.Get("/products/{id}", h.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(auth.Authenticate(h.tokens))

			r.Get("/users/me", h.Me)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)

				r.Get("/users", h.ListUsers)

				r.Post("/products", h.CreateProduct)
				r.Put("/products/{id}", h.UpdateProduct)
				r.Patch("/products/{id}", h.UpdateProduct)
				r.Delete("/products/{id}", h.DeleteProduct)

				r.Patch("/orders/{id}/status", h.UpdateOrderStatus)
				r.Get("/admin/orders", h.ListAllOrders)
			})
		})
	})

	return r
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

// internalError logs the cause and answers with a generic 500.
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.ErrorContext(r.Context(), msg,
		"error", err,
		"request_id", middleware.GetReqID(r.Context()),
		"path", r.URL.Path,
	)
	writeError(w, http.StatusInternalServerError, "internal_error", "Something went wrong")
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func pageParams(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return page, pageSize
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "ok"})
}

func (h *Handler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.GetStats())
}
