// Package placement turns a list of requested line items into a committed
// order. Stock validation, pricing, the order header, its line items and the
// stock decrements all happen in one database transaction; any failure leaves
// the catalog and the order ledger exactly as they were.
package placement

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/store"
)

type Options struct {
	// MaxRetries is the number of extra attempts after a transaction conflict.
	MaxRetries int
	// Timeout bounds the whole call, retries included. Zero means no bound
	// beyond the caller's context.
	Timeout     time.Duration
	BaseBackoff time.Duration
}

func DefaultOptions() Options {
	return Options{
		MaxRetries:  3,
		Timeout:     5 * time.Second,
		BaseBackoff: 20 * time.Millisecond,
	}
}

type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

type Engine struct {
	db      *sql.DB
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collector
}

func NewEngine(db *sql.DB, opts Options, options ...Option) *Engine {
	e := &Engine{
		db:     db,
		opts:   opts,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// PlaceOrder reserves stock for items on behalf of userID and records the
// order. Read-time catalog prices are authoritative and are copied onto each
// line item. The returned order is already committed.
//
// Errors: ErrEmptyRequest, ErrInvalidQuantity, *ProductNotFoundError,
// *InsufficientInventoryError, database.ErrUserNotFound,
// ErrTransactionConflict, ErrTimeout, or a wrapped storage error.
func (e *Engine) PlaceOrder(ctx context.Context, userID int64, items []models.LineItem) (*models.Order, error) {
	e.metrics.RecordAttempt()

	demands, err := Aggregate(items)
	if err != nil {
		e.metrics.RecordRejected()
		e.logger.DebugContext(ctx, "order rejected", "user_id", userID, "error", err)
		return nil, err
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	txOpts := database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     e.opts.MaxRetries,
		BaseBackoff:    e.opts.BaseBackoff,
	}

	var order *models.Order
	attempts := 0

	err = database.WithRetry(ctx, e.db, txOpts, func(tx *sql.Tx) error {
		attempts++
		if attempts > 1 {
			e.metrics.RecordRetry()
			e.logger.WarnContext(ctx, "retrying order placement after conflict",
				"user_id", userID, "attempt", attempts)
		}

		placed, err := e.place(ctx, tx, userID, demands)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, userID, attempts, err)
	}

	e.metrics.RecordPlaced()
	e.logger.InfoContext(ctx, "order placed",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"user_id", userID,
		"total", order.TotalAmount.StringFixed(2),
		"lines", len(order.Items),
		"attempts", attempts,
	)

	return order, nil
}

// place runs one attempt inside tx. Stock is decremented with a guard on
// the remaining quantity, so a concurrent order that got there first turns
// into database.ErrConditionFailed rather than negative stock.
func (e *Engine) place(ctx context.Context, tx *sql.Tx, userID int64, demands []Demand) (*models.Order, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
		userID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return nil, database.ErrUserNotFound
	}

	ids := make([]int64, len(demands))
	for i, d := range demands {
		ids[i] = d.ProductID
	}

	products, err := store.GetProducts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	quote, err := Price(demands, products)
	if err != nil {
		return nil, err
	}

	// Ascending id order keeps two orders over the same products from
	// locking rows in opposite order.
	reservations := slices.Clone(quote.Lines)
	slices.SortFunc(reservations, func(a, b QuotedLine) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	for _, line := range reservations {
		if err := store.DecrementQuantity(ctx, tx, line.ProductID, line.Quantity); err != nil {
			return nil, err
		}
	}

	order, err := store.CreateOrder(ctx, tx, userID, quote.Total, models.OrderStatusPending)
	if err != nil {
		return nil, err
	}

	order.Items = make([]models.OrderItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		item, err := store.AppendLineItem(ctx, tx, order.ID, line.ProductID, line.Quantity, line.UnitPrice)
		if err != nil {
			return nil, err
		}
		order.Items = append(order.Items, *item)
	}

	return order, nil
}

func (e *Engine) fail(ctx context.Context, userID int64, attempts int, err error) error {
	switch {
	case IsRejection(err):
		e.metrics.RecordRejected()
		e.logger.InfoContext(ctx, "order rejected", "user_id", userID, "error", err)
		return err

	case ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		e.metrics.RecordFailure()
		e.logger.WarnContext(ctx, "order placement aborted", "user_id", userID, "attempts", attempts, "error", err)
		return fmt.Errorf("%w: %w", ErrTimeout, err)

	case database.IsRetryable(err):
		e.metrics.RecordConflict()
		e.logger.WarnContext(ctx, "order placement conflict", "user_id", userID, "attempts", attempts, "error", err)
		return fmt.Errorf("%w: %w", ErrTransactionConflict, err)
	}

	e.metrics.RecordFailure()
	e.logger.ErrorContext(ctx, "order placement failed", "user_id", userID, "attempts", attempts, "error", err)
	return fmt.Errorf("place order: %w", err)
}
