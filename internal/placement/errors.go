package placement

import (
	"errors"
	"fmt"

	"github.com/safar/go-storefront/internal/database"
)

var (
	ErrEmptyRequest    = errors.New("order must contain at least one item")
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrInsufficientInventory matches every *InsufficientInventoryError.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrTransactionConflict means a concurrent placement changed stock under
	// this attempt. Nothing was written; the call is safe to retry.
	ErrTransactionConflict = errors.New("transaction conflict")

	ErrTimeout = errors.New("order placement timed out")
)

type ProductNotFoundError struct {
	ProductID int64
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %d not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool {
	return target == database.ErrProductNotFound
}

type InsufficientInventoryError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

func (e *InsufficientInventoryError) Is(target error) bool {
	return target == ErrInsufficientInventory
}

// IsRejection reports whether err is the caller's fault and must not be retried.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEmptyRequest) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, database.ErrProductNotFound) ||
		errors.Is(err, database.ErrUserNotFound) ||
		errors.Is(err, ErrInsufficientInventory)
}
