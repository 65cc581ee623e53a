package api

import (
	"errors"
	"net/http"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/store"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// UpdateProductRequest is the full set of fields a client may change.
// Unknown fields are rejected when decoding.
type UpdateProductRequest struct {
	Name        *string          `json:"name"`
	Description *string          `json:"description"`
	Category    *string          `json:"category"`
	Price       *decimal.Decimal `json:"price"`
	Quantity    *int             `json:"quantity"`
}

func productValidationError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, store.ErrEmptyName),
		errors.Is(err, store.ErrInvalidPrice),
		errors.Is(err, store.ErrInvalidQuantity),
		errors.Is(err, store.ErrNoFields):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return true
	}
	return false
}

func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pageParams(r)

	result, err := store.ListProducts(r.Context(), h.db, page, pageSize)
	if err != nil {
		h.internalError(w, r, "list products failed", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid product ID")
		return
	}

	product, err := store.GetProduct(r.Context(), h.db, id)
	if errors.Is(err, database.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, "product_not_found", "Product not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "get product failed", err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	product, err := store.CreateProduct(r.Context(), h.db, store.NewProduct{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	if productValidationError(w, err) {
		return
	}
	if err != nil {
		h.internalError(w, r, "create product failed", err)
		return
	}

	writeJSON(w, http.StatusCreated, product)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid product ID")
		return
	}

	var req UpdateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body or unsupported field")
		return
	}

	product, err := store.UpdateProduct(r.Context(), h.db, id, store.ProductUpdate{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Quantity:    req.Quantity,
	})
	if productValidationError(w, err) {
		return
	}
	if errors.Is(err, database.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, "product_not_found", "Product not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "update product failed", err)
		return
	}

	writeJSON(w, http.StatusOK, product)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid product ID")
		return
	}

	err := store.DeleteProduct(r.Context(), h.db, id)
	if errors.Is(err, database.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, "product_not_found", "Product not found")
		return
	}
	if database.IsForeignKeyViolation(err) {
		writeError(w, http.StatusConflict, "product_in_use", "Product is referenced by existing orders")
		return
	}
	if err != nil {
		h.internalError(w, r, "delete product failed", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
