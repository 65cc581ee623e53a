package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, description, category, price, quantity, created_at, updated_at`

var (
	ErrInvalidPrice    = errors.New("price must not be negative")
	ErrInvalidQuantity = errors.New("quantity must not be negative")
	ErrEmptyName       = errors.New("name is required")
	ErrNoFields        = errors.New("no fields to update")
)

type NewProduct struct {
	Name        string
	Description string
	Category    string
	Price       decimal.Decimal
	Quantity    int
}

func (p NewProduct) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrEmptyName
	}
	if p.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if p.Quantity < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// ProductUpdate lists every field an update may touch. Nil fields are left
// unchanged; there is no way to write any other column.
type ProductUpdate struct {
	Name        *string
	Description *string
	Category    *string
	Price       *decimal.Decimal
	Quantity    *int
}

func (u ProductUpdate) empty() bool {
	return u.Name == nil && u.Description == nil && u.Category == nil &&
		u.Price == nil && u.Quantity == nil
}

func (u ProductUpdate) validate() error {
	if u.empty() {
		return ErrNoFields
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return ErrEmptyName
	}
	if u.Price != nil && u.Price.IsNegative() {
		return ErrInvalidPrice
	}
	if u.Quantity != nil && *u.Quantity < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Category,
		&product.Price,
		&product.Quantity,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
}

func CreateProduct(ctx context.Context, q Querier, p NewProduct) (*models.Product, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{}

	query := `
		INSERT INTO products (name, description, category, price, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING ` + productColumns

	err := scanProduct(q.QueryRowContext(ctx, query, p.Name, p.Description, p.Category, p.Price, p.Quantity), product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q Querier, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	err := scanProduct(q.QueryRowContext(ctx, query, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// GetProducts reads every requested product in one statement. Ids with no
// matching row are simply absent from the result.
func GetProducts(ctx context.Context, q Querier, ids []int64) (map[int64]models.Product, error) {
	products := make(map[int64]models.Product, len(ids))
	if len(ids) == 0 {
		return products, nil
	}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return products, nil
}

// DecrementQuantity takes amount units off the product's quantity on hand,
// but only if at least amount units remain at write time. Otherwise it
// returns database.ErrConditionFailed and changes nothing.
func DecrementQuantity(ctx context.Context, q Querier, productID int64, amount int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET quantity = quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND quantity >= $1`,
		amount, productID)
	if err != nil {
		return fmt.Errorf("decrement quantity: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("decrement product %d by %d: %w", productID, amount, database.ErrConditionFailed)
	}

	return nil
}

func UpdateProduct(ctx context.Context, q Querier, id int64, u ProductUpdate) (*models.Product, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{}

	query := `
		UPDATE products
		SET name        = COALESCE($1, name),
		    description = COALESCE($2, description),
		    category    = COALESCE($3, category),
		    price       = COALESCE($4, price),
		    quantity    = COALESCE($5, quantity),
		    updated_at  = NOW()
		WHERE id = $6
		RETURNING ` + productColumns

	var price interface{}
	if u.Price != nil {
		price = *u.Price
	}

	err := scanProduct(q.QueryRowContext(ctx, query, u.Name, u.Description, u.Category, price, u.Quantity, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return product, nil
}

func DeleteProduct(ctx context.Context, q Querier, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func ListProducts(ctx context.Context, q Querier, page, pageSize int) (*OffsetPage[models.Product], error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := q.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		if err := scanProduct(rows, &product); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
