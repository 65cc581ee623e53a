package placement

import (
	"fmt"
	"math"

	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
)

// Demand is the total quantity requested for one product.
type Demand struct {
	ProductID int64
	Quantity  int
}

// Aggregate folds repeated product ids into one demand each, keeping the
// order in which products first appear.
func Aggregate(items []models.LineItem) ([]Demand, error) {
	if len(items) == 0 {
		return nil, ErrEmptyRequest
	}

	index := make(map[int64]int, len(items))
	demands := make([]Demand, 0, len(items))

	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %d has quantity %d", ErrInvalidQuantity, item.ProductID, item.Quantity)
		}

		i, seen := index[item.ProductID]
		if !seen {
			index[item.ProductID] = len(demands)
			demands = append(demands, Demand{ProductID: item.ProductID, Quantity: item.Quantity})
			continue
		}

		// quantity columns are INTEGER
		if demands[i].Quantity > math.MaxInt32-item.Quantity {
			return nil, fmt.Errorf("%w: product %d total quantity overflows", ErrInvalidQuantity, item.ProductID)
		}
		demands[i].Quantity += item.Quantity
	}

	for _, d := range demands {
		if d.Quantity > math.MaxInt32 {
			return nil, fmt.Errorf("%w: product %d total quantity overflows", ErrInvalidQuantity, d.ProductID)
		}
	}

	return demands, nil
}

type QuotedLine struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

type Quote struct {
	Total decimal.Decimal
	Lines []QuotedLine
}

// Price validates demands against the products read for this attempt and
// prices them. The first missing or short product, in demand order, fails
// the whole quote.
func Price(demands []Demand, products map[int64]models.Product) (*Quote, error) {
	quote := &Quote{
		Total: decimal.Zero,
		Lines: make([]QuotedLine, 0, len(demands)),
	}

	for _, d := range demands {
		product, ok := products[d.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: d.ProductID}
		}

		if product.Quantity < d.Quantity {
			return nil, &InsufficientInventoryError{
				ProductID: d.ProductID,
				Available: product.Quantity,
				Requested: d.Quantity,
			}
		}

		subtotal := product.Price.Mul(decimal.NewFromInt(int64(d.Quantity)))
		quote.Total = quote.Total.Add(subtotal)
		quote.Lines = append(quote.Lines, QuotedLine{
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
			UnitPrice: product.Price,
			Subtotal:  subtotal,
		})
	}

	return quote, nil
}
