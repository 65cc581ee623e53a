package placement

import (
	"errors"
	"math"
	"testing"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAggregateMergesDuplicates(t *testing.T) {
	demands, err := Aggregate([]models.LineItem{
		{ProductID: 7, Quantity: 2},
		{ProductID: 3, Quantity: 1},
		{ProductID: 7, Quantity: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, []Demand{
		{ProductID: 7, Quantity: 5},
		{ProductID: 3, Quantity: 1},
	}, demands)
}

func TestAggregateRejectsBadInput(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, ErrEmptyRequest)

	_, err = Aggregate([]models.LineItem{{ProductID: 1, Quantity: 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = Aggregate([]models.LineItem{{ProductID: 1, Quantity: -4}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = Aggregate([]models.LineItem{
		{ProductID: 1, Quantity: math.MaxInt32},
		{ProductID: 1, Quantity: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestPriceScenarioA(t *testing.T) {
	products := map[int64]models.Product{
		1: {ID: 1, Price: decimal.RequireFromString("9.99"), Quantity: 10},
	}

	quote, err := Price([]Demand{{ProductID: 1, Quantity: 3}}, products)
	require.NoError(t, err)

	assert.Equal(t, "29.97", quote.Total.StringFixed(2))
	require.Len(t, quote.Lines, 1)
	assert.True(t, quote.Lines[0].UnitPrice.Equal(decimal.RequireFromString("9.99")))
}

func TestPriceReportsFirstFailingProduct(t *testing.T) {
	products := map[int64]models.Product{
		1: {ID: 1, Price: decimal.NewFromInt(1), Quantity: 7},
		2: {ID: 2, Price: decimal.NewFromInt(1), Quantity: 7},
	}

	_, err := Price([]Demand{{ProductID: 1, Quantity: 100}}, products)
	var short *InsufficientInventoryError
	require.True(t, errors.As(err, &short))
	assert.Equal(t, InsufficientInventoryError{ProductID: 1, Available: 7, Requested: 100}, *short)
	assert.ErrorIs(t, err, ErrInsufficientInventory)

	_, err = Price([]Demand{{ProductID: 2, Quantity: 1}, {ProductID: 9, Quantity: 1}}, products)
	var missing *ProductNotFoundError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, int64(9), missing.ProductID)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestPriceAvoidsFloatDrift(t *testing.T) {
	products := map[int64]models.Product{
		1: {ID: 1, Price: decimal.RequireFromString("0.10"), Quantity: 1000},
		2: {ID: 2, Price: decimal.RequireFromString("0.20"), Quantity: 1000},
	}

	quote, err := Price([]Demand{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}}, products)
	require.NoError(t, err)
	assert.True(t, quote.Total.Equal(decimal.RequireFromString("0.30")), quote.Total.String())
}

func TestAggregateIsSplitInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		productIDs := rapid.SliceOfNDistinct(rapid.Int64Range(1, 1000), 1, 6, rapid.ID[int64]).Draw(t, "products")

		var whole, split []models.LineItem
		for _, id := range productIDs {
			total := rapid.IntRange(1, 500).Draw(t, "total")
			whole = append(whole, models.LineItem{ProductID: id, Quantity: total})

			// break total into random positive parts
			for remaining := total; remaining > 0; {
				part := rapid.IntRange(1, remaining).Draw(t, "part")
				split = append(split, models.LineItem{ProductID: id, Quantity: part})
				remaining -= part
			}
		}

		a, err := Aggregate(whole)
		if err != nil {
			t.Fatalf("aggregate whole: %v", err)
		}
		b, err := Aggregate(split)
		if err != nil {
			t.Fatalf("aggregate split: %v", err)
		}

		if len(a) != len(b) {
			t.Fatalf("demand count differs: %d vs %d", len(a), len(b))
		}
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("demand %d differs: %+v vs %+v", i, a[i], b[i])
			}
		}
	})
}

func TestPriceTotalIsSumOfLines(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		products := make(map[int64]models.Product, n)
		demands := make([]Demand, 0, n)
		expected := decimal.Zero

		for i := 1; i <= n; i++ {
			cents := rapid.Int64Range(0, 10_000_000).Draw(t, "cents")
			qty := rapid.IntRange(1, 1000).Draw(t, "qty")
			price := decimal.New(cents, -2)

			products[int64(i)] = models.Product{ID: int64(i), Price: price, Quantity: qty}
			demands = append(demands, Demand{ProductID: int64(i), Quantity: qty})
			expected = expected.Add(price.Mul(decimal.NewFromInt(int64(qty))))
		}

		quote, err := Price(demands, products)
		if err != nil {
			t.Fatalf("price: %v", err)
		}
		if !quote.Total.Equal(expected) {
			t.Fatalf("total %s, expected %s", quote.Total, expected)
		}

		sum := decimal.Zero
		for _, line := range quote.Lines {
			sum = sum.Add(line.Subtotal)
		}
		if !sum.Equal(quote.Total) {
			t.Fatalf("lines sum to %s, total is %s", sum, quote.Total)
		}
	})
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(ErrEmptyRequest))
	assert.True(t, IsRejection(&ProductNotFoundError{ProductID: 1}))
	assert.True(t, IsRejection(&InsufficientInventoryError{ProductID: 1}))
	assert.True(t, IsRejection(database.ErrUserNotFound))
	assert.False(t, IsRejection(ErrTransactionConflict))
	assert.False(t, IsRejection(errors.New("connection refused")))
}
