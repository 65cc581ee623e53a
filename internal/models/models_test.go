package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{"pending", "processing", "shipped", "delivered", "cancelled"} {
		assert.True(t, s.Valid(), s)
	}
	for _, s := range []OrderStatus{"", "confirmed", "PENDING", "refunded"} {
		assert.False(t, s.Valid(), s)
	}
}

func TestUserPasswordHashNotSerialized(t *testing.T) {
	data, err := json.Marshal(User{ID: 1, Email: "a@example.com", PasswordHash: "secret-hash"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret-hash")
}
