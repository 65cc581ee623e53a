package store_test

import (
	"context"
	"testing"

	"github.com/safar/go-storefront/internal/database"
	"github.com/safar/go-storefront/internal/store"
	"github.com/safar/go-storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndFindUser(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, db, store.NewUser{
		Email:        "  Jane@Example.com ",
		Name:         "Jane",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", created.Email)
	assert.False(t, created.IsAdmin)

	byEmail, err := store.GetUserByEmail(ctx, db, "JANE@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, "hash", byEmail.PasswordHash)

	_, err = store.CreateUser(ctx, db, store.NewUser{Email: "jane@example.com", Name: "Dup", PasswordHash: "x"})
	assert.ErrorIs(t, err, database.ErrEmailTaken)

	_, err = store.GetUser(ctx, db, 999999)
	assert.ErrorIs(t, err, database.ErrUserNotFound)
}

func TestListUsers(t *testing.T) {
	db := testutil.NewPostgres(t)
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		_, err := store.CreateUser(ctx, db, store.NewUser{Email: email, Name: "User", PasswordHash: "secret-hash"})
		require.NoError(t, err)
	}

	first, err := store.ListUsers(ctx, db, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.Total)
	assert.Equal(t, 2, first.TotalPages)
	require.Len(t, first.Items, 2)
	assert.Equal(t, "c@example.com", first.Items[0].Email, "newest first")

	second, err := store.ListUsers(ctx, db, 2, 2)
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Equal(t, "a@example.com", second.Items[0].Email)

	empty, err := store.ListUsers(ctx, db, 5, 2)
	require.NoError(t, err)
	assert.NotNil(t, empty.Items)
	assert.Empty(t, empty.Items)
}
