package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/api"
	"github.com/safar/go-storefront/internal/auth"
	"github.com/safar/go-storefront/internal/idempotency"
	"github.com/safar/go-storefront/internal/metrics"
	"github.com/safar/go-storefront/internal/models"
	"github.com/safar/go-storefront/internal/placement"
	"github.com/safar/go-storefront/internal/store"
	"github.com/safar/go-storefront/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type client struct {
	t      *testing.T
	server *httptest.Server
}

func (c *client) do(method, path, token string, body any, headers ...string) (*http.Response, []byte) {
	c.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, c.server.URL+path, &buf)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := c.server.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(c.t, err)
	return resp, out.Bytes()
}

func setup(t *testing.T, opts ...api.Option) (*client, *store.NewUser) {
	t.Helper()
	db := testutil.NewPostgres(t)

	adminHash, err := auth.HashPassword("admin-password", bcrypt.MinCost)
	require.NoError(t, err)
	admin := &store.NewUser{Email: "admin@example.com", Name: "Admin", PasswordHash: adminHash, IsAdmin: true}
	_, err = store.CreateUser(context.Background(), db, *admin)
	require.NoError(t, err)

	engine := placement.NewEngine(db, placement.DefaultOptions())
	tokens := auth.NewTokenIssuer("integration-secret", time.Hour)
	opts = append([]api.Option{api.WithBcryptCost(bcrypt.MinCost), api.WithMetrics(metrics.New())}, opts...)

	server := httptest.NewServer(api.New(db, engine, tokens, opts...).Routes())
	t.Cleanup(server.Close)

	return &client{t: t, server: server}, admin
}

func (c *client) login(email, password string) string {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": email, "password": password})
	require.Equal(c.t, http.StatusOK, resp.StatusCode, string(body))

	var out api.AuthResponse
	require.NoError(c.t, json.Unmarshal(body, &out))
	return out.Token
}

func (c *client) register(email string) string {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "name": "Shopper", "password": "shopper-password",
	})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode, string(body))

	var out api.AuthResponse
	require.NoError(c.t, json.Unmarshal(body, &out))
	assert.NotContains(c.t, string(body), "password_hash")
	return out.Token
}

func (c *client) createProduct(adminToken, price string, quantity int) models.Product {
	c.t.Helper()
	resp, body := c.do(http.MethodPost, "/api/products", adminToken, map[string]any{
		"name": "Widget", "category": "tools", "price": price, "quantity": quantity,
	})
	require.Equal(c.t, http.StatusCreated, resp.StatusCode, string(body))

	var p models.Product
	require.NoError(c.t, json.Unmarshal(body, &p))
	return p
}

func TestStorefrontFlow(t *testing.T) {
	c, admin := setup(t)

	adminToken := c.login(admin.Email, "admin-password")
	buyer := c.register("buyer@example.com")
	other := c.register("other@example.com")

	resp, _ := c.do(http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "BUYER@example.com", "name": "Dup", "password": "another-password",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = c.do(http.MethodPost, "/api/auth/login", "", map[string]string{"email": "buyer@example.com", "password": "nope-nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	product := c.createProduct(adminToken, "9.99", 10)

	// non-admins cannot manage the catalog
	resp, _ = c.do(http.MethodPost, "/api/products", buyer, map[string]any{"name": "x", "price": "1", "quantity": 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := c.do(http.MethodPost, "/api/orders", buyer, map[string]any{
		"items": []map[string]any{{"product_id": product.ID, "quantity": 3}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var order models.Order
	require.NoError(t, json.Unmarshal(body, &order))
	assert.Equal(t, "29.97", order.TotalAmount.StringFixed(2))

	resp, body = c.do(http.MethodGet, "/api/products/"+itoa(product.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var after models.Product
	require.NoError(t, json.Unmarshal(body, &after))
	assert.Equal(t, 7, after.Quantity)

	resp, body = c.do(http.MethodPost, "/api/orders", buyer, map[string]any{
		"items": []map[string]any{{"product_id": product.ID, "quantity": 100}},
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	var apiErr api.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, "insufficient_inventory", apiErr.Error)
	assert.EqualValues(t, 7, apiErr.Details["available"])

	resp, body = c.do(http.MethodGet, "/api/orders", buyer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page store.CursorPage[models.Order]
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)

	resp, _ = c.do(http.MethodGet, "/api/orders?cursor=%25%25bad", buyer, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	path := "/api/orders/" + itoa(order.ID)
	resp, _ = c.do(http.MethodGet, path, other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = c.do(http.MethodGet, path, adminToken, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = c.do(http.MethodPatch, path+"/status", adminToken, map[string]string{"status": "teleported"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, body = c.do(http.MethodPatch, path+"/status", adminToken, map[string]string{"status": "shipped"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var shipped models.Order
	require.NoError(t, json.Unmarshal(body, &shipped))
	assert.Equal(t, models.OrderStatusShipped, shipped.Status)
	assert.True(t, shipped.TotalAmount.Equal(order.TotalAmount))

	// only enumerated fields are writable
	resp, _ = c.do(http.MethodPatch, "/api/products/"+itoa(product.ID), adminToken, map[string]any{"id": 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = c.do(http.MethodPatch, "/api/products/"+itoa(product.ID), adminToken, map[string]any{"price": "12.00"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = c.do(http.MethodPut, "/api/products/"+itoa(product.ID), adminToken, map[string]any{"name": "Widget v2", "quantity": 20})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var replaced models.Product
	require.NoError(t, json.Unmarshal(body, &replaced))
	assert.Equal(t, "Widget v2", replaced.Name)
	assert.Equal(t, 20, replaced.Quantity)
	assert.Equal(t, "12.00", replaced.Price.StringFixed(2), "omitted fields keep their value")

	resp, _ = c.do(http.MethodDelete, "/api/products/"+itoa(product.ID), adminToken, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "ordered products stay in the catalog")

	unused := c.createProduct(adminToken, "1.00", 1)
	resp, _ = c.do(http.MethodDelete, "/api/products/"+itoa(unused.ID), adminToken, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = c.do(http.MethodGet, "/api/admin/orders", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all store.OffsetPage[models.Order]
	require.NoError(t, json.Unmarshal(body, &all))
	assert.Equal(t, int64(1), all.Total)

	resp, _ = c.do(http.MethodGet, "/api/users", buyer, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, body = c.do(http.MethodGet, "/api/users?page_size=2", adminToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "password")
	var users store.OffsetPage[models.User]
	require.NoError(t, json.Unmarshal(body, &users))
	assert.Equal(t, int64(3), users.Total)
	assert.Equal(t, 2, users.TotalPages)
	require.Len(t, users.Items, 2)
	assert.Equal(t, "other@example.com", users.Items[0].Email)

	resp, _ = c.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIdempotentOrderReplay(t *testing.T) {
	redisClient, err := idempotency.Connect(context.Background(), testutil.NewRedis(t))
	require.NoError(t, err)
	t.Cleanup(func() { redisClient.Close() })

	c, admin := setup(t, api.WithIdempotency(idempotency.NewGuard(redisClient, time.Minute)))
	adminToken := c.login(admin.Email, "admin-password")
	buyer := c.register("buyer@example.com")
	product := c.createProduct(adminToken, "2.50", 10)

	body := map[string]any{"items": []map[string]any{{"product_id": product.ID, "quantity": 2}}}

	first, firstBody := c.do(http.MethodPost, "/api/orders", buyer, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, first.StatusCode, string(firstBody))

	second, secondBody := c.do(http.MethodPost, "/api/orders", buyer, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, second.StatusCode, string(secondBody))
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))

	var a, b models.Order
	require.NoError(t, json.Unmarshal(firstBody, &a))
	require.NoError(t, json.Unmarshal(secondBody, &b))
	assert.Equal(t, a.ID, b.ID)

	resp, respBody := c.do(http.MethodGet, "/api/products/"+itoa(product.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p models.Product
	require.NoError(t, json.Unmarshal(respBody, &p))
	assert.Equal(t, 8, p.Quantity, "stock is taken once")

	// a failed placement frees its key
	tooMany := map[string]any{"items": []map[string]any{{"product_id": product.ID, "quantity": 50}}}
	resp, _ = c.do(http.MethodPost, "/api/orders", buyer, tooMany, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = c.do(http.MethodPost, "/api/orders", buyer, body, "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}
