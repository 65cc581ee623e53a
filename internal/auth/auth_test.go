package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/safar/go-storefront/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)

	token, err := issuer.Issue(&models.User{ID: 42, Email: "a@example.com", IsAdmin: true})
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "42", claims.Subject)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, err := issuer.Issue(&models.User{ID: 1})
	require.NoError(t, err)

	_, err = NewTokenIssuer("other-secret", time.Hour).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse", bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, CheckPassword(hash, "correct horse"))
	assert.ErrorIs(t, CheckPassword(hash, "wrong horse"), ErrPasswordMismatch)

	_, err = HashPassword("short", bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestHashPasswordLengthBounds(t *testing.T) {
	_, err := HashPassword(strings.Repeat("a", 72), bcrypt.MinCost)
	assert.NoError(t, err)

	_, err = HashPassword(strings.Repeat("a", 73), bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	// multi-byte runes count by bytes
	_, err = HashPassword(strings.Repeat("é", 37), bcrypt.MinCost)
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestAuthenticateMiddleware(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	userToken, err := issuer.Issue(&models.User{ID: 7})
	require.NoError(t, err)
	adminToken, err := issuer.Issue(&models.User{ID: 8, IsAdmin: true})
	require.NoError(t, err)

	var seen *Claims
	protected := Authenticate(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	adminOnly := Authenticate(issuer)(RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name    string
		handler http.Handler
		header  string
		status  int
	}{
		{"missing token", protected, "", http.StatusUnauthorized},
		{"wrong scheme", protected, "Basic abc", http.StatusUnauthorized},
		{"garbage token", protected, "Bearer garbage", http.StatusForbidden},
		{"valid token", protected, "Bearer " + userToken, http.StatusNoContent},
		{"non-admin on admin route", adminOnly, "Bearer " + userToken, http.StatusForbidden},
		{"admin on admin route", adminOnly, "Bearer " + adminToken, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	require.NotNil(t, seen)
	assert.Equal(t, int64(7), seen.UserID)
}
