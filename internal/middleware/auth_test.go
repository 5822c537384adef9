package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/paisabook/backend/internal/models"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	assert.NoError(t, err)
	return signed
}

func TestAuthMiddleware(t *testing.T) {
	viper.Set("jwt.secret_key", "test-secret-key")

	echoSession := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session := SessionFromContext(r.Context())
		assert.NotNil(t, session)
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid admin token passes through", func(t *testing.T) {
		InitAuthMiddleware(nil)

		token := signTestToken(t, jwt.MapClaims{
			"role":       models.RoleAdmin,
			"ledger_id":  "ledger_a",
			"admin_id":   "admin_1",
			"admin_name": "Asha",
			"exp":        time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest("GET", "/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		AuthMiddleware(echoSession).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("missing header", func(t *testing.T) {
		InitAuthMiddleware(nil)

		req := httptest.NewRequest("GET", "/transactions", nil)
		w := httptest.NewRecorder()

		AuthMiddleware(echoSession).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		InitAuthMiddleware(nil)

		token := signTestToken(t, jwt.MapClaims{
			"role":      models.RoleAdmin,
			"ledger_id": "ledger_a",
			"exp":       time.Now().Add(-time.Hour).Unix(),
		})

		req := httptest.NewRequest("GET", "/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		AuthMiddleware(echoSession).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token without a ledger claim is incomplete", func(t *testing.T) {
		InitAuthMiddleware(nil)

		token := signTestToken(t, jwt.MapClaims{
			"role": models.RoleAdmin,
			"exp":  time.Now().Add(time.Hour).Unix(),
		})

		req := httptest.NewRequest("GET", "/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		AuthMiddleware(echoSession).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("blacklisted token is revoked", func(t *testing.T) {
		redisClient, redisMock := redismock.NewClientMock()
		InitAuthMiddleware(redisClient)
		defer InitAuthMiddleware(nil)

		token := signTestToken(t, jwt.MapClaims{
			"role":      models.RoleAdmin,
			"ledger_id": "ledger_a",
			"exp":       time.Now().Add(time.Hour).Unix(),
		})
		redisMock.ExpectGet("blacklist:" + token).SetVal("1")

		req := httptest.NewRequest("GET", "/transactions", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()

		AuthMiddleware(echoSession).ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRequireAdmin(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("admin passes", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/transactions", nil)
		session := &models.Session{Role: models.RoleAdmin, AdminID: "admin_1", LedgerID: "ledger_a"}
		req = req.WithContext(ContextWithSession(req.Context(), session))
		w := httptest.NewRecorder()

		RequireAdmin(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("coworker is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/transactions", nil)
		session := &models.Session{Role: models.RoleCoworker, RecipientID: "rcpt_1", LedgerID: "ledger_a"}
		req = req.WithContext(ContextWithSession(req.Context(), session))
		w := httptest.NewRecorder()

		RequireAdmin(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("missing session is rejected", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/transactions", nil)
		w := httptest.NewRecorder()

		RequireAdmin(next).ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}
