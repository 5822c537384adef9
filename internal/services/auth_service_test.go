package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func setupAuthService(t *testing.T, whitelist map[string]string) (*AuthService, redismock.ClientMock, sqlmock.Sqlmock, *sql.DB) {
	viper.Set("jwt.secret_key", "test-secret-key")
	viper.Set("jwt.expiry_hours", 24)

	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)

	redisClient, redisMock := redismock.NewClientMock()
	service := NewAuthService(redisClient, NewIdentityService(db, whitelist))
	return service, redisMock, dbMock, db
}

func TestAuthService_RequestOTP(t *testing.T) {
	service, redisMock, _, db := setupAuthService(t, nil)
	defer db.Close()

	t.Run("stores OTP under the normalized phone", func(t *testing.T) {
		redisMock.Regexp().ExpectSet("login_otp:918800112233", `^\d{6}$`, service.config.OTPTimeout).SetVal("OK")

		body, _ := json.Marshal(map[string]string{"phoneNumber": "+91 8800 112 233"})
		req := httptest.NewRequest("POST", "/auth/request-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.RequestOTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("invalid phone", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"phoneNumber": "12345"})
		req := httptest.NewRequest("POST", "/auth/request-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.RequestOTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_VerifyOTP(t *testing.T) {
	whitelist := map[string]string{"919161293962": "Asha"}

	t.Run("valid OTP issues admin session token", func(t *testing.T) {
		service, redisMock, dbMock, db := setupAuthService(t, whitelist)
		defer db.Close()

		redisMock.ExpectGet("login_otp:919161293962").SetVal("482159")
		redisMock.ExpectDel("login_otp:919161293962").SetVal(1)

		dbMock.ExpectQuery("SELECT admin_name FROM admins WHERE admin_id = \\$1").
			WithArgs("admin_919161293962").
			WillReturnRows(sqlmock.NewRows([]string{"admin_name"}).AddRow("Asha"))

		body, _ := json.Marshal(map[string]string{"phoneNumber": "+91 9161293962", "otp": "482159"})
		req := httptest.NewRequest("POST", "/auth/verify-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyOTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response["token"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
		assert.NoError(t, dbMock.ExpectationsWereMet())
	})

	t.Run("wrong OTP is rejected", func(t *testing.T) {
		service, redisMock, _, db := setupAuthService(t, whitelist)
		defer db.Close()

		redisMock.ExpectGet("login_otp:919161293962").SetVal("482159")

		body, _ := json.Marshal(map[string]string{"phoneNumber": "919161293962", "otp": "000000"})
		req := httptest.NewRequest("POST", "/auth/verify-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyOTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("expired OTP is rejected", func(t *testing.T) {
		service, redisMock, _, db := setupAuthService(t, whitelist)
		defer db.Close()

		redisMock.ExpectGet("login_otp:919161293962").RedisNil()

		body, _ := json.Marshal(map[string]string{"phoneNumber": "919161293962", "otp": "482159"})
		req := httptest.NewRequest("POST", "/auth/verify-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyOTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unregistered phone gets not found after valid OTP", func(t *testing.T) {
		service, redisMock, dbMock, db := setupAuthService(t, nil)
		defer db.Close()

		redisMock.ExpectGet("login_otp:910000000000").SetVal("482159")
		redisMock.ExpectDel("login_otp:910000000000").SetVal(1)

		dbMock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM phone_mappings").
			WithArgs("910000000000").
			WillReturnError(sql.ErrNoRows)
		dbMock.ExpectQuery("SELECT recipient_id, ledger_id, recipient_name FROM recipients").
			WithArgs("910000000000", sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(map[string]string{"phoneNumber": "910000000000", "otp": "482159"})
		req := httptest.NewRequest("POST", "/auth/verify-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyOTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestAuthService_FailsClosedWithoutOTPStore(t *testing.T) {
	whitelist := map[string]string{"919161293962": "Asha"}

	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	// A failed Redis startup leaves the service without an OTP store. The OTP
	// is the only credential, so login must refuse rather than skip the check.
	service := NewAuthService(nil, NewIdentityService(db, whitelist))

	t.Run("request-otp refuses", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"phoneNumber": "919161293962"})
		req := httptest.NewRequest("POST", "/auth/request-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.RequestOTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("verify-otp refuses and never mints a token", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"phoneNumber": "919161293962", "otp": "000000"})
		req := httptest.NewRequest("POST", "/auth/verify-otp", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyOTP(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Empty(t, response["token"])
	})
}

func TestAuthService_VerifyAccessCode(t *testing.T) {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)

	t.Run("valid code issues coworker session token", func(t *testing.T) {
		service, _, dbMock, db := setupAuthService(t, nil)
		defer db.Close()

		hash, err := hashAccessCode("48215930")
		assert.NoError(t, err)

		dbMock.ExpectQuery("SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status", "access_code_hash"}).
				AddRow("ledger_a", "Meera", "JOINED", hash))

		body, _ := json.Marshal(map[string]string{"recipientId": "rcpt_1", "accessCode": "48215930"})
		req := httptest.NewRequest("POST", "/auth/verify-access-code", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyAccessCode(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]any
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response["token"])
	})

	t.Run("wrong code is rejected", func(t *testing.T) {
		service, _, dbMock, db := setupAuthService(t, nil)
		defer db.Close()

		hash, err := hashAccessCode("48215930")
		assert.NoError(t, err)

		dbMock.ExpectQuery("SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients").
			WithArgs("rcpt_1").
			WillReturnRows(sqlmock.NewRows([]string{"ledger_id", "recipient_name", "status", "access_code_hash"}).
				AddRow("ledger_a", "Meera", "JOINED", hash))

		body, _ := json.Marshal(map[string]string{"recipientId": "rcpt_1", "accessCode": "00000000"})
		req := httptest.NewRequest("POST", "/auth/verify-access-code", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyAccessCode(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown recipient looks like a wrong code", func(t *testing.T) {
		service, _, dbMock, db := setupAuthService(t, nil)
		defer db.Close()

		dbMock.ExpectQuery("SELECT ledger_id, recipient_name, status, access_code_hash FROM recipients").
			WithArgs("rcpt_missing").
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(map[string]string{"recipientId": "rcpt_missing", "accessCode": "48215930"})
		req := httptest.NewRequest("POST", "/auth/verify-access-code", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.VerifyAccessCode(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthService_Logout(t *testing.T) {
	service, redisMock, _, db := setupAuthService(t, nil)
	defer db.Close()

	t.Run("blacklists the presented token", func(t *testing.T) {
		expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
		redisMock.ExpectSet("blacklist:some-token", "1", expiry).SetVal("OK")

		req := httptest.NewRequest("POST", "/auth/logout", nil)
		req.Header.Set("Authorization", "Bearer some-token")
		w := httptest.NewRecorder()

		service.Logout(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("logout without a token still succeeds", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/auth/logout", nil)
		w := httptest.NewRecorder()

		service.Logout(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
