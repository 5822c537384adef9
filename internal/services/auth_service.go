package services

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/paisabook/backend/internal/config"
	"github.com/paisabook/backend/internal/models"
	"github.com/paisabook/backend/internal/phone"
	"github.com/spf13/viper"
)

// AuthService signs users in with a phone OTP. Verification resolves the
// phone against the admin whitelist and the recipient directory; there is no
// self-registration.
type AuthService struct {
	redis     *redis.Client
	identity  *IdentityService
	validator *ValidationHelper
	config    *config.EngineConfig
}

func NewAuthService(redisClient *redis.Client, identity *IdentityService) *AuthService {
	return &AuthService{
		redis:     redisClient,
		identity:  identity,
		validator: NewValidationHelper(),
		config:    config.LoadEngineConfig(),
	}
}

// RequestOTP sends a login OTP to a phone number
// @Summary Request login OTP
// @Description Generate a one-time password for phone login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body map[string]string true "Phone number"
// @Success 200 {object} map[string]interface{} "OTP sent successfully"
// @Failure 400 {object} ErrorResponse
// @Router /auth/request-otp [post]
func (s *AuthService) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	norm, err := phone.Normalize(req.PhoneNumber)
	if err != nil {
		SendErrorResponse(w, "Invalid phone number", http.StatusBadRequest, nil)
		return
	}

	// The OTP is the only login credential, so an unavailable OTP store must
	// fail the request rather than skip the check.
	if s.redis == nil {
		SendErrorResponse(w, "Login temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	otp := generateOTP(s.config.OTPLength)
	key := fmt.Sprintf("login_otp:%s", norm)

	ctx := context.Background()
	if err := s.redis.Set(ctx, key, otp, s.config.OTPTimeout).Err(); err != nil {
		log.Printf("[AUTH] Failed to store OTP in Redis: %v", err)
		SendErrorResponse(w, "Failed to generate OTP", http.StatusInternalServerError, nil)
		return
	}

	// TODO: deliver via the SMS gateway once provisioned
	log.Printf("[AUTH] OTP generated for phone %s: %s", norm, otp)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"message": "OTP Sent Successfully",
	})
}

// VerifyOTP verifies a login OTP and issues a session token
// @Summary Verify login OTP
// @Description Verify an OTP and resolve the phone into an admin or recipient session
// @Tags auth
// @Accept json
// @Produce json
// @Param request body map[string]string true "Phone number and OTP"
// @Success 200 {object} map[string]interface{} "Session token"
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /auth/verify-otp [post]
func (s *AuthService) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phoneNumber" validate:"required"`
		OTP         string `json:"otp" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	norm, err := phone.Normalize(req.PhoneNumber)
	if err != nil {
		SendErrorResponse(w, "Invalid phone number", http.StatusBadRequest, nil)
		return
	}

	if s.redis == nil {
		SendErrorResponse(w, "Login temporarily unavailable", http.StatusServiceUnavailable, nil)
		return
	}

	key := fmt.Sprintf("login_otp:%s", norm)

	ctx := context.Background()
	storedOTP, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		log.Printf("[AUTH] OTP not found or expired for phone %s", norm)
		SendErrorResponse(w, "Invalid or expired OTP", http.StatusUnauthorized, nil)
		return
	}

	if storedOTP != req.OTP {
		log.Printf("[AUTH] Invalid OTP for phone %s", norm)
		SendErrorResponse(w, "Invalid or expired OTP", http.StatusUnauthorized, nil)
		return
	}

	s.redis.Del(ctx, key)

	session, err := s.identity.Resolve(r.Context(), req.PhoneNumber)
	if err != nil {
		log.Printf("[AUTH] Identity resolution failed for phone %s: %v", norm, err)
		SendEngineError(w, err)
		return
	}
	if session == nil {
		SendErrorResponse(w, "Phone number not registered", http.StatusNotFound, nil)
		return
	}

	token, err := generateSessionToken(session)
	if err != nil {
		log.Printf("[AUTH] Failed to sign session token: %v", err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] %s login for phone %s (ledger %s)", session.Role, norm, session.LedgerID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":   token,
		"session": session,
	})
}

// VerifyAccessCode signs in a recipient created without a phone
// @Summary Verify access code
// @Description Exchange a recipient id and its one-time-issued access code for a session token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body map[string]string true "Recipient id and access code"
// @Success 200 {object} map[string]interface{} "Session token"
// @Failure 401 {object} ErrorResponse
// @Router /auth/verify-access-code [post]
func (s *AuthService) VerifyAccessCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientID string `json:"recipientId" validate:"required"`
		AccessCode  string `json:"accessCode" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := s.identity.ResolveAccessCode(r.Context(), req.RecipientID, req.AccessCode)
	if err != nil {
		log.Printf("[AUTH] Access code resolution failed for recipient %s: %v", req.RecipientID, err)
		SendEngineError(w, err)
		return
	}
	if session == nil {
		log.Printf("[AUTH] Invalid access code for recipient %s", req.RecipientID)
		SendErrorResponse(w, "Invalid recipient or access code", http.StatusUnauthorized, nil)
		return
	}

	token, err := generateSessionToken(session)
	if err != nil {
		log.Printf("[AUTH] Failed to sign session token: %v", err)
		SendErrorResponse(w, "Failed to create session", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] %s access-code login for recipient %s (ledger %s)", session.Role, session.RecipientID, session.LedgerID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":   token,
		"session": session,
	})
}

// Logout handles user logout
// @Summary Logout user
// @Description Logout user and blacklist token
// @Tags auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/logout [post]
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Logged out successfully",
	})
}

func generateSessionToken(session *models.Session) (string, error) {
	claims := jwt.MapClaims{
		"role":      session.Role,
		"ledger_id": session.LedgerID,
		"exp":       time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}
	if session.IsAdmin() {
		claims["admin_id"] = session.AdminID
		claims["admin_name"] = session.AdminName
	} else {
		claims["recipient_id"] = session.RecipientID
		claims["recipient_name"] = session.RecipientName
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func generateOTP(length int) string {
	const digits = "0123456789"
	b := make([]byte, length)
	cryptorand.Read(b)
	for i := range b {
		b[i] = digits[int(b[i])%len(digits)]
	}
	return string(b)
}
