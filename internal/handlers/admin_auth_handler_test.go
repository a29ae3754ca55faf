package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"defeatthememe-backend/internal/config"
	"defeatthememe-backend/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

func TestAdminTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := IssueAdminToken(secret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("IssueAdminToken: %v", err)
	}
	claims, err := ValidateAdminJWTToken(secret, token)
	if err != nil {
		t.Fatalf("ValidateAdminJWTToken: %v", err)
	}
	if claims.Username != "ops" || claims.Role != "admin" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ValidateAdminJWTToken([]byte("other"), token); err == nil {
		t.Error("token validated with the wrong secret")
	}
	expired, _ := IssueAdminToken(secret, "ops", -time.Minute)
	if _, err := ValidateAdminJWTToken(secret, expired); err == nil {
		t.Error("expired token validated")
	}
	if _, err := ValidateAdminJWTToken(secret, "not.a.token"); err == nil {
		t.Error("garbage token validated")
	}
}

func TestAdminLoginHandler(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "test", AccountName: "admin"})
	if err != nil {
		t.Fatalf("totp: %v", err)
	}
	h := NewAdminAuthHandler(config.AdminConfig{
		PasswordHash: string(hash),
		TOTPSecret:   key.Secret(),
		JWTSecret:    "jwt",
	}, logger.Discard())
	r := gin.New()
	r.POST("/login", h.AdminLoginHandler)
	r.GET("/totp-secret", h.GenerateTOTPSecretHandler)

	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}

	w := performRequest(r, http.MethodPost, "/login", `{"username":"admin","password":"wrong","totp_code":"`+code+`"}`)
	if w.Code != http.StatusUnauthorized || decodeBody(t, w)["message"] != "Invalid credentials" {
		t.Errorf("wrong password = %d %s", w.Code, w.Body.String())
	}

	w = performRequest(r, http.MethodPost, "/login", `{"username":"admin","password":"hunter2","totp_code":"000000x"}`)
	if w.Code != http.StatusUnauthorized || decodeBody(t, w)["message"] != "Invalid TOTP code" {
		t.Errorf("wrong totp = %d %s", w.Code, w.Body.String())
	}

	w = performRequest(r, http.MethodPost, "/login", `{"username":"admin","password":"hunter2","totp_code":"`+code+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d %s", w.Code, w.Body.String())
	}
	token, _ := decodeBody(t, w)["token"].(string)
	if claims, err := h.ValidateToken(token); err != nil || claims.Username != "admin" {
		t.Errorf("issued token invalid: %v", err)
	}

	w = performRequest(r, http.MethodGet, "/totp-secret", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("totp-secret with configured secret = %d", w.Code)
	}
}

func TestAdminLoginUnconfigured(t *testing.T) {
	h := NewAdminAuthHandler(config.AdminConfig{}, logger.Discard())
	r := gin.New()
	r.POST("/login", h.AdminLoginHandler)
	r.GET("/totp-secret", h.GenerateTOTPSecretHandler)

	w := performRequest(r, http.MethodPost, "/login", `{"username":"admin","password":"x","totp_code":"123456"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("unconfigured login = %d", w.Code)
	}

	w = performRequest(r, http.MethodGet, "/totp-secret", "")
	body := decodeBody(t, w)
	if w.Code != http.StatusOK || body["secret"] == "" || !strings.HasPrefix(body["url"].(string), "otpauth://") {
		t.Errorf("totp-secret = %d %v", w.Code, body)
	}
}
