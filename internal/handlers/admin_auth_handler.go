package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"defeatthememe-backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminRole     = "admin"
	adminIssuer   = "defeatthememe-backend-admin"
	defaultJWTKey = "defeatthememe-admin-jwt-secret-change-me"
)

// AdminAuthHandler handles admin login
type AdminAuthHandler struct {
	cfg       config.AdminConfig
	jwtSecret []byte
	log       *logrus.Entry
}

// AdminLoginRequest admin login request
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse admin login response
type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// AdminJWTClaims admin JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthHandler creates the handler. Login is refused until a password hash and TOTP secret are configured.
func NewAdminAuthHandler(cfg config.AdminConfig, log *logrus.Entry) *AdminAuthHandler {
	if cfg.TOTPSecret == "" || cfg.PasswordHash == "" {
		log.Warn("⚠️  ADMIN_TOTP_SECRET or ADMIN_PASSWORD_HASH not set, admin login disabled")
	}
	secret := []byte(cfg.JWTSecret)
	if len(secret) == 0 {
		secret = []byte(defaultJWTKey)
		log.Warn("⚠️  Using default ADMIN_JWT_SECRET, set it in production")
	}
	if cfg.Username == "" {
		cfg.Username = "admin"
	}
	if cfg.TokenTTLHours <= 0 {
		cfg.TokenTTLHours = 12
	}
	return &AdminAuthHandler{cfg: cfg, jwtSecret: secret, log: log}
}

// AdminLoginHandler POST /api/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.cfg.TOTPSecret == "" || h.cfg.PasswordHash == "" {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Server misconfiguration: admin credentials not set",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	if req.Username != h.cfg.Username ||
		bcrypt.CompareHashAndPassword([]byte(h.cfg.PasswordHash), []byte(req.Password)) != nil {
		h.log.WithField("client_ip", c.ClientIP()).Warn("🚫 Admin login rejected")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	if !totp.Validate(req.TOTPCode, h.cfg.TOTPSecret) {
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	token, err := IssueAdminToken(h.jwtSecret, req.Username, time.Duration(h.cfg.TokenTTLHours)*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	h.log.WithField("username", req.Username).Info("🔑 Admin logged in")
	c.JSON(http.StatusOK, AdminLoginResponse{
		Success: true,
		Token:   token,
		Message: "Login successful",
	})
}

// GenerateTOTPSecretHandler returns a fresh TOTP secret while none is configured.
// GET /api/admin/totp-secret
func (h *AdminAuthHandler) GenerateTOTPSecretHandler(c *gin.Context) {
	if h.cfg.TOTPSecret != "" {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"error":   "TOTP secret already configured",
		})
		return
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "DefeatTheMeme Admin",
		AccountName: h.cfg.Username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "Failed to generate TOTP secret",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"secret":  key.Secret(),
		"url":     key.URL(),
		"message": "Save this secret to ADMIN_TOTP_SECRET",
	})
}

// ValidateToken parses and checks an admin token signed with this handler's secret.
func (h *AdminAuthHandler) ValidateToken(tokenString string) (*AdminJWTClaims, error) {
	return ValidateAdminJWTToken(h.jwtSecret, tokenString)
}

// IssueAdminToken signs an HS256 admin token.
func IssueAdminToken(secret []byte, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminJWTClaims{
		Username: username,
		Role:     adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    adminIssuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateAdminJWTToken verifies signature, expiry and role.
func ValidateAdminJWTToken(secret []byte, tokenString string) (*AdminJWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(adminIssuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*AdminJWTClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
