package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"

	"proofplus-coordinator/internal/middleware"
)

const operatorTokenTTL = 12 * time.Hour

// TokenRequest operator login
type TokenRequest struct {
	Operator string `json:"operator" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// TokenResponse operator login result
type TokenResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// AuthHandler exchanges a TOTP code for an operator JWT
type AuthHandler struct {
	jwtSecret  []byte
	totpSecret string
	logger     *logrus.Logger
}

func NewAuthHandler(jwtSecret, totpSecret string, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		jwtSecret:  []byte(jwtSecret),
		totpSecret: totpSecret,
		logger:     logger,
	}
}

// Enabled both secrets are configured
func (h *AuthHandler) Enabled() bool {
	return len(h.jwtSecret) > 0 && h.totpSecret != ""
}

// IssueToken POST /auth/token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, TokenResponse{Message: "Invalid request: " + err.Error()})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		h.logger.WithFields(logrus.Fields{
			"operator":  req.Operator,
			"client_ip": c.ClientIP(),
		}).Warn("Rejected operator login, invalid TOTP code")
		c.JSON(http.StatusUnauthorized, TokenResponse{Message: "Invalid TOTP code"})
		return
	}

	token, err := middleware.GenerateToken(h.jwtSecret, req.Operator, operatorTokenTTL)
	if err != nil {
		h.logger.WithError(err).Error("Failed to sign operator token")
		c.JSON(http.StatusInternalServerError, TokenResponse{Message: "Failed to generate token"})
		return
	}

	h.logger.WithField("operator", req.Operator).Info("Operator token issued")
	c.JSON(http.StatusOK, TokenResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: time.Now().Add(operatorTokenTTL),
	})
}

// GenerateTOTPSecret creates a new base32 TOTP secret and its provisioning URL
func GenerateTOTPSecret(accountName string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "ProofPlus Coordinator",
		AccountName: accountName,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
