package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/talenthive/cvflow/pkg/config"
)

// authMiddleware accepts either credential: X-API-Key compared in
// constant time, or X-Webhook-Signature carrying an HMAC-SHA256 of the
// request body. Health and metrics endpoints are exempted by the router
// layout, not here.
func authMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APIKey == "" && cfg.WebhookSecret == "" {
			c.Next() // auth not configured (local development)
			return
		}

		if key := c.GetHeader("X-API-Key"); key != "" && cfg.APIKey != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.APIKey)) == 1 {
				c.Next()
				return
			}
		}

		if sig := c.GetHeader("X-Webhook-Signature"); sig != "" && cfg.WebhookSecret != "" {
			body, err := io.ReadAll(c.Request.Body)
			if err == nil {
				c.Request.Body = io.NopCloser(bytes.NewReader(body))
				if verifySignature(cfg.WebhookSecret, body, sig) {
					c.Next()
					return
				}
			}
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "unauthorized",
		})
	}
}

// verifySignature checks "sha256=<hex>" against HMAC-SHA256(secret, body)
// in constant time.
func verifySignature(secret string, body []byte, header string) bool {
	provided, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// corsMiddleware applies the configured allowed origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Webhook-Signature")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
