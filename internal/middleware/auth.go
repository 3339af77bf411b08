package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/cjdem/grok2api/internal/config"
	apperrors "github.com/cjdem/grok2api/internal/errors"
)

// APIKeyAuth validates the caller key against the configured allow list.
// With no keys configured every request passes; the provided key (possibly
// empty) still flows into the context so downstream scoping can use it.
//
// Accepted sources: Authorization bearer, x-api-key header, ?key= query.
func APIKeyAuth(cfg *config.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := providedKey(c)
		allowed := cfg.Get().APIKeys

		if len(allowed) == 0 {
			c.Set("api_key", key)
			c.Next()
			return
		}
		if key == "" {
			respondUnauthorized(c, "API key not provided")
			return
		}
		for _, k := range allowed {
			if k != "" && subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
				c.Set("api_key", key)
				c.Next()
				return
			}
		}
		respondUnauthorized(c, "Invalid API key")
	}
}

// ManagementAuth guards the management surface. The key is checked against
// the bcrypt hash when configured, otherwise against the plain key. With
// neither configured the surface stays closed.
func ManagementAuth(cfg *config.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := cfg.Get()
		if snap.ManagementKeyHash == "" && snap.ManagementKey == "" {
			respondUnauthorized(c, "Management API disabled")
			return
		}
		key := providedKey(c)
		if key == "" {
			respondUnauthorized(c, "Management key not provided")
			return
		}
		if snap.ManagementKeyHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(snap.ManagementKeyHash), []byte(key)) != nil {
				respondUnauthorized(c, "Invalid management key")
				return
			}
		} else if subtle.ConstantTimeCompare([]byte(snap.ManagementKey), []byte(key)) != 1 {
			respondUnauthorized(c, "Invalid management key")
			return
		}
		c.Next()
	}
}

func providedKey(c *gin.Context) string {
	auth := strings.TrimSpace(c.GetHeader("Authorization"))
	if auth != "" {
		if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return auth
	}
	if v := strings.TrimSpace(c.GetHeader("x-api-key")); v != "" {
		return v
	}
	return strings.TrimSpace(c.Query("key"))
}

func respondUnauthorized(c *gin.Context, message string) {
	apiErr := apperrors.New(http.StatusUnauthorized, "invalid_request_error", "invalid_api_key", message)
	payload, err := apiErr.ToJSON()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": message}})
		return
	}
	c.Data(http.StatusUnauthorized, "application/json", payload)
	c.Abort()
}
