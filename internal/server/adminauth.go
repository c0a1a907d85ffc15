package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/relaymux/llm-gateway/internal/config"
)

const adminTokenIssuer = "llm-gateway-admin"

// adminSigningKey derives the HMAC secret for admin session tokens from the
// configured admin password. An empty AdminPassword disables the admin
// surface's auth check entirely (local/dev use), matching APIKeyAuthMiddleware's
// own "empty key skips validation" behavior.
func adminSigningKey(cfg *config.Config) []byte {
	return []byte("admin-session:" + cfg.AdminPassword)
}

// issueAdminToken signs a short-lived bearer token once the admin password
// has been verified.
func issueAdminToken(cfg *config.Config) (string, error) {
	claims := jwt.MapClaims{
		"iss": adminTokenIssuer,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(12 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(adminSigningKey(cfg))
}

// AdminLoginHandler handles POST /admin/login: a password check that
// exchanges the shared AdminPassword for a bearer token, so the rest of the
// admin surface never sees the raw secret on every request.
func AdminLoginHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminPassword == "" {
			c.JSON(http.StatusOK, gin.H{"token": ""})
			return
		}

		var req struct {
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Password != cfg.AdminPassword {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
			return
		}

		token, err := issueAdminToken(cfg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue session token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// AdminAuthMiddleware validates the bearer token issued by AdminLoginHandler.
// When no AdminPassword is configured, the admin surface is unauthenticated
// (intended for local/dev deployments sitting behind their own network
// boundary).
func AdminAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminPassword == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == "" || tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin session required"})
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return adminSigningKey(cfg), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired admin session"})
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || claims["iss"] != adminTokenIssuer {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin session"})
			return
		}

		c.Next()
	}
}
