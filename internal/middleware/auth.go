package middleware

import (
	"net/http"
	"strings"

	"dropmates/internal/auth"
	"github.com/gin-gonic/gin"
)

const accountContextKey = "account"

func AccountFromContext(c *gin.Context) (string, bool) {
	account, ok := c.Get(accountContextKey)
	if !ok {
		return "", false
	}
	value, ok := account.(string)
	return value, ok && value != ""
}

// RequireAuth accepts bearer tokens minted for account only; a token for any
// other account is rejected like a bad signature.
func RequireAuth(cfg auth.TokenConfig, account string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil || claims.Account != account {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}

		c.Set(accountContextKey, claims.Account)
		c.Next()
	}
}
