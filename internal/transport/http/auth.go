package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/freshplate/wallet-service/internal/model"
	"github.com/freshplate/wallet-service/internal/service"
)

const actorContextKey = "walletActor"

// AdminClaims is the bearer token payload issued by the account
// service. Only role=admin tokens may reach the wallet endpoints.
type AdminClaims struct {
	UserID uint64 `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuthMiddleware validates the bearer token and stashes the acting
// admin's identity for handlers to stamp on ledger rows.
func AdminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"status": "error", "message": "missing or invalid Authorization header"})
			return
		}
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

		claims := &AdminClaims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"status": "error", "message": "invalid or expired token"})
			return
		}
		if claims.Role != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden,
				gin.H{"status": "error", "message": "admin access required"})
			return
		}

		c.Set(actorContextKey, service.Actor{UserID: claims.UserID, Email: claims.Email})
		c.Next()
	}
}

func actorFromContext(c *gin.Context) service.Actor {
	if v, ok := c.Get(actorContextKey); ok {
		if a, ok := v.(service.Actor); ok {
			return a
		}
	}
	return service.Actor{}
}

// NewAdminToken signs a short-lived HS256 token. Used by tests and the
// ops tooling; production tokens come from the account service.
func NewAdminToken(secret string, userID uint64, email, role string) (string, error) {
	claims := AdminClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
