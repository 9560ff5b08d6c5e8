package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/support-pilot/internal/auth"
	"github.com/suPer8Hu/support-pilot/internal/common"
)

const (
	// ClientKey holds the authenticated client name in the gin context.
	ClientKey = "client"
	// OperatorKey is true when the token carries the operator claim.
	OperatorKey = "operator"
)

func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if h == "" || !strings.HasPrefix(h, "Bearer ") {
			common.Abort(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}
		claims, err := auth.ParseJWT(strings.TrimPrefix(h, "Bearer "), secret)
		if err != nil {
			common.Abort(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(ClientKey, claims.Client)
		c.Set(OperatorKey, claims.Operator)
		c.Next()
	}
}

// OperatorRequired runs after AuthRequired and rejects client tokens.
func OperatorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(OperatorKey) {
			common.Abort(c, http.StatusForbidden, 40301, "operator token required")
			return
		}
		c.Next()
	}
}
