package adminauth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Ken-Miura/career-change-supporter-sub006/internal/logging"
)

const (
	// ContextKeyAdminAccountID is the key for the authenticated admin's account ID
	ContextKeyAdminAccountID = "adminAccountID"

	// CodeUnauthorized is the stable error code for missing or invalid tokens.
	CodeUnauthorized = 10006
)

// Middleware extracts and verifies the admin bearer token.
// Sets adminAccountID in context if valid.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			claims, err := m.Verify(token)
			if err == nil {
				c.Set(ContextKeyAdminAccountID, claims.AdminAccountID)
				ctx := logging.WithAdminAccountID(c.Request.Context(), claims.AdminAccountID)
				c.Request = c.Request.WithContext(ctx)
			}
		}
		c.Next()
	}
}

// RequireAdmin rejects requests without a verified admin token.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAdminAccountID); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    CodeUnauthorized,
				"message": "admin authentication required",
			})
			return
		}
		c.Next()
	}
}

// AdminAccountID returns the authenticated admin's account ID, or 0 if absent.
func AdminAccountID(c *gin.Context) int64 {
	v, exists := c.Get(ContextKeyAdminAccountID)
	if !exists {
		return 0
	}
	id, _ := v.(int64)
	return id
}
