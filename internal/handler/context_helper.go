package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/portfolio-review-api/internal/middleware"
	"github.com/noah-isme/portfolio-review-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// actorFromContext names the authenticated administrator, falling back to
// "system" for unauthenticated callers.
func actorFromContext(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil && claims.Username != "" {
		return claims.Username
	}
	return "system"
}

func responseMeta(c *gin.Context) map[string]interface{} {
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	return meta
}
