package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// tokenQueryParam carries the access token on websocket upgrades, where
// browsers cannot set an Authorization header.
const tokenQueryParam = "access_token"

type tokenValidator interface {
	ValidateToken(tokenString string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(validator tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		authenticate(c, validator, token)
	}
}

// StreamJWT behaves like JWT but also accepts ?access_token= for websocket clients.
func StreamJWT(validator tokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := c.Query(tokenQueryParam); token != "" {
			authenticate(c, validator, token)
			return
		}
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		authenticate(c, validator, token)
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", appErrors.ErrUnauthorized
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

func authenticate(c *gin.Context, validator tokenValidator, token string) {
	claims, err := validator.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		c.Abort()
		return
	}
	c.Set(ContextUserKey, claims)
	c.Next()
}

// AuthFromContext returns the caller identity attached by JWT.
func AuthFromContext(c *gin.Context) (models.AuthContext, bool) {
	value, exists := c.Get(ContextUserKey)
	if !exists {
		return models.AuthContext{}, false
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok || claims == nil {
		return models.AuthContext{}, false
	}
	return claims.Auth(), true
}
