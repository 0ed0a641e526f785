package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/formation-api/internal/middleware"
	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
	"github.com/noah-isme/formation-api/pkg/response"
)

// authFromContext returns the caller or writes a 401 when the route was
// reached without JWT middleware.
func authFromContext(c *gin.Context) (models.AuthContext, bool) {
	auth, ok := middleware.AuthFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.AuthContext{}, false
	}
	return auth, true
}

func bindJSON(c *gin.Context, dst interface{}, message string) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, message))
		return false
	}
	return true
}

func bindQuery(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query parameters"))
		return false
	}
	return true
}
