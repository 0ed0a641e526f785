package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/middleware"
	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
)

var (
	adminClaims   = &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin, Email: "admin@example.com", FullName: "Admin"}
	studentClaims = &models.JWTClaims{UserID: "student-1", Role: models.RoleStudent}
)

func init() {
	gin.SetMode(gin.TestMode)
}

func withClaims(claims *models.JWTClaims) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims != nil {
			c.Set(middleware.ContextUserKey, claims)
		}
		c.Next()
	}
}

func newRouter(claims *models.JWTClaims) *gin.Engine {
	r := gin.New()
	r.Use(middleware.WithResponseMeta(), withClaims(claims))
	return r
}

func performJSON(r http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, _ := json.Marshal(v)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type testEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination *models.Pagination     `json:"pagination"`
	Meta       map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}
