package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
)

type stubValidator struct {
	tokens map[string]*models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	claims, ok := s.tokens[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

var testValidator = stubValidator{tokens: map[string]*models.JWTClaims{
	"admin":   {UserID: "admin-1", Role: models.RoleAdmin},
	"student": {UserID: "student-1", Role: models.RoleStudent},
}}

func init() {
	gin.SetMode(gin.TestMode)
}

func whoAmI(c *gin.Context) {
	auth, _ := AuthFromContext(c)
	c.String(http.StatusOK, auth.UserID)
}

func TestJWTRequiresBearerToken(t *testing.T) {
	r := gin.New()
	r.GET("/me", JWT(testValidator), whoAmI)

	cases := map[string]int{
		"":               http.StatusUnauthorized,
		"Token admin":    http.StatusUnauthorized,
		"Bearer nope":    http.StatusUnauthorized,
		"Bearer admin":   http.StatusOK,
		"bearer student": http.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, header)
	}
}

func TestStreamJWTAcceptsQueryToken(t *testing.T) {
	r := gin.New()
	r.GET("/stream", StreamJWT(testValidator), whoAmI)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream?access_token=student", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "student-1", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireStaff(t *testing.T) {
	r := gin.New()
	r.POST("/schedules", JWT(testValidator), RequireStaff(), whoAmI)

	for token, want := range map[string]int{"admin": http.StatusOK, "student": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodPost, "/schedules", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, token)
	}
}

func TestRBACAllowsSelf(t *testing.T) {
	r := gin.New()
	r.GET("/users/:id", JWT(testValidator), RBAC(string(models.RoleAdmin), "SELF"), whoAmI)

	req := httptest.NewRequest(http.MethodGet, "/users/student-1", nil)
	req.Header.Set("Authorization", "Bearer student")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/users/student-2", nil)
	req.Header.Set("Authorization", "Bearer student")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

type recordingAudit struct {
	logs []*models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func TestAuditRecordsSuccessfulRequestsOnly(t *testing.T) {
	repo := &recordingAudit{}
	r := gin.New()
	r.POST("/schedules/:id/export", JWT(testValidator), Audit(repo, zap.NewNop(), models.AuditActionScheduleExport, "schedules"), func(c *gin.Context) {
		if c.Query("fail") != "" {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})

	for _, target := range []string{"/schedules/s-1/export", "/schedules/s-1/export?fail=1"} {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		req.Header.Set("Authorization", "Bearer admin")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	require.Len(t, repo.logs, 1)
	log := repo.logs[0]
	assert.Equal(t, models.AuditActionScheduleExport, log.Action)
	require.NotNil(t, log.UserID)
	assert.Equal(t, "admin-1", *log.UserID)
	require.NotNil(t, log.ResourceID)
	assert.Equal(t, "s-1", *log.ResourceID)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(log.NewValues, &body))
	assert.Equal(t, "/schedules/:id/export", body["path"])
}

type recordingObserver struct {
	paths []string
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	r.paths = append(r.paths, method+" "+path)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &recordingObserver{}
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/attendance/sheets/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/attendance/sheets/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	assert.Equal(t, []string{"GET /attendance/sheets/:id", "GET unmatched"}, observer.paths)
}

func TestResponseMetaCarriesCacheHit(t *testing.T) {
	r := gin.New()
	r.Use(WithResponseMeta())
	r.GET("/schedules", func(c *gin.Context) {
		SetCacheHit(c, true)
		c.JSON(http.StatusOK, ExtractMeta(c))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/schedules", nil))

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, true, meta["cache_hit"])
	assert.Contains(t, meta, "processing_time_ms")
}
