package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/formation-api/internal/models"
	appErrors "github.com/noah-isme/formation-api/pkg/errors"
)

type authServiceStub struct {
	login      models.LoginRequest
	logoutAuth models.AuthContext
	loginErr   error
}

func (s *authServiceStub) Login(_ context.Context, req models.LoginRequest) (*models.Session, error) {
	s.login = req
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return &models.Session{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 3600}, nil
}

func (s *authServiceStub) Refresh(_ context.Context, req models.RefreshTokenRequest) (*models.Session, error) {
	return &models.Session{AccessToken: "access-2", RefreshToken: "refresh-2"}, nil
}

func (s *authServiceStub) Logout(_ context.Context, auth models.AuthContext, req models.LogoutRequest) error {
	s.logoutAuth = auth
	return nil
}

func TestAuthHandlerLoginForwardsClientInfo(t *testing.T) {
	svc := &authServiceStub{}
	h := NewAuthHandler(svc)
	r := newRouter(nil)
	r.POST("/auth/login", h.Login)

	rec := performJSON(r, http.MethodPost, "/auth/login", map[string]string{"email": "a@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@example.com", svc.login.Email)
	assert.NotEmpty(t, svc.login.IP)

	var session models.Session
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &session))
	assert.Equal(t, "refresh", session.RefreshToken)
}

func TestAuthHandlerLoginErrors(t *testing.T) {
	h := NewAuthHandler(&authServiceStub{loginErr: appErrors.ErrInvalidCredentials})
	r := newRouter(nil)
	r.POST("/auth/login", h.Login)

	rec := performJSON(r, http.MethodPost, "/auth/login", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = performJSON(r, http.MethodPost, "/auth/login", map[string]string{"email": "a@example.com", "password": "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeEnvelope(t, rec).Error.Code)
}

func TestAuthHandlerLogoutRequiresIdentity(t *testing.T) {
	svc := &authServiceStub{}
	h := NewAuthHandler(svc)

	anonymous := newRouter(nil)
	anonymous.POST("/auth/logout", h.Logout)
	rec := performJSON(anonymous, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": "r"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	signedIn := newRouter(adminClaims)
	signedIn.POST("/auth/logout", h.Logout)
	rec = performJSON(signedIn, http.MethodPost, "/auth/logout", map[string]string{"refresh_token": "r"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "admin-1", svc.logoutAuth.UserID)
}

func TestAuthHandlerMe(t *testing.T) {
	h := NewAuthHandler(&authServiceStub{})
	r := newRouter(adminClaims)
	r.GET("/auth/me", h.Me)

	rec := performJSON(r, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.UserInfo
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &info))
	assert.Equal(t, models.RoleAdmin, info.Role)
	assert.Equal(t, "admin@example.com", info.Email)
}
