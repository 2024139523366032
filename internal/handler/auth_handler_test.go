package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/portfolio-review-api/internal/models"
	appErrors "github.com/noah-isme/portfolio-review-api/pkg/errors"
)

type fakeAuthSrv struct {
	last models.LoginRequest
	err  error
}

func (f *fakeAuthSrv) Login(req models.LoginRequest) (*models.LoginResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &models.LoginResponse{AccessToken: "token", Username: req.Username, Role: models.RoleAdmin}, nil
}

func TestAuthHandlerLogin(t *testing.T) {
	srv := &fakeAuthSrv{}
	h := NewAuthHandler(srv)

	c, rec := newTestContext(http.MethodPost, "/auth/login", []byte(`{"username":"admin","password":"secret"}`))
	c.Request.Header.Set("User-Agent", "reviewctl")
	h.Login(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "admin", srv.last.Username)
	assert.Equal(t, "reviewctl", srv.last.UserAgent)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"access_token":"token"`)
}

func TestAuthHandlerLoginFailures(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{err: appErrors.ErrInvalidCredentials})

	c, rec := newTestContext(http.MethodPost, "/auth/login", []byte(`{"username":`))
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	c, rec = newTestContext(http.MethodPost, "/auth/login", []byte(`{"username":"admin","password":"nope"}`))
	h.Login(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthHandlerMe(t *testing.T) {
	h := NewAuthHandler(&fakeAuthSrv{})

	c, rec := newTestContext(http.MethodGet, "/auth/me", nil)
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c, rec = newTestContext(http.MethodGet, "/auth/me", nil)
	withAdmin(c)
	h.Me(c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), `"role":"ADMIN"`)
}
