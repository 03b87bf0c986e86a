package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginIssuesToken(t *testing.T) {
	env := newTestEnv(t)

	var resp loginResponse
	rec := env.jsonRequest(t, http.MethodPost, "/api/auth/login", "",
		loginRequest{Username: "inspector", Password: "secret"}, &resp)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "inspector", resp.Username)
	assert.Equal(t, "inspector", resp.Role)
	assert.False(t, resp.ExpiresAt.IsZero())
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t)

	rec := env.jsonRequest(t, http.MethodPost, "/api/auth/login", "",
		loginRequest{Username: "inspector", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	rec := env.jsonRequest(t, http.MethodPost, "/api/auth/login", "",
		loginRequest{Username: "nobody", Password: "secret"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRequiresCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.jsonRequest(t, http.MethodPost, "/api/auth/login", "",
		loginRequest{Username: "inspector"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/batches", "", nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/batches", "bogus-token", nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)

	token := env.login(t, "inspector", "secret")

	rec := env.request(t, http.MethodGet, "/api/batches", token, nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/auth/logout", token, nil, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(t, http.MethodGet, "/api/batches", token, nil, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRouteRejectsInspector(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodPost, "/api/admin/purge", env.inspectorToken, nil, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.request(t, http.MethodPost, "/api/admin/purge", env.adminToken, nil, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
