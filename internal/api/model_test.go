package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conescan/conescan-go/internal/colorimetry"
)

func TestModelClassesFallsBackToBuiltin(t *testing.T) {
	env := newTestEnv(t)

	var resp modelClassesResponse
	rec := env.request(t, http.MethodGet, "/api/model/classes",
		env.inspectorToken, nil, "", &resp)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "builtin", resp.Source)
	assert.Equal(t, colorimetry.Classes(), resp.Classes)
	assert.Contains(t, resp.Classes, "white")
	assert.Contains(t, resp.Classes, "green_brown")
}

func TestModelInfoUnavailableWithoutService(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/model/info",
		env.inspectorToken, nil, "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
