package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/intake"
)

// testStore satisfies datastore.Interface on a throwaway in-memory
// database.
type testStore struct {
	datastore.DataStore
}

func (s *testStore) Open() error { return nil }

// testEnv bundles everything a handler test needs.
type testEnv struct {
	echo       *echo.Echo
	controller *Controller
	store      datastore.Interface
	settings   *conf.Settings

	inspectorToken string
	adminToken     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Chdir(t.TempDir())

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&datastore.User{},
		&datastore.Batch{},
		&datastore.BatchMetadata{},
		&datastore.Image{},
		&datastore.Prediction{},
		&datastore.ModelVersion{},
	))
	store := &testStore{datastore.DataStore{DB: db}}
	t.Cleanup(func() { _ = store.Close() })

	settings := &conf.Settings{
		Version: "test",
		WebServer: conf.WebServerSettings{
			Port: "0",
		},
		Upload: conf.UploadSettings{
			Dir:           "uploads",
			ReferencesDir: "references",
			MaxFileSize:   10 << 20,
			AllowedTypes:  []string{"image/jpeg", "image/png"},
		},
		Inference: conf.InferenceSettings{
			ModelVersion: "1.0",
		},
		Security: conf.SecuritySettings{
			SessionTTL: 1,
		},
	}

	seedUser(t, store, "inspector", "secret", "inspector")
	seedUser(t, store, "boss", "topsecret", "admin")

	pipeline := intake.New(settings, store, nil, nil)

	e := echo.New()
	controller, err := New(e, store, settings, pipeline, nil,
		log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(controller.Shutdown)

	env := &testEnv{
		echo:       e,
		controller: controller,
		store:      store,
		settings:   settings,
	}
	env.inspectorToken = env.login(t, "inspector", "secret")
	env.adminToken = env.login(t, "boss", "topsecret")
	return env
}

func seedUser(t *testing.T, store datastore.Interface, username, password, role string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, store.CreateUser(&datastore.User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
	}))
}

func (env *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	token, _, err := env.controller.auth.Login(username, password)
	require.NoError(t, err)
	return token
}

// request performs an HTTP request against the test server and decodes
// the JSON response into out when out is non-nil.
func (env *testEnv) request(t *testing.T, method, target, token string, body io.Reader, contentType string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out),
			"response body: %s", rec.Body.String())
	}
	return rec
}

func (env *testEnv) jsonRequest(t *testing.T, method, target, token string, payload, out any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return env.request(t, method, target, token, body, echo.MIMEApplicationJSON, out)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// encodeJPEG returns a uniform-color JPEG for upload tests.
func encodeJPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

// multipartImage builds a multipart body with one "image" field typed
// as image/jpeg, the way browsers submit camera captures.
func multipartImage(t *testing.T, filename string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="image"; filename=%q`, filename))
	header.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func (env *testEnv) createBatch(t *testing.T, name, selectedClass string) batchResponse {
	t.Helper()
	var created batchResponse
	rec := env.jsonRequest(t, http.MethodPost, "/api/batches", env.inspectorToken,
		createBatchRequest{Name: name, SelectedGoodClass: selectedClass}, &created)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return created
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]any
	rec := env.request(t, http.MethodGet, "/api/health", "", nil, "", &body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database_status"])
	assert.Equal(t, "test", body["version"])
	assert.Contains(t, body, "uptime_seconds")
}

func TestErrorEnvelopeCarriesCorrelationID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/batches/1", env.inspectorToken, nil, "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.CorrelationID, 8)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.NotEmpty(t, resp.Message)
}

func TestStatusForErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		category errors.ErrorCategory
		want     int
	}{
		{errors.CategoryValidation, http.StatusBadRequest},
		{errors.CategoryNotFound, http.StatusNotFound},
		{errors.CategoryConflict, http.StatusConflict},
		{errors.CategoryAuth, http.StatusUnauthorized},
		{errors.CategoryTimeout, http.StatusGatewayTimeout},
		{errors.CategoryDatabase, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		err := errors.Newf("boom").Category(tc.category).Build()
		assert.Equal(t, tc.want, statusForError(err), "category %s", tc.category)
	}
}

func TestGenerateCorrelationIDShape(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := generateCorrelationID()
		require.Len(t, id, 8)
		seen[id] = true
	}
	// 50 draws from a 36^8 space colliding down to a handful would mean
	// the generator is broken.
	assert.Greater(t, len(seen), 45)
}
