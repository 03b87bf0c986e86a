package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/errors"
)

const testServiceURL = "http://inference.local:8000"

func newMockedClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()

	settings := &conf.Settings{}
	settings.Inference.ServiceURL = testServiceURL + "/"
	settings.Inference.Timeout = 3000
	settings.Inference.ConfidenceThreshold = 0.25

	client := NewClient(settings)
	transport := httpmock.NewMockTransport()
	client.http.SetTransport(transport)
	t.Cleanup(client.Close)
	return client, transport
}

func TestClassifySuccess(t *testing.T) {
	t.Parallel()
	client, transport := newMockedClient(t)

	transport.RegisterResponder(http.MethodPost, testServiceURL+"/api/classify",
		func(req *http.Request) (*http.Response, error) {
			var payload ClassifyRequest
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
			}
			assert.Equal(t, "uploads/170000_ab.jpg", payload.ImagePath)
			assert.InDelta(t, 0.25, payload.ConfidenceThreshold, 1e-9)

			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"predicted_class":   "green_brown",
				"confidence":        0.93,
				"inference_time_ms": 41,
				"all_classes": map[string]float64{
					"green_brown": 0.93,
					"beige":       0.05,
				},
			})
		})

	result, err := client.Classify(context.Background(), "uploads/170000_ab.jpg")
	require.NoError(t, err)
	assert.Equal(t, "green_brown", result.PredictedClass)
	assert.InDelta(t, 0.93, result.Confidence, 1e-9)
	assert.Equal(t, int64(41), result.InferenceTimeMs)
	assert.InDelta(t, 0.05, result.AllClasses["beige"], 1e-9)
}

func TestClassifyServiceError(t *testing.T) {
	t.Parallel()
	client, transport := newMockedClient(t)

	transport.RegisterResponder(http.MethodPost, testServiceURL+"/api/classify",
		httpmock.NewStringResponder(http.StatusInternalServerError, "model not loaded"))

	_, err := client.Classify(context.Background(), "uploads/x.jpg")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryInference))
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestClassifyConnectionRefused(t *testing.T) {
	t.Parallel()
	client, transport := newMockedClient(t)

	transport.RegisterNoResponder(httpmock.ConnectionFailure)

	_, err := client.Classify(context.Background(), "uploads/x.jpg")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNetwork))
}

func TestClassifyMissingPredictedClass(t *testing.T) {
	t.Parallel()
	client, transport := newMockedClient(t)

	transport.RegisterResponder(http.MethodPost, testServiceURL+"/api/classify",
		httpmock.NewStringResponder(http.StatusOK, `{"confidence": 0.5}`))

	_, err := client.Classify(context.Background(), "uploads/x.jpg")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryInference))
}

func TestClassifyTimeoutBound(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Inference.ServiceURL = testServiceURL
	settings.Inference.Timeout = 50
	client := NewClient(settings)
	t.Cleanup(client.Close)

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, testServiceURL+"/api/classify",
		func(req *http.Request) (*http.Response, error) {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(2 * time.Second):
				return httpmock.NewStringResponse(http.StatusOK, "{}"), nil
			}
		})
	client.http.SetTransport(transport)

	start := time.Now()
	_, err := client.Classify(context.Background(), "uploads/x.jpg")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "configured timeout must bound the call")
}

func TestModelInfo(t *testing.T) {
	t.Parallel()
	client, transport := newMockedClient(t)

	transport.RegisterResponder(http.MethodGet, testServiceURL+"/api/model-info",
		httpmock.NewStringResponder(http.StatusOK, `{
			"classes": ["green_brown", "beige", "white"],
			"num_classes": 3,
			"model_type": "yolov8",
			"class_mapping": {"0": "green_brown", "1": "beige", "2": "white"}
		}`))

	info, err := client.ModelInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, info.NumClasses)
	assert.Equal(t, "yolov8", info.ModelType)
	assert.Equal(t, []string{"green_brown", "beige", "white"}, info.Classes)
	assert.Equal(t, "beige", info.ClassMapping["1"])
}

func TestHealthy(t *testing.T) {
	t.Parallel()
	client, transport := newMockedClient(t)

	transport.RegisterResponder(http.MethodGet, testServiceURL+"/api/model-info",
		httpmock.NewStringResponder(http.StatusOK, `{"classes": [], "num_classes": 0}`))
	assert.True(t, client.Healthy(context.Background()))

	transport.Reset()
	transport.RegisterNoResponder(httpmock.ConnectionFailure)
	assert.False(t, client.Healthy(context.Background()))
}
