// Package inference talks to the external YOLO classification service.
// The service exposes a small JSON API: POST /api/classify runs the
// model against an image already on shared storage, GET /api/model-info
// describes the loaded model.
package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/httpclient"
	"github.com/conescan/conescan-go/internal/logging"
)

// maxResponseBody caps how much of a service response we will read.
const maxResponseBody = 1 << 20

// ClassifyRequest is the payload for POST /api/classify.
type ClassifyRequest struct {
	ImagePath           string  `json:"image_path"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// ClassifyResult is the model output for one image.
type ClassifyResult struct {
	PredictedClass  string             `json:"predicted_class"`
	Confidence      float64            `json:"confidence"`
	InferenceTimeMs int64              `json:"inference_time_ms"`
	AllClasses      map[string]float64 `json:"all_classes"`
}

// ModelInfo describes the model loaded by the service.
type ModelInfo struct {
	Classes      []string          `json:"classes"`
	NumClasses   int               `json:"num_classes"`
	ModelType    string            `json:"model_type"`
	ClassMapping map[string]string `json:"class_mapping"`
}

// Client is a thin wrapper around the shared HTTP client with the
// service URL and timeout baked in from settings.
type Client struct {
	http      *httpclient.Client
	baseURL   string
	timeout   time.Duration
	threshold float64
	log       *slog.Logger
}

// NewClient builds a client from settings. The timeout bounds every
// call so a stalled service degrades to the classical fallback instead
// of blocking uploads.
func NewClient(settings *conf.Settings) *Client {
	timeout := time.Duration(settings.Inference.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		http:      httpclient.New(&httpclient.Config{DefaultTimeout: timeout}),
		baseURL:   strings.TrimRight(settings.Inference.ServiceURL, "/"),
		timeout:   timeout,
		threshold: settings.Inference.ConfidenceThreshold,
		log:       logging.ForService("inference"),
	}
}

// Classify asks the service to classify the image at imagePath, a path
// on storage shared with the service. The call is bounded by the
// configured timeout even when the caller's context has no deadline.
func (c *Client) Classify(ctx context.Context, imagePath string) (*ClassifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload := ClassifyRequest{
		ImagePath:           imagePath,
		ConfidenceThreshold: c.threshold,
	}

	start := time.Now()
	resp, err := c.http.Post(ctx, c.baseURL+"/api/classify", "application/json", payload)
	if err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryNetwork).
			Context("operation", "classify").
			Context("image_path", imagePath).
			Timing("request", time.Since(start)).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf("classify returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))).
			Component("inference").
			Category(errors.CategoryInference).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var result ClassifyResult
	if err := decodeJSON(resp.Body, &result); err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryInference).
			Context("operation", "decode_classify_response").
			Build()
	}
	if result.PredictedClass == "" {
		return nil, errors.Newf("classify response missing predicted_class").
			Component("inference").
			Category(errors.CategoryInference).
			Build()
	}

	c.log.Debug("classification complete",
		"class", result.PredictedClass,
		"confidence", result.Confidence,
		"inference_time_ms", result.InferenceTimeMs,
		"elapsed_ms", time.Since(start).Milliseconds())
	return &result, nil
}

// ModelInfo fetches the model description. Callers degrade gracefully
// when the service is down, so a network failure here is expected.
func (c *Client) ModelInfo(ctx context.Context) (*ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.Get(ctx, c.baseURL+"/api/model-info")
	if err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryNetwork).
			Context("operation", "model_info").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("model-info returned status %d", resp.StatusCode).
			Component("inference").
			Category(errors.CategoryInference).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var info ModelInfo
	if err := decodeJSON(resp.Body, &info); err != nil {
		return nil, errors.New(err).
			Component("inference").
			Category(errors.CategoryInference).
			Context("operation", "decode_model_info").
			Build()
	}
	return &info, nil
}

// Healthy reports whether the service currently answers model-info.
func (c *Client) Healthy(ctx context.Context) bool {
	_, err := c.ModelInfo(ctx)
	return err == nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.Close()
}

func decodeJSON(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseBody))
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshaling response: %w", err)
	}
	return nil
}
