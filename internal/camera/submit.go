package camera

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/httpclient"
	"github.com/conescan/conescan-go/internal/intake"
)

// Tally is the running count of submissions in one inspection sitting.
type Tally struct {
	Total  int `json:"total"`
	Good   int `json:"good"`
	Reject int `json:"reject"`
}

// Submitter ships captured crops to the inspection server. The first
// submission lazily creates a batch named after the moment inspection
// began; every accepted result feeds the in-memory tally.
type Submitter struct {
	http      *httpclient.Client
	baseURL   string
	token     string
	goodClass string

	mu      sync.Mutex
	batchID uint
	tally   Tally
}

// NewSubmitter creates a submitter for the given server. token is the
// bearer token from login, goodClass the operator-selected good class.
func NewSubmitter(client *httpclient.Client, serverURL, token, goodClass string) *Submitter {
	if client == nil {
		client = httpclient.New(nil)
	}
	return &Submitter{
		http:      client,
		baseURL:   strings.TrimRight(serverURL, "/"),
		token:     token,
		goodClass: goodClass,
	}
}

// Tally returns a copy of the running counts.
func (s *Submitter) Tally() Tally {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tally
}

// BatchID returns the batch this submitter feeds, zero before the
// first submission.
func (s *Submitter) BatchID() uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchID
}

// Submit posts one captured crop. Non-2xx responses surface the server
// error text and leave the tally untouched.
func (s *Submitter) Submit(ctx context.Context, jpegData []byte) (*intake.Result, error) {
	batchID, err := s.ensureBatch(ctx)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", fmt.Sprintf("capture_%d.jpg", time.Now().UnixMilli()))
	if err == nil {
		_, err = part.Write(jpegData)
	}
	if err == nil {
		err = writer.Close()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryCapture).
			Context("operation", "build_multipart").
			Build()
	}

	endpoint := fmt.Sprintf("%s/api/inspection/classify-and-save?batchId=%d&selectedGoodClass=%s",
		s.baseURL, batchID, url.QueryEscape(s.goodClass))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryNetwork).
			Build()
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	s.authorize(req)

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryNetwork).
			Context("operation", "submit_capture").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, serverError(resp)
	}

	var result intake.Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&result); err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryHTTP).
			Context("operation", "decode_submit_response").
			Build()
	}

	s.mu.Lock()
	s.tally.Total++
	if result.Classification == "good" {
		s.tally.Good++
	} else {
		s.tally.Reject++
	}
	s.mu.Unlock()

	return &result, nil
}

// ensureBatch creates the inspection batch on first use.
func (s *Submitter) ensureBatch(ctx context.Context) (uint, error) {
	s.mu.Lock()
	if s.batchID != 0 {
		id := s.batchID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	name := fmt.Sprintf("Inspection %s", time.Now().Format("2006-01-02 15:04:05"))
	payload := map[string]string{
		"name":              name,
		"selectedGoodClass": s.goodClass,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/batches", jsonBody(payload))
	if err != nil {
		return 0, errors.New(err).
			Component("camera").
			Category(errors.CategoryNetwork).
			Build()
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.http.Do(ctx, req)
	if err != nil {
		return 0, errors.New(err).
			Component("camera").
			Category(errors.CategoryNetwork).
			Context("operation", "create_batch").
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, serverError(resp)
	}

	var batch struct {
		ID uint `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&batch); err != nil || batch.ID == 0 {
		return 0, errors.Newf("batch creation returned no id").
			Component("camera").
			Category(errors.CategoryHTTP).
			Build()
	}

	s.mu.Lock()
	s.batchID = batch.ID
	s.mu.Unlock()
	return batch.ID, nil
}

func (s *Submitter) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func serverError(resp *http.Response) error {
	text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(text))
	if msg == "" {
		msg = resp.Status
	}
	return errors.Newf("server rejected request: %s", msg).
		Component("camera").
		Category(errors.CategoryHTTP).
		Context("status_code", resp.StatusCode).
		Build()
}

func jsonBody(v any) io.Reader {
	data, _ := json.Marshal(v)
	return bytes.NewReader(data)
}
