package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/inference"
	"github.com/conescan/conescan-go/internal/intake"
	"github.com/conescan/conescan-go/internal/observability"
)

// Server wraps the echo instance with the controller and its lifecycle.
type Server struct {
	Echo       *echo.Echo
	Controller *Controller
	Settings   *conf.Settings
	logger     *log.Logger
}

// NewServer builds the HTTP server with all middleware and routes wired.
func NewServer(settings *conf.Settings, ds datastore.Interface,
	pipeline *intake.Pipeline, inferenceClient *inference.Client,
	metrics *observability.Metrics, logger *log.Logger) (*Server, error) {

	if logger == nil {
		logger = log.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = echo.ExtractIPFromXFFHeader()
	e.Use(middleware.BodyLimit("32M"))

	controller, err := New(e, ds, settings, pipeline, metrics, logger,
		WithInferenceClient(inferenceClient))
	if err != nil {
		return nil, err
	}

	return &Server{
		Echo:       e,
		Controller: controller,
		Settings:   settings,
		logger:     logger,
	}, nil
}

// Start begins listening on the configured port. It blocks until the
// server stops.
func (s *Server) Start() error {
	addr := ":" + s.Settings.WebServer.Port
	s.logger.Printf("Starting HTTP server on %s", addr)
	if err := s.Echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := s.Echo.Shutdown(shutdownCtx)
	s.Controller.Shutdown()
	return err
}
