// Package api exposes the inspection service over HTTP: authentication,
// batch management, image intake, reporting and operational endpoints.
package api

import (
	"crypto/rand"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/inference"
	"github.com/conescan/conescan-go/internal/intake"
	"github.com/conescan/conescan-go/internal/logging"
	"github.com/conescan/conescan-go/internal/observability"
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings

	pipeline  *intake.Pipeline
	inference *inference.Client
	auth      *AuthService
	metrics   *observability.Metrics

	logger         *log.Logger
	apiLogger      *slog.Logger
	apiLevelVar    *slog.LevelVar
	apiLoggerClose func() error
	startTime      time.Time
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithAuthService overrides the authentication service, used by tests.
func WithAuthService(svc *AuthService) Option {
	return func(c *Controller) {
		c.auth = svc
	}
}

// WithInferenceClient sets the client used by the model-info endpoints.
func WithInferenceClient(client *inference.Client) Option {
	return func(c *Controller) {
		c.inference = client
	}
}

// New creates the API controller and registers all routes on e.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	pipeline *intake.Pipeline, metrics *observability.Metrics,
	logger *log.Logger, opts ...Option) (*Controller, error) {

	if logger == nil {
		logger = log.Default()
	}

	c := &Controller{
		Echo:      e,
		DS:        ds,
		Settings:  settings,
		pipeline:  pipeline,
		metrics:   metrics,
		logger:    logger,
		startTime: time.Now(),
	}

	c.apiLevelVar = new(slog.LevelVar)
	c.apiLevelVar.Set(slog.LevelInfo)
	apiLogger, closeFunc, err := logging.NewFileLogger("logs/web.log", "api", c.apiLevelVar)
	if err != nil {
		logger.Printf("Warning: failed to initialize API structured logger: %v", err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: c.apiLevelVar})
		c.apiLogger = slog.New(fbHandler).With("service", "api")
		c.apiLoggerClose = func() error { return nil }
	} else {
		c.apiLogger = apiLogger
		c.apiLoggerClose = closeFunc
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.auth == nil {
		c.auth = NewAuthService(ds, settings)
	}

	c.Group = e.Group("/api")
	c.Group.Use(middleware.Recover())
	c.Group.Use(middleware.CORS())
	c.Group.Use(c.LoggingMiddleware())

	c.initRoutes()
	return c, nil
}

// Shutdown releases controller resources.
func (c *Controller) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			c.logger.Printf("Warning: failed to close API log: %v", err)
		}
	}
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	routeInitializers := []struct {
		name string
		fn   func()
	}{
		{"auth routes", c.initAuthRoutes},
		{"batch routes", c.initBatchRoutes},
		{"inspection routes", c.initInspectionRoutes},
		{"image routes", c.initImageRoutes},
		{"report routes", c.initReportRoutes},
		{"model routes", c.initModelRoutes},
		{"reference routes", c.initReferenceRoutes},
		{"media routes", c.initMediaRoutes},
		{"admin routes", c.initAdminRoutes},
	}

	for _, initializer := range routeInitializers {
		c.Debug("Initializing %s...", initializer.name)
		initializer.fn()
	}

	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}
}

// LoggingMiddleware logs every API request through the structured logger.
func (c *Controller) LoggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)

			req := ctx.Request()
			res := ctx.Response()

			if c.metrics != nil {
				c.metrics.HTTP.RecordRequest(req.Method, ctx.Path(), res.Status, time.Since(start).Seconds())
			}

			if c.apiLogger == nil {
				return err
			}
			attrs := []slog.Attr{
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("query", req.URL.RawQuery),
				slog.Int("status", res.Status),
				slog.String("ip", ctx.RealIP()),
				slog.String("user_agent", req.UserAgent()),
				slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			}
			if err != nil {
				attrs = append(attrs, slog.Any("error", err))
			}
			c.apiLogger.LogAttrs(req.Context(), slog.LevelInfo, "API Request", attrs...)
			return err
		}
	}
}

// ErrorResponse is the standard JSON error envelope.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates a new API error response.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	var errorStr string
	if err != nil {
		errorStr = err.Error()
	} else {
		errorStr = message
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
}

// generateCorrelationID creates a random 8-character identifier for
// matching a client-reported error with the server logs.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// HandleError logs err with a correlation id and writes the JSON error
// envelope with the given status code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	c.logger.Printf("API Error [%s] from %s: %s: %v",
		errorResp.CorrelationID, ctx.RealIP(), message, err)
	if c.apiLogger != nil {
		c.apiLogger.Error("API Error",
			"correlation_id", errorResp.CorrelationID,
			"message", message,
			"error", errorResp.Error,
			"code", code,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ctx.RealIP(),
		)
	}
	return ctx.JSON(code, errorResp)
}

// handleCategorizedError maps an enhanced error's category to an HTTP
// status before writing the standard envelope.
func (c *Controller) handleCategorizedError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusForError(err))
}

func statusForError(err error) int {
	switch {
	case errors.HasCategory(err, errors.CategoryValidation),
		errors.HasCategory(err, errors.CategoryImageDecode):
		return http.StatusBadRequest
	case errors.HasCategory(err, errors.CategoryNotFound):
		return http.StatusNotFound
	case errors.HasCategory(err, errors.CategoryConflict):
		return http.StatusConflict
	case errors.HasCategory(err, errors.CategoryAuth):
		return http.StatusUnauthorized
	case errors.HasCategory(err, errors.CategoryTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Debug logs debug messages when debug mode is enabled.
func (c *Controller) Debug(format string, v ...any) {
	if c.Settings.WebServer.Debug {
		msg := fmt.Sprintf(format, v...)
		c.logger.Printf("[DEBUG] %s", msg)
		if c.apiLogger != nil {
			c.apiLogger.Debug(msg)
		}
	}
}

// HealthCheck reports service, database and inference health.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":    "healthy",
		"version":   c.Settings.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	dbStatus := "connected"
	if _, err := c.DS.ListBatches(0); err != nil {
		dbStatus = "disconnected"
		response["status"] = "degraded"
		response["database_error"] = err.Error()
	}
	response["database_status"] = dbStatus

	if c.inference != nil {
		if c.inference.Healthy(ctx.Request().Context()) {
			response["inference_status"] = "connected"
		} else {
			// The classical fallback keeps uploads working, degraded
			// but healthy.
			response["inference_status"] = "unavailable"
		}
	}

	uptime := time.Since(c.startTime)
	response["uptime"] = uptime.String()
	response["uptime_seconds"] = uptime.Seconds()

	return ctx.JSON(http.StatusOK, response)
}
