package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/colorimetry"
)

// initModelRoutes registers the model information endpoints.
func (c *Controller) initModelRoutes() {
	g := c.Group.Group("/model", c.AuthMiddleware)
	g.GET("/classes", c.ModelClasses)
	g.GET("/info", c.ModelInfo)
}

// modelClassesResponse lists the class labels the classifier produces.
type modelClassesResponse struct {
	Classes []string `json:"classes"`
	Source  string   `json:"source"`
}

// ModelClasses handles GET /api/model/classes. The class list comes
// from the inference service when it is reachable and from the built-in
// colorimetric class table otherwise, so operators can always pick a
// target class.
func (c *Controller) ModelClasses(ctx echo.Context) error {
	if c.inference != nil {
		if info, err := c.inference.ModelInfo(ctx.Request().Context()); err == nil {
			return ctx.JSON(http.StatusOK, modelClassesResponse{
				Classes: info.Classes,
				Source:  "model",
			})
		} else {
			c.apiLogger.Warn("model info unavailable, serving built-in classes", "error", err)
			if c.metrics != nil {
				c.metrics.Inference.RecordModelInfoFailure()
			}
		}
	}
	return ctx.JSON(http.StatusOK, modelClassesResponse{
		Classes: colorimetry.Classes(),
		Source:  "builtin",
	})
}

// ModelInfo handles GET /api/model/info, proxying the inference service.
func (c *Controller) ModelInfo(ctx echo.Context) error {
	if c.inference == nil {
		return c.HandleError(ctx, nil, "Inference service is not configured", http.StatusServiceUnavailable)
	}
	info, err := c.inference.ModelInfo(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Inference service is unreachable", http.StatusBadGateway)
	}
	return ctx.JSON(http.StatusOK, info)
}
