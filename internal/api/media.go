package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/errors"
)

var errPathTraversal = errors.Newf("path escapes the allowed directory").
	Component("api").
	Category(errors.CategoryValidation).
	Build()

// initMediaRoutes registers endpoints serving stored original images.
func (c *Controller) initMediaRoutes() {
	g := c.Group.Group("/media", c.AuthMiddleware)
	g.GET("/image/:id", c.ServeImage)
}

// ServeImage handles GET /api/media/image/:id. The stored path is
// validated against the upload root before serving so a tampered
// database row cannot expose arbitrary files.
func (c *Controller) ServeImage(ctx echo.Context) error {
	id, err := imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image ID", http.StatusBadRequest)
	}

	img, err := c.DS.GetImage(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get image")
	}
	if img.FilePath == "" {
		return c.HandleError(ctx, nil, "Image has no stored file", http.StatusNotFound)
	}

	root, err := filepath.Abs(conf.GetBasePath(c.Settings.Upload.Dir))
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve upload directory", http.StatusInternalServerError)
	}
	path, err := filepath.Abs(img.FilePath)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve image path", http.StatusInternalServerError)
	}
	if !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return c.HandleError(ctx, errPathTraversal, "Image path is outside the upload directory", http.StatusBadRequest)
	}

	if _, err := os.Stat(path); err != nil {
		return c.HandleError(ctx, err, "Image file not found on disk", http.StatusNotFound)
	}

	if img.MimeType != "" {
		ctx.Response().Header().Set(echo.HeaderContentType, img.MimeType)
	}
	return ctx.File(path)
}
