package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/conf"
)

// initAdminRoutes registers maintenance endpoints restricted to admins.
func (c *Controller) initAdminRoutes() {
	g := c.Group.Group("/admin", c.AuthMiddleware, c.AdminMiddleware)
	g.POST("/purge", c.PurgeInspections)
}

// PurgeInspections handles POST /api/admin/purge. It deletes every
// batch, image and prediction plus the uploaded files, keeping user
// accounts and model versions.
func (c *Controller) PurgeInspections(ctx echo.Context) error {
	if err := c.DS.PurgeInspections(); err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to purge inspection data")
	}

	removed := c.removeUploadDirs()

	sess := currentSession(ctx)
	c.apiLogger.Warn("inspection data purged",
		"username", sess.Username,
		"directories_removed", removed,
		"ip", ctx.RealIP())

	return ctx.JSON(http.StatusOK, map[string]any{
		"message":             "all inspection data purged",
		"directories_removed": removed,
	})
}

// removeUploadDirs deletes the batch-scoped upload directories. Rows are
// already gone, so a failed removal only leaks disk space.
func (c *Controller) removeUploadDirs() int {
	root := conf.GetBasePath(c.Settings.Upload.Dir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			c.apiLogger.Warn("failed to read upload directory", "path", root, "error", err)
		}
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "batch_") {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			c.apiLogger.Warn("failed to remove upload directory", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed
}
