package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/conf"
)

// initReferenceRoutes registers the reference image endpoints. Reference
// images are example photos per class that operators compare against.
func (c *Controller) initReferenceRoutes() {
	g := c.Group.Group("/references", c.AuthMiddleware)
	g.GET("/list", c.ListReferences)
	g.GET("/image/:class/:filename", c.ReferenceImage)
}

// referenceExtensions are the file types served from the reference tree.
var referenceExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ListReferences handles GET /api/references/list. The tree has one
// directory per class label with image files inside; anything else is
// skipped.
func (c *Controller) ListReferences(ctx echo.Context) error {
	root := conf.GetBasePath(c.Settings.Upload.ReferencesDir)

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return ctx.JSON(http.StatusOK, map[string][]string{})
		}
		return c.HandleError(ctx, err, "Failed to read reference directory", http.StatusInternalServerError)
	}

	out := make(map[string][]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		class := entry.Name()
		files, err := os.ReadDir(filepath.Join(root, class))
		if err != nil {
			c.apiLogger.Warn("failed to read reference class directory", "class", class, "error", err)
			continue
		}
		names := make([]string, 0, len(files))
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if referenceExtensions[strings.ToLower(filepath.Ext(f.Name()))] {
				names = append(names, f.Name())
			}
		}
		sort.Strings(names)
		out[class] = names
	}
	return ctx.JSON(http.StatusOK, out)
}

// ReferenceImage handles GET /api/references/image/:class/:filename.
func (c *Controller) ReferenceImage(ctx echo.Context) error {
	class := ctx.Param("class")
	filename := ctx.Param("filename")

	root := conf.GetBasePath(c.Settings.Upload.ReferencesDir)
	path, err := securePath(root, class, filename)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid reference path", http.StatusBadRequest)
	}
	if !referenceExtensions[strings.ToLower(filepath.Ext(path))] {
		return c.HandleError(ctx, nil, "Unsupported reference file type", http.StatusBadRequest)
	}
	if _, err := os.Stat(path); err != nil {
		return c.HandleError(ctx, err, "Reference image not found", http.StatusNotFound)
	}
	return ctx.File(path)
}

// securePath joins untrusted path segments under root and rejects any
// result that escapes it.
func securePath(root string, segments ...string) (string, error) {
	for _, seg := range segments {
		if seg == "" || strings.ContainsAny(seg, `/\`) || strings.Contains(seg, "..") {
			return "", errPathTraversal
		}
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(append([]string{absRoot}, segments...)...)
	if joined != absRoot && !strings.HasPrefix(joined, absRoot+string(filepath.Separator)) {
		return "", errPathTraversal
	}
	return joined, nil
}
