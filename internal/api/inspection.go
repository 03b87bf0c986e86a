package api

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/intake"
)

// initInspectionRoutes registers the image intake endpoints.
func (c *Controller) initInspectionRoutes() {
	g := c.Group.Group("/inspection", c.AuthMiddleware)
	g.POST("/classify-and-save", c.ClassifyAndSave)
}

// ClassifyAndSave handles POST /api/inspection/classify-and-save. It
// accepts one multipart image, runs the classification pipeline and
// returns the stored image with refreshed batch counters.
func (c *Controller) ClassifyAndSave(ctx echo.Context) error {
	batchID, err := strconv.ParseUint(ctx.QueryParam("batchId"), 10, 32)
	if err != nil || batchID == 0 {
		return c.HandleError(ctx, err, "Valid batchId query parameter is required", http.StatusBadRequest)
	}
	selectedGoodClass := ctx.QueryParam("selectedGoodClass")

	fileHeader, err := ctx.FormFile("image")
	if err != nil {
		return c.HandleError(ctx, err, "Multipart field 'image' is required", http.StatusBadRequest)
	}

	maxSize := c.Settings.Upload.MaxFileSize
	if maxSize > 0 && fileHeader.Size > maxSize {
		return c.HandleError(ctx, nil, "Image exceeds the maximum upload size", http.StatusRequestEntityTooLarge)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read uploaded image", http.StatusBadRequest)
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read uploaded image", http.StatusBadRequest)
	}

	// The select-class endpoint can set the target up front; falling
	// back to stored batch metadata keeps the query parameter optional
	// for clients that set it once per batch.
	if selectedGoodClass == "" {
		if stored, err := c.DS.GetBatchMetadata(uint(batchID), datastore.MetadataKeySelectedClass); err == nil {
			selectedGoodClass = stored
		}
	}

	result, err := c.pipeline.ClassifyAndSave(ctx.Request().Context(), &intake.Request{
		BatchID:           uint(batchID),
		SelectedGoodClass: selectedGoodClass,
		OriginalFilename:  fileHeader.Filename,
		MimeType:          fileHeader.Header.Get("Content-Type"),
		Data:              data,
	})
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Classification failed")
	}

	return ctx.JSON(http.StatusOK, result)
}
