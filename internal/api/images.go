package api

import (
	"encoding/base64"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/datastore"
)

// initImageRoutes registers read and delete endpoints for stored images.
func (c *Controller) initImageRoutes() {
	g := c.Group.Group("/images", c.AuthMiddleware)
	g.GET("", c.ListImages)
	g.GET("/:id", c.GetImage)
	g.GET("/:id/thumbnail", c.GetThumbnail)
	g.DELETE("/:id", c.DeleteImage)
}

// imageResponse is the JSON shape of a stored image. The thumbnail is
// inlined as a data URL; the original is served through the media routes.
type imageResponse struct {
	ID               uint               `json:"id"`
	BatchID          uint               `json:"batchId"`
	Filename         string             `json:"filename"`
	OriginalFilename string             `json:"originalFilename"`
	Width            int                `json:"width"`
	Height           int                `json:"height"`
	FileSize         int64              `json:"fileSize"`
	Classification   string             `json:"classification"`
	Confidence       float64            `json:"confidence"`
	HexColor         string             `json:"hexColor"`
	Thumbnail        string             `json:"thumbnail,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	Prediction       *predictionSummary `json:"prediction,omitempty"`
}

type predictionSummary struct {
	PredictedClass  string `json:"predictedClass"`
	Method          string `json:"method"`
	InferenceTimeMs int64  `json:"inferenceTimeMs"`
}

func imageJSON(img *datastore.Image, includeThumbnail bool) imageResponse {
	resp := imageResponse{
		ID:               img.ID,
		BatchID:          img.BatchID,
		Filename:         img.Filename,
		OriginalFilename: img.OriginalFilename,
		Width:            img.Width,
		Height:           img.Height,
		FileSize:         img.FileSize,
		Classification:   img.Classification,
		Confidence:       img.Confidence,
		HexColor:         img.HexColor,
		CreatedAt:        img.CreatedAt,
	}
	if includeThumbnail {
		resp.Thumbnail = img.Thumbnail
	}
	if img.Prediction != nil {
		resp.Prediction = &predictionSummary{
			PredictedClass:  img.Prediction.PredictedClass,
			Method:          img.Prediction.Method,
			InferenceTimeMs: img.Prediction.InferenceTimeMs,
		}
	}
	return resp
}

// ListImages handles GET /api/images?batchId=N.
func (c *Controller) ListImages(ctx echo.Context) error {
	batchID, err := strconv.ParseUint(ctx.QueryParam("batchId"), 10, 32)
	if err != nil || batchID == 0 {
		return c.HandleError(ctx, err, "Valid batchId query parameter is required", http.StatusBadRequest)
	}

	if _, err := c.DS.GetBatch(uint(batchID)); err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get batch")
	}

	images, err := c.DS.ImagesForBatch(uint(batchID))
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to list images")
	}

	out := make([]imageResponse, 0, len(images))
	for i := range images {
		out = append(out, imageJSON(&images[i], true))
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetImage handles GET /api/images/:id.
func (c *Controller) GetImage(ctx echo.Context) error {
	id, err := imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image ID", http.StatusBadRequest)
	}
	img, err := c.DS.GetImage(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get image")
	}
	return ctx.JSON(http.StatusOK, imageJSON(img, true))
}

// GetThumbnail handles GET /api/images/:id/thumbnail. It decodes the
// stored data URL and serves the JPEG bytes directly.
func (c *Controller) GetThumbnail(ctx echo.Context) error {
	id, err := imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image ID", http.StatusBadRequest)
	}
	img, err := c.DS.GetImage(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get image")
	}
	if img.Thumbnail == "" {
		return c.HandleError(ctx, nil, "Image has no thumbnail", http.StatusNotFound)
	}

	const prefix = "data:image/jpeg;base64,"
	encoded := strings.TrimPrefix(img.Thumbnail, prefix)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return c.HandleError(ctx, err, "Stored thumbnail is corrupt", http.StatusInternalServerError)
	}
	return ctx.Blob(http.StatusOK, "image/jpeg", raw)
}

// DeleteImage handles DELETE /api/images/:id. The batch counters are
// recounted after the row goes away, and the file on disk is removed
// best effort.
func (c *Controller) DeleteImage(ctx echo.Context) error {
	id, err := imageIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid image ID", http.StatusBadRequest)
	}

	img, err := c.DS.GetImage(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get image")
	}

	batch, err := c.DS.GetBatch(img.BatchID)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get batch")
	}
	if batch.Finalized() {
		return c.HandleError(ctx, nil, "Batch is finalized", http.StatusConflict)
	}

	if err := c.DS.DeleteImage(id); err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to delete image")
	}
	if img.FilePath != "" {
		if err := os.Remove(img.FilePath); err != nil && !os.IsNotExist(err) {
			c.apiLogger.Warn("failed to remove image file", "path", img.FilePath, "error", err)
		}
	}

	updated, err := c.DS.RecountBatch(img.BatchID)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to update batch counters")
	}
	return ctx.JSON(http.StatusOK, c.batchJSON(updated))
}

func imageIDParam(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
