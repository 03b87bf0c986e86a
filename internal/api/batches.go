package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/colorimetry"
	"github.com/conescan/conescan-go/internal/datastore"
)

// initBatchRoutes registers batch lifecycle endpoints.
func (c *Controller) initBatchRoutes() {
	g := c.Group.Group("/batches", c.AuthMiddleware)
	g.POST("", c.CreateBatch)
	g.GET("", c.ListBatches)
	g.GET("/:id", c.GetBatch)
	g.POST("/:id/select-class", c.SetSelectedClass)
	g.POST("/:id/finalize", c.FinalizeBatch)
	g.DELETE("/:id", c.DeleteBatch)
}

// createBatchRequest is the batch creation payload.
type createBatchRequest struct {
	Name              string `json:"name"`
	SelectedGoodClass string `json:"selectedGoodClass"`
}

// batchResponse is the JSON shape of a batch.
type batchResponse struct {
	ID                uint       `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	TotalImages       int        `json:"totalImages"`
	GoodCount         int        `json:"goodCount"`
	RejectCount       int        `json:"rejectCount"`
	SelectedGoodClass string     `json:"selectedGoodClass,omitempty"`
	Username          string     `json:"username,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	FinalizedAt       *time.Time `json:"finalizedAt,omitempty"`
}

func (c *Controller) batchJSON(batch *datastore.Batch) batchResponse {
	resp := batchResponse{
		ID:          batch.ID,
		Name:        batch.Name,
		Status:      batch.Status,
		TotalImages: batch.TotalImages,
		GoodCount:   batch.GoodCount,
		RejectCount: batch.RejectCount,
		Username:    batch.Username,
		CreatedAt:   batch.CreatedAt,
		FinalizedAt: batch.FinalizedAt,
	}
	if selected, err := c.DS.GetBatchMetadata(batch.ID, datastore.MetadataKeySelectedClass); err == nil {
		resp.SelectedGoodClass = selected
	}
	return resp
}

// CreateBatch handles POST /api/batches.
func (c *Controller) CreateBatch(ctx echo.Context) error {
	var req createBatchRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid batch request", http.StatusBadRequest)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Inspection " + time.Now().Format("2006-01-02 15:04:05")
	}

	batch := &datastore.Batch{Name: name}
	if sess := currentSession(ctx); sess != nil {
		batch.UserID = sess.UserID
	}
	if err := c.DS.CreateBatch(batch); err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to create batch")
	}

	if selected := colorimetry.Normalize(req.SelectedGoodClass); selected != "" {
		if err := c.DS.SetBatchMetadata(batch.ID, datastore.MetadataKeySelectedClass, selected); err != nil {
			return c.handleCategorizedError(ctx, err, "Failed to store selected class")
		}
	}

	c.apiLogger.Info("batch created", "batch_id", batch.ID, "name", batch.Name)
	return ctx.JSON(http.StatusCreated, c.batchJSON(batch))
}

// ListBatches handles GET /api/batches. Admins see every batch, other
// users only their own.
func (c *Controller) ListBatches(ctx echo.Context) error {
	var userID uint
	if sess := currentSession(ctx); sess != nil && sess.Role != "admin" {
		userID = sess.UserID
	}

	batches, err := c.DS.ListBatches(userID)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to list batches")
	}

	out := make([]batchResponse, 0, len(batches))
	for i := range batches {
		out = append(out, c.batchJSON(&batches[i]))
	}
	return ctx.JSON(http.StatusOK, out)
}

// GetBatch handles GET /api/batches/:id.
func (c *Controller) GetBatch(ctx echo.Context) error {
	id, err := batchIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid batch ID", http.StatusBadRequest)
	}
	batch, err := c.DS.GetBatch(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get batch")
	}
	return ctx.JSON(http.StatusOK, c.batchJSON(batch))
}

// selectedClassRequest updates the batch's target class.
type selectedClassRequest struct {
	SelectedGoodClass string `json:"selectedGoodClass"`
}

// SetSelectedClass handles POST /api/batches/:id/select-class.
func (c *Controller) SetSelectedClass(ctx echo.Context) error {
	id, err := batchIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid batch ID", http.StatusBadRequest)
	}

	var req selectedClassRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid request", http.StatusBadRequest)
	}
	selected := colorimetry.Normalize(req.SelectedGoodClass)
	if selected == "" {
		return c.HandleError(ctx, nil, "selectedGoodClass is required", http.StatusBadRequest)
	}

	batch, err := c.DS.GetBatch(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to get batch")
	}
	if batch.Finalized() {
		return c.HandleError(ctx, nil, "Batch is finalized", http.StatusConflict)
	}

	if err := c.DS.SetBatchMetadata(id, datastore.MetadataKeySelectedClass, selected); err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to store selected class")
	}
	return ctx.JSON(http.StatusOK, c.batchJSON(batch))
}

// FinalizeBatch handles POST /api/batches/:id/finalize. Finalization
// is one way; a second call returns 409.
func (c *Controller) FinalizeBatch(ctx echo.Context) error {
	id, err := batchIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid batch ID", http.StatusBadRequest)
	}

	batch, err := c.DS.FinalizeBatch(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to finalize batch")
	}

	c.apiLogger.Info("batch finalized",
		"batch_id", batch.ID,
		"total", batch.TotalImages,
		"good", batch.GoodCount,
		"reject", batch.RejectCount)
	return ctx.JSON(http.StatusOK, c.batchJSON(batch))
}

// DeleteBatch handles DELETE /api/batches/:id.
func (c *Controller) DeleteBatch(ctx echo.Context) error {
	id, err := batchIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid batch ID", http.StatusBadRequest)
	}
	if err := c.DS.DeleteBatch(id); err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to delete batch")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func batchIDParam(ctx echo.Context) (uint, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}
