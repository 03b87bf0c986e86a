package api

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/conescan/conescan-go/internal/datastore"
)

// initReportRoutes registers the batch report and export endpoints.
func (c *Controller) initReportRoutes() {
	g := c.Group.Group("/reports", c.AuthMiddleware)
	g.GET("/batch/:id", c.BatchReport)
	g.GET("/batch/:id/export", c.ExportBatchReport)
}

// reportRow is one detail line of a batch report.
type reportRow struct {
	ImageID          uint    `json:"imageId"`
	Filename         string  `json:"filename"`
	OriginalFilename string  `json:"originalFilename"`
	Classification   string  `json:"classification"`
	PredictedClass   string  `json:"predictedClass"`
	Confidence       float64 `json:"confidence"`
	HexColor         string  `json:"hexColor"`
	Method           string  `json:"method"`
	InferenceTimeMs  int64   `json:"inferenceTimeMs"`
	ModelName        string  `json:"modelName"`
	ModelVersion     string  `json:"modelVersion"`
	CreatedAt        string  `json:"createdAt"`
}

// batchReportResponse is the JSON report for a batch.
type batchReportResponse struct {
	Batch             batchResponse `json:"batch"`
	Inspector         string        `json:"inspector"`
	SelectedGoodClass string        `json:"selectedGoodClass"`
	Rows              []reportRow   `json:"rows"`
	GeneratedAt       string        `json:"generatedAt"`
}

// reportData gathers everything both report formats need.
func (c *Controller) reportData(batchID uint) (*datastore.Batch, string, string, []datastore.ReportRow, error) {
	batch, err := c.DS.GetBatch(batchID)
	if err != nil {
		return nil, "", "", nil, err
	}

	inspector := ""
	if batch.UserID != 0 {
		if user, err := c.DS.GetUser(batch.UserID); err == nil {
			inspector = user.Username
		}
	}

	selected, err := c.DS.GetBatchMetadata(batchID, datastore.MetadataKeySelectedClass)
	if err != nil {
		return nil, "", "", nil, err
	}

	rows, err := c.DS.BatchReport(batchID)
	if err != nil {
		return nil, "", "", nil, err
	}
	return batch, inspector, selected, rows, nil
}

// BatchReport handles GET /api/reports/batch/:id.
func (c *Controller) BatchReport(ctx echo.Context) error {
	id, err := batchIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid batch ID", http.StatusBadRequest)
	}

	batch, inspector, selected, rows, err := c.reportData(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to build report")
	}

	out := make([]reportRow, 0, len(rows))
	for i := range rows {
		r := &rows[i]
		out = append(out, reportRow{
			ImageID:          r.ImageID,
			Filename:         r.Filename,
			OriginalFilename: r.OriginalFilename,
			Classification:   r.Classification,
			PredictedClass:   r.PredictedClass,
			Confidence:       r.Confidence,
			HexColor:         r.HexColor,
			Method:           r.Method,
			InferenceTimeMs:  r.InferenceTimeMs,
			ModelName:        r.ModelName,
			ModelVersion:     r.ModelVersion,
			CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		})
	}

	return ctx.JSON(http.StatusOK, batchReportResponse{
		Batch:             c.batchJSON(batch),
		Inspector:         inspector,
		SelectedGoodClass: selected,
		Rows:              out,
		GeneratedAt:       time.Now().Format(time.RFC3339),
	})
}

// ExportBatchReport handles GET /api/reports/batch/:id/export?format=csv|json.
func (c *Controller) ExportBatchReport(ctx echo.Context) error {
	id, err := batchIDParam(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "Invalid batch ID", http.StatusBadRequest)
	}

	format := strings.ToLower(ctx.QueryParam("format"))
	switch format {
	case "", "csv":
		return c.exportCSV(ctx, id)
	case "json":
		return c.BatchReport(ctx)
	default:
		return c.HandleError(ctx, nil, "Unsupported export format: "+format, http.StatusBadRequest)
	}
}

// exportCSV writes the report as a CSV attachment with a summary block
// followed by the per-image detail table.
func (c *Controller) exportCSV(ctx echo.Context, id uint) error {
	batch, inspector, selected, rows, err := c.reportData(id)
	if err != nil {
		return c.handleCategorizedError(ctx, err, "Failed to build report")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	finalized := ""
	if batch.FinalizedAt != nil {
		finalized = batch.FinalizedAt.Format("2006-01-02 15:04:05")
	}
	summary := [][]string{
		{"Batch Report"},
		{"Batch ID", fmt.Sprintf("%d", batch.ID)},
		{"Batch Name", batch.Name},
		{"Inspector", inspector},
		{"Selected Good Class", selected},
		{"Status", batch.Status},
		{"Total Images", fmt.Sprintf("%d", batch.TotalImages)},
		{"Good", fmt.Sprintf("%d", batch.GoodCount)},
		{"Reject", fmt.Sprintf("%d", batch.RejectCount)},
		{"Created", batch.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Finalized", finalized},
		{},
	}
	for _, record := range summary {
		if err := w.Write(record); err != nil {
			return c.HandleError(ctx, err, "Failed to write CSV", http.StatusInternalServerError)
		}
	}

	header := []string{
		"Filename", "Classification", "Predicted Class", "Selected Good Class",
		"Inspector", "Confidence", "Hex Color", "Timestamp", "Model", "Inference (ms)",
	}
	if err := w.Write(header); err != nil {
		return c.HandleError(ctx, err, "Failed to write CSV", http.StatusInternalServerError)
	}
	for i := range rows {
		r := &rows[i]
		model := strings.TrimSpace(r.ModelName + " " + r.ModelVersion)
		record := []string{
			r.Filename,
			strings.ToUpper(r.Classification),
			r.PredictedClass,
			selected,
			inspector,
			fmt.Sprintf("%.1f%%", r.Confidence*100),
			r.HexColor,
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			model,
			fmt.Sprintf("%d", r.InferenceTimeMs),
		}
		if err := w.Write(record); err != nil {
			return c.HandleError(ctx, err, "Failed to write CSV", http.StatusInternalServerError)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return c.HandleError(ctx, err, "Failed to write CSV", http.StatusInternalServerError)
	}

	filename := fmt.Sprintf("inspection-report-batch-%d.csv", batch.ID)
	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
