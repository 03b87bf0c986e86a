// Package intake implements the classify-and-save pipeline: one uploaded
// image goes in, a persisted, classified image with refreshed batch
// counters comes out.
package intake

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conescan/conescan-go/internal/colorimetry"
	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/imaging"
	"github.com/conescan/conescan-go/internal/inference"
	"github.com/conescan/conescan-go/internal/logging"
	"github.com/conescan/conescan-go/internal/observability"
)

// classicalConfidence is the fixed confidence reported by the
// colorimetric fallback. The fallback has no probabilistic output, the
// value signals "confident enough to act on" without overstating it.
const classicalConfidence = 0.85

// Classifier is the model-backed classification dependency. Satisfied
// by inference.Client.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (*inference.ClassifyResult, error)
}

// Request is one image submission to the pipeline.
type Request struct {
	BatchID           uint
	SelectedGoodClass string
	OriginalFilename  string
	MimeType          string
	Data              []byte
}

// Result is what the pipeline hands back to the HTTP layer.
type Result struct {
	ImageID         uint               `json:"imageId"`
	Filename        string             `json:"filename"`
	Classification  string             `json:"classification"`
	PredictedClass  string             `json:"predictedClass"`
	Confidence      float64            `json:"confidence"`
	Method          string             `json:"method"`
	HexColor        string             `json:"hexColor"`
	Duplicate       bool               `json:"duplicate"`
	InferenceTimeMs int64              `json:"inferenceTimeMs"`
	AllClasses      map[string]float64 `json:"allClasses,omitempty"`
	Thumbnail       string             `json:"thumbnail"`

	Batch *datastore.Batch `json:"batch"`
}

// Pipeline wires storage, the classifier and the fallback together.
type Pipeline struct {
	settings   *conf.Settings
	store      datastore.Interface
	classifier Classifier
	metrics    *observability.Metrics
	log        *slog.Logger
}

// New builds a pipeline. metrics may be nil in tests.
func New(settings *conf.Settings, store datastore.Interface, classifier Classifier, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		settings:   settings,
		store:      store,
		classifier: classifier,
		metrics:    metrics,
		log:        logging.ForService("intake"),
	}
}

// ClassifyAndSave runs the full pipeline for one uploaded image:
// validation, file persistence, classification with colorimetric
// fallback, deduplicated storage and a batch recount. A re-upload of
// identical bytes to the same batch updates the stored image in place
// and never inflates the counters.
func (p *Pipeline) ClassifyAndSave(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if err := p.validate(req); err != nil {
		p.recordUpload("rejected")
		return nil, err
	}

	batch, err := p.store.GetBatch(req.BatchID)
	if err != nil {
		p.recordUpload("rejected")
		return nil, err
	}
	if batch.Finalized() {
		p.recordUpload("rejected")
		return nil, errors.Newf("batch %d is finalized and no longer accepts uploads", batch.ID).
			Component("intake").
			Category(errors.CategoryConflict).
			Build()
	}

	checksum := sha256.Sum256(req.Data)
	checksumHex := hex.EncodeToString(checksum[:])

	dims, format, err := imaging.Probe(req.Data)
	if err != nil {
		p.recordUpload("rejected")
		return nil, err
	}

	filePath, filename, err := p.saveOriginal(req, format)
	if err != nil {
		p.recordUpload("error")
		return nil, err
	}

	thumbnail, err := imaging.ThumbnailBase64(req.Data)
	if err != nil {
		p.removeOrphan(filePath)
		p.recordUpload("error")
		return nil, err
	}

	outcome := p.classify(ctx, filePath, req.Data, dims)

	classification := datastore.ClassificationReject
	if outcome.class == normalizeClass(req.SelectedGoodClass) {
		classification = datastore.ClassificationGood
	}

	labJSON, _ := json.Marshal(outcome.lab)
	image := &datastore.Image{
		BatchID:          batch.ID,
		Checksum:         checksumHex,
		Filename:         filename,
		OriginalFilename: req.OriginalFilename,
		FilePath:         filePath,
		FileSize:         int64(len(req.Data)),
		MimeType:         req.MimeType,
		Width:            dims.Width,
		Height:           dims.Height,
		Classification:   classification,
		Confidence:       outcome.confidence,
		LabColor:         string(labJSON),
		HexColor:         colorimetry.LabToHex(outcome.lab),
		Thumbnail:        thumbnail,
	}

	created, err := p.store.UpsertImage(image)
	if err != nil {
		p.removeOrphan(filePath)
		p.recordUpload("error")
		return nil, err
	}
	if !created && p.metrics != nil {
		p.metrics.Intake.RecordDuplicate()
	}

	prediction := &datastore.Prediction{
		ImageID:         image.ID,
		PredictedClass:  outcome.class,
		Confidence:      outcome.confidence,
		Method:          outcome.method,
		AllClasses:      outcome.allClassesJSON(),
		InferenceTimeMs: outcome.inferenceTimeMs,
	}
	if model := p.activeModel(outcome.method); model != nil {
		prediction.ModelVersionID = model.ID
	}
	if err := p.store.UpsertPrediction(prediction); err != nil {
		p.recordUpload("error")
		return nil, err
	}

	if req.SelectedGoodClass != "" {
		if err := p.store.SetBatchMetadata(batch.ID, datastore.MetadataKeySelectedClass,
			normalizeClass(req.SelectedGoodClass)); err != nil {
			p.recordUpload("error")
			return nil, err
		}
	}

	recounted, err := p.store.RecountBatch(batch.ID)
	if err != nil {
		p.recordUpload("error")
		return nil, err
	}

	p.recordUpload("accepted")
	if p.metrics != nil {
		p.metrics.Intake.RecordClassification(outcome.method, classification)
		p.metrics.Intake.RecordPipelineDuration(outcome.method, time.Since(start).Seconds())
		p.metrics.Intake.RecordUploadSize(float64(len(req.Data)))
	}

	p.log.Info("image processed",
		"batch_id", batch.ID,
		"image_id", image.ID,
		"classification", classification,
		"predicted_class", outcome.class,
		"method", outcome.method,
		"duplicate", !created,
		"elapsed_ms", time.Since(start).Milliseconds())

	return &Result{
		ImageID:         image.ID,
		Filename:        filename,
		Classification:  classification,
		PredictedClass:  outcome.class,
		Confidence:      outcome.confidence,
		Method:          outcome.method,
		HexColor:        image.HexColor,
		Duplicate:       !created,
		InferenceTimeMs: outcome.inferenceTimeMs,
		AllClasses:      outcome.allClasses,
		Thumbnail:       "data:image/jpeg;base64," + thumbnail,
		Batch:           recounted,
	}, nil
}

func (p *Pipeline) validate(req *Request) error {
	if req.BatchID == 0 {
		return validationError("batchId is required")
	}
	if strings.TrimSpace(req.SelectedGoodClass) == "" {
		return validationError("selectedGoodClass is required")
	}
	if len(req.Data) == 0 {
		return validationError("empty upload")
	}
	if max := p.settings.Upload.MaxFileSize; max > 0 && int64(len(req.Data)) > max {
		return errors.Newf("upload of %d bytes exceeds the %d byte limit", len(req.Data), max).
			Component("intake").
			Category(errors.CategoryValidation).
			Context("file_size", len(req.Data)).
			Build()
	}
	if !p.mimeAllowed(req.MimeType) {
		return errors.Newf("unsupported content type %q", req.MimeType).
			Component("intake").
			Category(errors.CategoryValidation).
			Context("mime_type", req.MimeType).
			Build()
	}
	return nil
}

func (p *Pipeline) mimeAllowed(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	for _, allowed := range p.settings.Upload.AllowedTypes {
		allowed = strings.ToLower(allowed)
		if allowed == mimeType {
			return true
		}
		if suffix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mimeType, suffix+"/") {
			return true
		}
	}
	return false
}

// saveOriginal writes the upload under the batch directory with a
// collision-resistant name of the form <unixmillis>_<16 hex chars><ext>.
func (p *Pipeline) saveOriginal(req *Request, format string) (path, filename string, err error) {
	dir := filepath.Join(conf.GetBasePath(p.settings.Upload.Dir), fmt.Sprintf("batch_%d", req.BatchID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", errors.New(err).
			Component("intake").
			Category(errors.CategoryFileIO).
			Context("directory", dir).
			Build()
	}

	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", "", errors.New(err).
			Component("intake").
			Category(errors.CategoryFileIO).
			Context("operation", "generate_filename").
			Build()
	}

	filename = fmt.Sprintf("%d_%s%s", time.Now().UnixMilli(), hex.EncodeToString(nonce[:]), extensionFor(req, format))
	path = filepath.Join(dir, filename)

	if err := os.WriteFile(path, req.Data, 0o644); err != nil {
		return "", "", errors.New(err).
			Component("intake").
			Category(errors.CategoryFileIO).
			FileContext(path, int64(len(req.Data))).
			Build()
	}
	return path, filename, nil
}

func extensionFor(req *Request, format string) string {
	if ext := filepath.Ext(req.OriginalFilename); ext != "" {
		return strings.ToLower(ext)
	}
	if exts, err := mime.ExtensionsByType(req.MimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if format != "" {
		return "." + format
	}
	return ".jpg"
}

// removeOrphan deletes a saved original whose database row never
// materialized, keeping the uploads directory consistent with the
// datastore.
func (p *Pipeline) removeOrphan(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("failed to remove orphaned upload", "path", path, "error", err)
	}
}

// classifyOutcome is the normalized result of either the model path or
// the colorimetric fallback.
type classifyOutcome struct {
	class           string
	confidence      float64
	method          string
	lab             colorimetry.Lab
	allClasses      map[string]float64
	inferenceTimeMs int64
}

func (o *classifyOutcome) allClassesJSON() string {
	if len(o.allClasses) == 0 {
		return ""
	}
	data, err := json.Marshal(o.allClasses)
	if err != nil {
		return ""
	}
	return string(data)
}

// classify tries the model service first and silently degrades to the
// colorimetric fallback. The fallback never fails: an undecodable image
// was already rejected by Probe.
func (p *Pipeline) classify(ctx context.Context, filePath string, data []byte, dims imaging.Dimensions) classifyOutcome {
	if p.classifier != nil {
		start := time.Now()
		result, err := p.classifier.Classify(ctx, filePath)
		elapsed := time.Since(start)
		if err == nil {
			if p.metrics != nil {
				p.metrics.Inference.RecordRequest("success", elapsed.Seconds())
			}
			return classifyOutcome{
				class:           normalizeClass(result.PredictedClass),
				confidence:      result.Confidence,
				method:          datastore.MethodYOLO,
				lab:             colorimetry.ClassLab(result.PredictedClass),
				allClasses:      result.AllClasses,
				inferenceTimeMs: result.InferenceTimeMs,
			}
		}

		reason := "error"
		if errors.HasCategory(err, errors.CategoryNetwork) {
			reason = "unavailable"
		}
		if p.metrics != nil {
			p.metrics.Inference.RecordRequest("error", elapsed.Seconds())
			p.metrics.Inference.RecordFallback(reason)
		}
		p.log.Warn("model classification failed, using colorimetric fallback",
			"reason", reason, "error", err)
	}

	return p.classicalFallback(data, dims)
}

// classicalFallback samples the fixed tip region, converts the average
// color to CIELAB and picks the nearest known class.
func (p *Pipeline) classicalFallback(data []byte, dims imaging.Dimensions) classifyOutcome {
	outcome := classifyOutcome{
		method:     datastore.MethodClassical,
		confidence: classicalConfidence,
	}

	img, err := imaging.Decode(data)
	if err != nil {
		// Probe succeeded with a truncated body, classify by nothing
		// rather than failing the whole upload.
		outcome.class = "unknown"
		outcome.lab = colorimetry.ClassLab("unknown")
		return outcome
	}

	r, g, b := colorimetry.AverageRegion(img, colorimetry.TipRegion(dims.Width, dims.Height))
	measured := colorimetry.RGBToLab(r, g, b)
	class, distance := colorimetry.NearestClass(measured)

	outcome.class = class
	outcome.lab = measured
	outcome.allClasses = map[string]float64{class: classicalConfidence}
	p.log.Debug("classical fallback classification",
		"class", class, "delta_e", distance, "lab_l", measured.L)
	return outcome
}

// activeModel resolves the model version row for predictions, creating
// it lazily from settings on the model path.
func (p *Pipeline) activeModel(method string) *datastore.ModelVersion {
	if method != datastore.MethodYOLO {
		return nil
	}
	version := p.settings.Inference.ModelVersion
	if version == "" {
		version = "unknown"
	}
	model, err := p.store.EnsureActiveModel("cone-yolo", version, "yolov8")
	if err != nil {
		p.log.Warn("failed to record model version", "error", err)
		return nil
	}
	return model
}

func (p *Pipeline) recordUpload(status string) {
	if p.metrics != nil {
		p.metrics.Intake.RecordUpload(status)
	}
}

func normalizeClass(class string) string {
	return colorimetry.Normalize(class)
}

func validationError(msg string) error {
	return errors.Newf("%s", msg).
		Component("intake").
		Category(errors.CategoryValidation).
		Build()
}
