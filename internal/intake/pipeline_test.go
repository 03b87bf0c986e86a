package intake

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/datastore"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/inference"
)

// stubClassifier returns a canned result or error.
type stubClassifier struct {
	result *inference.ClassifyResult
	err    error
	calls  int
}

func (s *stubClassifier) Classify(_ context.Context, _ string) (*inference.ClassifyResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// testStore satisfies datastore.Interface on a throwaway in-memory
// database that is already open.
type testStore struct {
	datastore.DataStore
}

func (s *testStore) Open() error { return nil }

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&datastore.User{},
		&datastore.Batch{},
		&datastore.BatchMetadata{},
		&datastore.Image{},
		&datastore.Prediction{},
		&datastore.ModelVersion{},
	))
	return &testStore{datastore.DataStore{DB: db}}
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Upload.Dir = t.TempDir()
	settings.Upload.MaxFileSize = 10 << 20
	settings.Upload.AllowedTypes = []string{"image/jpeg", "image/png"}
	settings.Inference.ModelVersion = "1.0"
	return settings
}

// encodeJPEG renders a uniform image so the fallback's sampled region
// has a predictable average color.
func encodeJPEG(t *testing.T, width, height int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func newRequest(batchID uint, goodClass string, data []byte) *Request {
	return &Request{
		BatchID:           batchID,
		SelectedGoodClass: goodClass,
		OriginalFilename:  "cone.jpg",
		MimeType:          "image/jpeg",
		Data:              data,
	}
}

func TestClassifyAndSaveModelPath(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	settings := testSettings(t)

	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	classifier := &stubClassifier{result: &inference.ClassifyResult{
		PredictedClass:  "green_brown",
		Confidence:      0.93,
		InferenceTimeMs: 40,
		AllClasses:      map[string]float64{"green_brown": 0.93, "beige": 0.04},
	}}

	p := New(settings, store, classifier, nil)
	result, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "green_brown", encodeJPEG(t, 320, 240, color.RGBA{90, 120, 70, 255})))
	require.NoError(t, err)

	assert.Equal(t, datastore.ClassificationGood, result.Classification)
	assert.Equal(t, "green_brown", result.PredictedClass)
	assert.Equal(t, datastore.MethodYOLO, result.Method)
	assert.InDelta(t, 0.93, result.Confidence, 1e-9)
	assert.False(t, result.Duplicate)
	assert.Equal(t, 1, classifier.calls)
	assert.True(t, len(result.Thumbnail) > len("data:image/jpeg;base64,"))

	require.NotNil(t, result.Batch)
	assert.Equal(t, 1, result.Batch.TotalImages)
	assert.Equal(t, 1, result.Batch.GoodCount)
	assert.Equal(t, 0, result.Batch.RejectCount)
	assert.Equal(t, datastore.BatchStatusClassified, result.Batch.Status)

	// The original must be on disk under the batch directory.
	stored, err := store.GetImage(result.ImageID)
	require.NoError(t, err)
	_, statErr := os.Stat(stored.FilePath)
	require.NoError(t, statErr)
	assert.Equal(t, filepath.Join(settings.Upload.Dir, "batch_1"), filepath.Dir(stored.FilePath))
	assert.Equal(t, 320, stored.Width)
	assert.Equal(t, 240, stored.Height)

	require.NotNil(t, stored.Prediction)
	assert.Equal(t, datastore.MethodYOLO, stored.Prediction.Method)
	assert.Contains(t, stored.Prediction.AllClasses, "green_brown")
	assert.NotZero(t, stored.Prediction.ModelVersionID)

	selected, err := store.GetBatchMetadata(batch.ID, datastore.MetadataKeySelectedClass)
	require.NoError(t, err)
	assert.Equal(t, "green_brown", selected)
}

func TestClassifyAndSaveMismatchIsReject(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	classifier := &stubClassifier{result: &inference.ClassifyResult{PredictedClass: "beige", Confidence: 0.88}}
	p := New(testSettings(t), store, classifier, nil)

	result, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "green_brown", encodeJPEG(t, 200, 200, color.RGBA{220, 210, 190, 255})))
	require.NoError(t, err)
	assert.Equal(t, datastore.ClassificationReject, result.Classification)
	assert.Equal(t, 1, result.Batch.RejectCount)
	assert.Equal(t, result.Batch.TotalImages, result.Batch.GoodCount+result.Batch.RejectCount)
}

func TestClassifyAndSaveFallsBackToColorimetry(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	classifier := &stubClassifier{err: errors.Newf("connection refused").
		Component("inference").
		Category(errors.CategoryNetwork).
		Build()}
	p := New(testSettings(t), store, classifier, nil)

	// A uniform near-white frame lands on the "white" class in Lab space.
	result, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "white", encodeJPEG(t, 320, 240, color.RGBA{245, 245, 245, 255})))
	require.NoError(t, err)

	assert.Equal(t, datastore.MethodClassical, result.Method)
	assert.Equal(t, "white", result.PredictedClass)
	assert.Equal(t, datastore.ClassificationGood, result.Classification)
	assert.InDelta(t, 0.85, result.Confidence, 1e-9, "fallback reports a fixed confidence")

	stored, err := store.GetImage(result.ImageID)
	require.NoError(t, err)
	require.NotNil(t, stored.Prediction)
	assert.Equal(t, datastore.MethodClassical, stored.Prediction.Method)
	assert.Zero(t, stored.Prediction.ModelVersionID, "fallback predictions carry no model version")
}

func TestClassifyAndSaveWithoutClassifierUsesFallback(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	p := New(testSettings(t), store, nil, nil)
	result, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "white", encodeJPEG(t, 100, 100, color.RGBA{250, 250, 250, 255})))
	require.NoError(t, err)
	assert.Equal(t, datastore.MethodClassical, result.Method)
}

func TestClassifyAndSaveDuplicateUpload(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	classifier := &stubClassifier{result: &inference.ClassifyResult{PredictedClass: "beige", Confidence: 0.9}}
	p := New(testSettings(t), store, classifier, nil)

	data := encodeJPEG(t, 160, 120, color.RGBA{200, 190, 170, 255})

	first, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "beige", data))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "beige", data))
	require.NoError(t, err)
	assert.True(t, second.Duplicate, "identical bytes must be detected as a re-upload")
	assert.Equal(t, first.ImageID, second.ImageID, "image id must be stable across re-uploads")

	assert.Equal(t, 1, second.Batch.TotalImages, "duplicates must not inflate counters")
	assert.Equal(t, second.Batch.TotalImages, second.Batch.GoodCount+second.Batch.RejectCount)
}

func TestClassifyAndSaveFinalizedBatch(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))
	_, err := store.FinalizeBatch(batch.ID)
	require.NoError(t, err)

	p := New(testSettings(t), store, nil, nil)
	_, err = p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "white", encodeJPEG(t, 64, 64, color.RGBA{255, 255, 255, 255})))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))
}

func TestClassifyAndSaveValidation(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	settings := testSettings(t)
	settings.Upload.MaxFileSize = 64
	p := New(settings, store, nil, nil)

	tests := []struct {
		name string
		req  *Request
	}{
		{"missing batch", newRequest(0, "white", []byte("x"))},
		{"empty body", newRequest(batch.ID, "white", nil)},
		{"oversized", newRequest(batch.ID, "white", make([]byte, 1024))},
		{"bad mime", func() *Request {
			r := newRequest(batch.ID, "white", []byte("xx"))
			r.MimeType = "application/pdf"
			return r
		}()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.ClassifyAndSave(context.Background(), tc.req)
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
		})
	}
}

func TestClassifyAndSaveUnknownBatch(t *testing.T) {
	t.Parallel()
	p := New(testSettings(t), newTestStore(t), nil, nil)
	_, err := p.ClassifyAndSave(context.Background(), newRequest(42, "white", encodeJPEG(t, 32, 32, color.RGBA{255, 255, 255, 255})))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestClassifyAndSaveRejectsGarbage(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	p := New(testSettings(t), store, nil, nil)
	_, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "white", []byte("not an image at all")))
	require.Error(t, err)
}

// failingStore fails a single persistence call while delegating
// everything else to the real datastore.
type failingStore struct {
	datastore.Interface
	upsertImageErr error
}

func (f *failingStore) UpsertImage(img *datastore.Image) (bool, error) {
	if f.upsertImageErr != nil {
		return false, f.upsertImageErr
	}
	return f.Interface.UpsertImage(img)
}

// uploadedFiles lists everything saved under the batch directories of
// the configured upload root.
func uploadedFiles(t *testing.T, settings *conf.Settings) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(settings.Upload.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestClassifyAndSaveRemovesFileWhenUpsertFails(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	settings := testSettings(t)
	failing := &failingStore{
		Interface: store,
		upsertImageErr: errors.Newf("disk full").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build(),
	}
	p := New(settings, failing, nil, nil)

	_, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "white", encodeJPEG(t, 64, 64, color.RGBA{250, 250, 250, 255})))
	require.Error(t, err)

	assert.Empty(t, uploadedFiles(t, settings),
		"a failed database write must not leave the saved original behind")
}

func TestClassifyAndSaveRemovesFileWhenThumbnailFails(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	settings := testSettings(t)
	p := New(settings, store, nil, nil)

	// Keep the headers but cut the scan short: the dimensions probe
	// succeeds, the full decode for the thumbnail does not.
	data := encodeJPEG(t, 64, 64, color.RGBA{250, 250, 250, 255})
	truncated := data[:len(data)*3/4]

	_, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "white", truncated))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryImageDecode))

	assert.Empty(t, uploadedFiles(t, settings),
		"a failed thumbnail must not leave the saved original behind")
}

func TestSelectedClassNormalization(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	batch := &datastore.Batch{Name: "line-1"}
	require.NoError(t, store.CreateBatch(batch))

	classifier := &stubClassifier{result: &inference.ClassifyResult{PredictedClass: "Green Brown", Confidence: 0.9}}
	p := New(testSettings(t), store, classifier, nil)

	result, err := p.ClassifyAndSave(context.Background(), newRequest(batch.ID, "GREEN BROWN", encodeJPEG(t, 64, 64, color.RGBA{90, 110, 60, 255})))
	require.NoError(t, err)
	assert.Equal(t, datastore.ClassificationGood, result.Classification, "class comparison is case and separator insensitive")
	assert.Equal(t, "green_brown", result.PredictedClass)
}
