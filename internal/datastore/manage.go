package datastore

import (
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/conescan/conescan-go/internal/errors"
)

// CreateUser inserts a new operator account.
func (ds *DataStore) CreateUser(user *User) error {
	if err := ds.DB.Create(user).Error; err != nil {
		return newError(err, "create_user").
			Context("username", user.Username).
			Build()
	}
	return nil
}

// GetUser looks up an account by its primary key.
func (ds *DataStore) GetUser(id uint) (*User, error) {
	var user User
	err := ds.DB.First(&user, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Newf("user %d not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	if err != nil {
		return nil, newError(err, "get_user").Build()
	}
	return &user, nil
}

// GetUserByUsername looks up an account for login. Returns a not-found
// categorized error when the username is unknown.
func (ds *DataStore) GetUserByUsername(username string) (*User, error) {
	var user User
	err := ds.DB.Where("username = ?", username).First(&user).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Newf("user %q not found", username).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	if err != nil {
		return nil, newError(err, "get_user").Build()
	}
	return &user, nil
}

// CreateBatch inserts a new batch in the uploading state.
func (ds *DataStore) CreateBatch(batch *Batch) error {
	if batch.Status == "" {
		batch.Status = BatchStatusUploading
	}
	if err := ds.DB.Create(batch).Error; err != nil {
		return newError(err, "create_batch").
			Context("name", batch.Name).
			Build()
	}
	return nil
}

// GetBatch loads a batch with its metadata rows.
func (ds *DataStore) GetBatch(id uint) (*Batch, error) {
	var batch Batch
	err := ds.DB.Preload("Metadata").First(&batch, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, batchNotFound(id)
	}
	if err != nil {
		return nil, newError(err, "get_batch").Context("batch_id", id).Build()
	}
	return &batch, nil
}

// ListBatches returns batches newest first, annotated with the owning
// username. A zero userID lists all batches.
func (ds *DataStore) ListBatches(userID uint) ([]Batch, error) {
	var batches []Batch
	q := ds.DB.Preload("Metadata").Order("created_at DESC")
	if userID != 0 {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Find(&batches).Error; err != nil {
		return nil, newError(err, "list_batches").Build()
	}

	// Resolve usernames in one pass rather than a join, the batch list
	// is small and Preload on User would drag password hashes along.
	names := map[uint]string{}
	for i := range batches {
		id := batches[i].UserID
		if id == 0 {
			continue
		}
		if name, ok := names[id]; ok {
			batches[i].Username = name
			continue
		}
		var user User
		if err := ds.DB.Select("username").First(&user, id).Error; err == nil {
			names[id] = user.Username
			batches[i].Username = user.Username
		}
	}
	return batches, nil
}

// SetBatchMetadata stores or replaces one key for a batch.
func (ds *DataStore) SetBatchMetadata(batchID uint, key, value string) error {
	row := BatchMetadata{BatchID: batchID, Key: key, Value: value}
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "batch_id"}, {Name: "meta_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return newError(err, "set_batch_metadata").
			Context("batch_id", batchID).
			Context("key", key).
			Build()
	}
	return nil
}

// GetBatchMetadata returns the stored value for a key, or an empty string
// when the key has never been set.
func (ds *DataStore) GetBatchMetadata(batchID uint, key string) (string, error) {
	var row BatchMetadata
	err := ds.DB.Where("batch_id = ? AND meta_key = ?", batchID, key).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", newError(err, "get_batch_metadata").
			Context("batch_id", batchID).
			Context("key", key).
			Build()
	}
	return row.Value, nil
}

// FinalizeBatch closes a batch. The transition is one way, finalizing an
// already finalized batch returns a conflict error.
func (ds *DataStore) FinalizeBatch(id uint) (*Batch, error) {
	var batch Batch
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&batch, id).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return batchNotFound(id)
			}
			return newError(err, "finalize_batch").Context("batch_id", id).Build()
		}
		if batch.Finalized() {
			return errors.Newf("batch %d is already finalized", id).
				Component("datastore").
				Category(errors.CategoryConflict).
				Build()
		}
		now := time.Now()
		batch.Status = BatchStatusFinalized
		batch.FinalizedAt = &now
		return tx.Model(&batch).
			Updates(map[string]any{"status": BatchStatusFinalized, "finalized_at": now}).Error
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// RecountBatch recomputes the denormalized counters from the images table
// inside one transaction, so the invariant total == good + reject holds
// at every commit. The first processed image moves an uploading batch to
// classified.
func (ds *DataStore) RecountBatch(batchID uint) (*Batch, error) {
	var batch Batch
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&batch, batchID).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return batchNotFound(batchID)
			}
			return newError(err, "recount_batch").Context("batch_id", batchID).Build()
		}

		type countRow struct {
			Classification string
			N              int64
		}
		var rows []countRow
		err := tx.Model(&Image{}).
			Select("classification, COUNT(*) AS n").
			Where("batch_id = ?", batchID).
			Group("classification").
			Scan(&rows).Error
		if err != nil {
			return newError(err, "recount_batch").Context("batch_id", batchID).Build()
		}

		var good, reject, total int
		for _, r := range rows {
			total += int(r.N)
			switch r.Classification {
			case ClassificationGood:
				good += int(r.N)
			case ClassificationReject:
				reject += int(r.N)
			}
		}

		updates := map[string]any{
			"total_images": total,
			"good_count":   good,
			"reject_count": reject,
		}
		if batch.Status == BatchStatusUploading && total > 0 {
			updates["status"] = BatchStatusClassified
		}
		if err := tx.Model(&batch).Updates(updates).Error; err != nil {
			return newError(err, "recount_batch").Context("batch_id", batchID).Build()
		}

		batch.TotalImages = total
		batch.GoodCount = good
		batch.RejectCount = reject
		if s, ok := updates["status"]; ok {
			batch.Status = s.(string)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// DeleteBatch removes a batch and everything attached to it.
func (ds *DataStore) DeleteBatch(id uint) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var imageIDs []uint
		if err := tx.Model(&Image{}).Where("batch_id = ?", id).Pluck("id", &imageIDs).Error; err != nil {
			return newError(err, "delete_batch").Context("batch_id", id).Build()
		}
		if len(imageIDs) > 0 {
			if err := tx.Where("image_id IN ?", imageIDs).Delete(&Prediction{}).Error; err != nil {
				return newError(err, "delete_batch").Context("batch_id", id).Build()
			}
		}
		for _, step := range []error{
			tx.Where("batch_id = ?", id).Delete(&Image{}).Error,
			tx.Where("batch_id = ?", id).Delete(&BatchMetadata{}).Error,
			tx.Delete(&Batch{}, id).Error,
		} {
			if step != nil {
				return newError(step, "delete_batch").Context("batch_id", id).Build()
			}
		}
		return nil
	})
}

// UpsertImage stores an inspected image, keyed on (batch, checksum).
// Re-submitting identical bytes to the same batch updates the existing
// row in place and keeps its id stable. Returns whether a new row was
// created.
func (ds *DataStore) UpsertImage(image *Image) (bool, error) {
	created := false
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		var existing Image
		err := tx.Where("batch_id = ? AND checksum = ?", image.BatchID, image.Checksum).
			First(&existing).Error
		switch {
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(image).Error; err != nil {
				return newError(err, "upsert_image").
					Context("batch_id", image.BatchID).
					Context("checksum", image.Checksum).
					Build()
			}
			created = true
			return nil
		case err != nil:
			return newError(err, "upsert_image").
				Context("batch_id", image.BatchID).
				Build()
		}

		image.ID = existing.ID
		image.CreatedAt = existing.CreatedAt
		updates := map[string]any{
			"filename":          image.Filename,
			"original_filename": image.OriginalFilename,
			"file_path":         image.FilePath,
			"file_size":         image.FileSize,
			"mime_type":         image.MimeType,
			"width":             image.Width,
			"height":            image.Height,
			"classification":    image.Classification,
			"confidence":        image.Confidence,
			"lab_color":         image.LabColor,
			"hex_color":         image.HexColor,
			"thumbnail":         image.Thumbnail,
		}
		if err := tx.Model(&Image{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return newError(err, "upsert_image").
				Context("image_id", existing.ID).
				Build()
		}
		return nil
	})
	return created, err
}

// UpsertPrediction stores the classifier output for an image, replacing
// any previous prediction for the same image.
func (ds *DataStore) UpsertPrediction(prediction *Prediction) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		var existing Prediction
		err := tx.Where("image_id = ?", prediction.ImageID).First(&existing).Error
		switch {
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(prediction).Error; err != nil {
				return newError(err, "upsert_prediction").
					Context("image_id", prediction.ImageID).
					Build()
			}
			return nil
		case err != nil:
			return newError(err, "upsert_prediction").
				Context("image_id", prediction.ImageID).
				Build()
		}

		prediction.ID = existing.ID
		prediction.CreatedAt = existing.CreatedAt
		updates := map[string]any{
			"model_version_id":  prediction.ModelVersionID,
			"predicted_class":   prediction.PredictedClass,
			"confidence":        prediction.Confidence,
			"method":            prediction.Method,
			"all_classes":       prediction.AllClasses,
			"inference_time_ms": prediction.InferenceTimeMs,
		}
		if err := tx.Model(&Prediction{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return newError(err, "upsert_prediction").
				Context("prediction_id", existing.ID).
				Build()
		}
		return nil
	})
}

// GetImage loads one image with its prediction.
func (ds *DataStore) GetImage(id uint) (*Image, error) {
	var image Image
	err := ds.DB.Preload("Prediction").First(&image, id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Newf("image %d not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	if err != nil {
		return nil, newError(err, "get_image").Context("image_id", id).Build()
	}
	return &image, nil
}

// ImagesForBatch returns a batch's images in upload order.
func (ds *DataStore) ImagesForBatch(batchID uint) ([]Image, error) {
	var images []Image
	err := ds.DB.Preload("Prediction").
		Where("batch_id = ?", batchID).
		Order("created_at ASC, id ASC").
		Find(&images).Error
	if err != nil {
		return nil, newError(err, "images_for_batch").Context("batch_id", batchID).Build()
	}
	return images, nil
}

// DeleteImage removes one image and its prediction. The caller is
// expected to recount the batch afterwards.
func (ds *DataStore) DeleteImage(id uint) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("image_id = ?", id).Delete(&Prediction{}).Error; err != nil {
			return newError(err, "delete_image").Context("image_id", id).Build()
		}
		result := tx.Delete(&Image{}, id)
		if result.Error != nil {
			return newError(result.Error, "delete_image").Context("image_id", id).Build()
		}
		if result.RowsAffected == 0 {
			return errors.Newf("image %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil
	})
}

// EnsureActiveModel records the classifier identity reported by the
// inference service, deactivating any previously active version.
func (ds *DataStore) EnsureActiveModel(name, version, modelType string) (*ModelVersion, error) {
	var model ModelVersion
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("name = ? AND version = ?", name, version).First(&model).Error
		switch {
		case stderrors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Model(&ModelVersion{}).Where("is_active = ?", true).
				Update("is_active", false).Error; err != nil {
				return newError(err, "ensure_model").Build()
			}
			model = ModelVersion{Name: name, Version: version, ModelType: modelType, IsActive: true}
			if err := tx.Create(&model).Error; err != nil {
				return newError(err, "ensure_model").Context("model", name).Build()
			}
			return nil
		case err != nil:
			return newError(err, "ensure_model").Build()
		}
		if !model.IsActive {
			if err := tx.Model(&ModelVersion{}).Where("is_active = ?", true).
				Update("is_active", false).Error; err != nil {
				return newError(err, "ensure_model").Build()
			}
			if err := tx.Model(&model).Update("is_active", true).Error; err != nil {
				return newError(err, "ensure_model").Build()
			}
			model.IsActive = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &model, nil
}

// ActiveModel returns the currently active classifier version, or nil
// when none has been recorded yet.
func (ds *DataStore) ActiveModel() (*ModelVersion, error) {
	var model ModelVersion
	err := ds.DB.Where("is_active = ?", true).First(&model).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, newError(err, "active_model").Build()
	}
	return &model, nil
}

// BatchReport returns the detail rows for a batch report, images joined
// with their predictions and the model version that produced them.
func (ds *DataStore) BatchReport(batchID uint) ([]ReportRow, error) {
	var rows []ReportRow
	err := ds.DB.Model(&Image{}).
		Select(`images.id AS image_id,
			images.filename,
			images.original_filename,
			images.classification,
			images.confidence,
			images.hex_color,
			images.lab_color,
			images.created_at,
			predictions.predicted_class,
			predictions.method,
			predictions.inference_time_ms,
			model_versions.name AS model_name,
			model_versions.version AS model_version`).
		Joins("LEFT JOIN predictions ON predictions.image_id = images.id").
		Joins("LEFT JOIN model_versions ON model_versions.id = predictions.model_version_id").
		Where("images.batch_id = ?", batchID).
		Order("images.created_at ASC, images.id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, newError(err, "batch_report").Context("batch_id", batchID).Build()
	}
	return rows, nil
}

// PurgeInspections deletes all inspection data while keeping user
// accounts and model versions.
func (ds *DataStore) PurgeInspections() error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		for _, step := range []error{
			tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Prediction{}).Error,
			tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Image{}).Error,
			tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&BatchMetadata{}).Error,
			tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Batch{}).Error,
		} {
			if step != nil {
				return newError(step, "purge_inspections").Build()
			}
		}
		return nil
	})
}

func batchNotFound(id uint) error {
	return errors.Newf("batch %d not found", id).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Build()
}
