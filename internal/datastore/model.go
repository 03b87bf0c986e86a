package datastore

import "time"

// Batch lifecycle states. A batch is created as uploading, moves to
// classified once at least one image has been processed, and becomes
// finalized when the operator closes it. Finalized is terminal.
const (
	BatchStatusUploading  = "uploading"
	BatchStatusClassified = "classified"
	BatchStatusFinalized  = "finalized"
)

// Image classification outcomes.
const (
	ClassificationGood   = "good"
	ClassificationReject = "reject"
)

// Prediction methods.
const (
	MethodYOLO      = "yolo"
	MethodClassical = "classical"
)

// User is an operator account. Passwords are stored as bcrypt hashes.
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"size:80;not null"`
	Role         string `gorm:"size:20;default:inspector"`
	CreatedAt    time.Time
}

// Batch is one inspection run of cone tips. Counter columns are
// denormalized from the images table and refreshed by RecountBatch.
type Batch struct {
	ID          uint   `gorm:"primaryKey"`
	Name        string `gorm:"size:128"`
	UserID      uint   `gorm:"index"`
	Status      string `gorm:"size:20;index;default:uploading"`
	TotalImages int    `gorm:"default:0"`
	GoodCount   int    `gorm:"default:0"`
	RejectCount int    `gorm:"default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time

	Metadata []BatchMetadata `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE"`
	Images   []Image         `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE" json:"-"`

	// Username is filled from a join when listing batches, it is not a column.
	Username string `gorm:"-"`
}

// Finalized reports whether the batch has been closed by an operator.
func (b *Batch) Finalized() bool {
	return b.Status == BatchStatusFinalized
}

// BatchMetadata is a free-form key/value annotation on a batch, for
// example the operator-selected good class. One value per key per batch.
type BatchMetadata struct {
	ID      uint   `gorm:"primaryKey"`
	BatchID uint   `gorm:"uniqueIndex:idx_batch_metadata_key;not null"`
	Key     string `gorm:"column:meta_key;uniqueIndex:idx_batch_metadata_key;size:64;not null"`
	Value   string `gorm:"type:text"`
}

// MetadataKeySelectedClass stores the good class the operator picked
// for a batch.
const MetadataKeySelectedClass = "selected_good_class"

// Image is one inspected cone tip photo. The checksum is unique within a
// batch so re-submitting identical bytes updates the existing row instead
// of creating a duplicate.
type Image struct {
	ID               uint   `gorm:"primaryKey"`
	BatchID          uint   `gorm:"index;uniqueIndex:idx_images_batch_checksum;not null"`
	Checksum         string `gorm:"uniqueIndex:idx_images_batch_checksum;size:64;not null"`
	Filename         string `gorm:"size:255"`
	OriginalFilename string `gorm:"size:255"`
	FilePath         string `gorm:"size:512"`
	FileSize         int64
	MimeType         string `gorm:"size:64"`
	Width            int
	Height           int
	Classification   string  `gorm:"size:10;index"`
	Confidence       float64 `gorm:"default:0"`
	LabColor         string  `gorm:"type:text"`
	HexColor         string  `gorm:"size:7"`
	Thumbnail        string  `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	Prediction *Prediction `gorm:"foreignKey:ImageID;constraint:OnDelete:CASCADE"`
}

// Prediction is the classifier output for an image. Exactly one row per
// image, replaced in place when the image is re-submitted.
type Prediction struct {
	ID              uint   `gorm:"primaryKey"`
	ImageID         uint   `gorm:"uniqueIndex;not null"`
	ModelVersionID  uint   `gorm:"index"`
	PredictedClass  string `gorm:"size:64"`
	Confidence      float64
	Method          string `gorm:"size:16"`
	AllClasses      string `gorm:"type:text"`
	InferenceTimeMs int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ModelVersion records which classifier produced predictions. At most one
// row is active at a time.
type ModelVersion struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:64"`
	Version   string `gorm:"size:32"`
	ModelType string `gorm:"size:32"`
	IsActive  bool   `gorm:"index"`
	CreatedAt time.Time
}

// ReportRow is one line of the detail section of a batch report, an image
// joined with its prediction and model version.
type ReportRow struct {
	ImageID          uint      `gorm:"column:image_id"`
	Filename         string    `gorm:"column:filename"`
	OriginalFilename string    `gorm:"column:original_filename"`
	Classification   string    `gorm:"column:classification"`
	Confidence       float64   `gorm:"column:confidence"`
	HexColor         string    `gorm:"column:hex_color"`
	LabColor         string    `gorm:"column:lab_color"`
	CreatedAt        time.Time `gorm:"column:created_at"`
	PredictedClass   string    `gorm:"column:predicted_class"`
	Method           string    `gorm:"column:method"`
	InferenceTimeMs  int64     `gorm:"column:inference_time_ms"`
	ModelName        string    `gorm:"column:model_name"`
	ModelVersion     string    `gorm:"column:model_version"`
}
