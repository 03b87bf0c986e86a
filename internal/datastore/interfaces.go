// Package datastore persists inspection batches, images and predictions
// behind a backend-neutral interface.
package datastore

import (
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/conescan/conescan-go/internal/conf"
)

// slowQueryThreshold marks queries worth logging at warn level.
const slowQueryThreshold = time.Second

// Interface is the storage contract used by the HTTP layer and the
// intake pipeline.
type Interface interface {
	Open() error
	Close() error

	// Users
	CreateUser(user *User) error
	GetUser(id uint) (*User, error)
	GetUserByUsername(username string) (*User, error)

	// Batches
	CreateBatch(batch *Batch) error
	GetBatch(id uint) (*Batch, error)
	ListBatches(userID uint) ([]Batch, error)
	SetBatchMetadata(batchID uint, key, value string) error
	GetBatchMetadata(batchID uint, key string) (string, error)
	FinalizeBatch(id uint) (*Batch, error)
	RecountBatch(batchID uint) (*Batch, error)
	DeleteBatch(id uint) error

	// Images and predictions
	UpsertImage(image *Image) (created bool, err error)
	UpsertPrediction(prediction *Prediction) error
	GetImage(id uint) (*Image, error)
	ImagesForBatch(batchID uint) ([]Image, error)
	DeleteImage(id uint) error

	// Models and reporting
	EnsureActiveModel(name, version, modelType string) (*ModelVersion, error)
	ActiveModel() (*ModelVersion, error)
	BatchReport(batchID uint) ([]ReportRow, error)

	// Maintenance
	PurgeInspections() error
}

// DataStore carries the shared GORM handle embedded by the concrete
// backend stores.
type DataStore struct {
	DB *gorm.DB
}

// New selects the backend store from settings. Exactly one backend must
// be enabled; conf validation guarantees this before we get here.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}
	default:
		return &SQLiteStore{Settings: settings}
	}
}

// Close releases the underlying database connection.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func createGormLogger() gormlogger.Interface {
	level := gormlogger.Warn
	if conf.Setting().Debug {
		level = gormlogger.Info
	}
	return gormlogger.Default.LogMode(level)
}

// performAutoMigration creates or updates the schema for all entities.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&User{},
		&Batch{},
		&BatchMetadata{},
		&Image{},
		&Prediction{},
		&ModelVersion{},
	); err != nil {
		return newError(err, "auto_migration").
			Context("db_type", dbType).
			Build()
	}
	if debug {
		getLogger().Debug("schema migration complete",
			"db_type", dbType,
			"connection", connectionInfo)
	}
	return nil
}
