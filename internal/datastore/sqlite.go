package datastore

import (
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/errors"
)

// SQLiteStore implements Interface on a local SQLite file.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open creates the database file if needed and migrates the schema.
func (store *SQLiteStore) Open() error {
	if store.Settings.Output.SQLite.Path == "" {
		return errors.Newf("sqlite path is empty").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	dir, fileName := filepath.Split(store.Settings.Output.SQLite.Path)
	basePath := conf.GetBasePath(dir)
	absoluteFilePath := filepath.Join(basePath, fileName)

	db, err := gorm.Open(sqlite.Open(absoluteFilePath), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return newError(err, "open").
			Context("db_type", "SQLite").
			Context("path", absoluteFilePath).
			Build()
	}

	// SQLite serializes writes; a single connection avoids busy errors
	// under concurrent uploads.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys = ON")

	store.DB = db
	return performAutoMigration(db, store.Settings.Debug, "SQLite", absoluteFilePath)
}
