package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/errors"
)

// MySQLStore implements Interface on a MySQL server.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	m := &settings.Output.MySQL
	if m.Host == "" || m.Database == "" || m.Username == "" {
		return errors.Newf("mysql host, database and username are required").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Open connects to the MySQL server and migrates the schema.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	m := &store.Settings.Output.MySQL
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		m.Username, m.Password, m.Host, m.Port, m.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		getLogger().Error("failed to open MySQL database",
			"host", m.Host,
			"port", m.Port,
			"database", m.Database,
			"error", err)
		return newError(err, "open").
			Context("db_type", "MySQL").
			Context("host", m.Host).
			Build()
	}

	store.DB = db
	connectionInfo := fmt.Sprintf("%s:%s/%s", m.Host, m.Port, m.Database)
	return performAutoMigration(db, store.Settings.Debug, "MySQL", connectionInfo)
}
