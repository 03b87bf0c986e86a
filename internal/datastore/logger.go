package datastore

import (
	"log/slog"
	"sync"

	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/logging"
)

var (
	datastoreLogger   *slog.Logger
	datastoreLevelVar = new(slog.LevelVar)
	loggerCloseFunc   func() error
	loggerOnce        sync.Once
	loggerMu          sync.RWMutex
)

const defaultLogPath = "logs/datastore.log"

// InitializeLogger sets up file logging for database operations. Safe to
// call more than once, only the first call takes effect.
func InitializeLogger(logFilePath string) error {
	var initErr error
	loggerOnce.Do(func() {
		if logFilePath == "" {
			logFilePath = defaultLogPath
		}
		datastoreLevelVar.Set(slog.LevelInfo)

		logger, closeFunc, err := logging.NewFileLogger(logFilePath, "datastore", datastoreLevelVar)
		if err != nil {
			initErr = errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("log_file", logFilePath).
				Build()
			return
		}
		loggerMu.Lock()
		datastoreLogger = logger
		loggerCloseFunc = closeFunc
		loggerMu.Unlock()
	})
	return initErr
}

// CloseLogger flushes and closes the datastore log file.
func CloseLogger() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if loggerCloseFunc != nil {
		err := loggerCloseFunc()
		loggerCloseFunc = nil
		return err
	}
	return nil
}

func getLogger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if datastoreLogger != nil {
		return datastoreLogger
	}
	return logging.ForService("datastore")
}

// newError wraps a database failure with component and operation context.
func newError(err error, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)
}
