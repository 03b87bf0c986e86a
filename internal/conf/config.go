// config.go: settings struct for the ConeScan service and functions to load and save them.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // path to log file
	Rotation    RotationType // rotation type
	MaxSize     int64        // max size in bytes for RotationSize
	RotationDay string       // day of the week for RotationWeekly
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// MainSettings contains general application settings.
type MainSettings struct {
	Name string    // name of this node, can be used to identify the source of records
	Log  LogConfig // main log configuration
}

// WebServerSettings contains settings for the HTTP server.
type WebServerSettings struct {
	Debug       bool   // true to enable debug logging of requests
	Enabled     bool   // true to enable the web server
	Port        string // port for the web server
	FrontendURL string // allowed origin for CORS
}

// SQLiteSettings contains settings for the SQLite database backend.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite storage
	Path    string // path to the SQLite database file
}

// MySQLSettings contains settings for the MySQL database backend.
type MySQLSettings struct {
	Enabled  bool   // true to enable MySQL storage
	Username string // MySQL username
	Password string // MySQL password
	Database string // MySQL database name
	Host     string // MySQL host
	Port     string // MySQL port
}

// OutputSettings selects the storage backend.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// UploadSettings controls where uploaded originals land and what is accepted.
type UploadSettings struct {
	Dir           string   // root directory for uploaded originals, batch-scoped subdirs
	ReferencesDir string   // directory tree of reference images keyed by class label
	MaxFileSize   int64    // maximum accepted upload size in bytes
	MaxBatchSize  int      // maximum files per bulk upload request
	AllowedTypes  []string // accepted MIME types
}

// InferenceSettings configures the external YOLO classification service.
type InferenceSettings struct {
	ServiceURL          string  // base URL of the inference service
	Timeout             int     // request timeout in milliseconds
	ConfidenceThreshold float64 // confidence threshold passed to the model
	ModelVersion        string  // model version recorded with predictions
}

// CameraSettings configures the client capture pipeline.
type CameraSettings struct {
	CropWidth        int // width of the center crop in pixels
	CropHeight       int // height of the center crop in pixels
	MinCropWidth     int // lower clamp for crop width
	MinCropHeight    int // lower clamp for crop height
	MaxCropWidth     int // upper clamp for crop width
	MaxCropHeight    int // upper clamp for crop height
	IdealWidth       int // requested stream width
	IdealHeight      int // requested stream height
	ReadinessTimeout int // milliseconds to wait for first decoded frame before snapshot fallback
	SnapshotInterval int // milliseconds between snapshot frame grabs
	JPEGQuality      int // encode quality for captured crops
}

// SecuritySettings holds auth related configuration.
type SecuritySettings struct {
	SessionSecret string // secret used when hashing session tokens
	SessionTTL    int    // session token lifetime in hours
}

// Settings is the root configuration type.
type Settings struct {
	Debug bool // true to enable debug behavior globally

	Main      MainSettings
	WebServer WebServerSettings
	Output    OutputSettings
	Upload    UploadSettings
	Inference InferenceSettings
	Camera    CameraSettings
	Security  SecuritySettings

	Version   string `yaml:"-"` // build version, runtime value
	BuildDate string `yaml:"-"` // build date, runtime value
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// A .env file next to the binary overrides nothing but seeds the process
	// environment, matching how deployments configure the service.
	_ = godotenv.Load()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("conescan")
	viper.AutomaticEnv()

	// Defaults are defined in defaults.go
	setDefaultConfig()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(getDefaultConfig()), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading embedded config file: %v", err)
	}
	return string(data)
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	settingsMutex.RLock()
	s := settingsInstance
	settingsMutex.RUnlock()
	if s != nil {
		return s
	}

	loaded, err := Load()
	if err != nil {
		log.Fatalf("Error loading settings: %v", err)
	}
	return loaded
}

// GetSettings returns the current settings instance without triggering a load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAML writes the current settings to the given path as YAML.
func SaveYAML(settings *Settings, path string) error {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing settings to %s: %w", path, err)
	}
	return nil
}
