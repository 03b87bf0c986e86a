package conf

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// GetDefaultConfigPaths returns the list of directories searched for config.yaml,
// in priority order: current working directory, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	paths := []string{"."}

	configDir, err := os.UserConfigDir()
	if err == nil {
		paths = append(paths, filepath.Join(configDir, "conescan-go"))
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "conescan-go"))
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no usable config paths found")
	}

	return paths, nil
}

// GetBasePath resolves a possibly relative directory against the working
// directory, creating it if it does not exist.
func GetBasePath(path string) string {
	if path == "" {
		path = "."
	}
	if !filepath.IsAbs(path) {
		workDir, err := os.Getwd()
		if err == nil {
			path = filepath.Join(workDir, path)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			log.Printf("Failed to create directory %s: %v", path, err)
		}
	}

	return path
}
