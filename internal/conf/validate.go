package conf

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateSettings checks the loaded settings for values the service cannot
// start with. Validation errors are joined so the operator sees all problems
// at once instead of fixing them one restart at a time.
func ValidateSettings(settings *Settings) error {
	var errs []error

	if err := validateOutputSettings(&settings.Output); err != nil {
		errs = append(errs, err)
	}
	if err := validateUploadSettings(&settings.Upload); err != nil {
		errs = append(errs, err)
	}
	if err := validateInferenceSettings(&settings.Inference); err != nil {
		errs = append(errs, err)
	}
	if err := validateCameraSettings(&settings.Camera); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateOutputSettings(output *OutputSettings) error {
	if output.SQLite.Enabled && output.MySQL.Enabled {
		return fmt.Errorf("output: only one of sqlite and mysql may be enabled")
	}
	if !output.SQLite.Enabled && !output.MySQL.Enabled {
		return fmt.Errorf("output: either sqlite or mysql must be enabled")
	}
	if output.SQLite.Enabled && output.SQLite.Path == "" {
		return fmt.Errorf("output.sqlite.path must not be empty")
	}
	return nil
}

func validateUploadSettings(upload *UploadSettings) error {
	if upload.Dir == "" {
		return fmt.Errorf("upload.dir must not be empty")
	}
	if upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload.maxfilesize must be positive")
	}
	for _, mime := range upload.AllowedTypes {
		if !strings.HasPrefix(mime, "image/") {
			return fmt.Errorf("upload.allowedtypes: %q is not an image MIME type", mime)
		}
	}
	return nil
}

// An empty service URL is allowed: the service then classifies with the
// colorimetric fallback only.
func validateInferenceSettings(inference *InferenceSettings) error {
	if inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive")
	}
	if inference.ConfidenceThreshold < 0 || inference.ConfidenceThreshold > 1 {
		return fmt.Errorf("inference.confidencethreshold must be between 0.0 and 1.0")
	}
	return nil
}

func validateCameraSettings(camera *CameraSettings) error {
	if camera.MinCropWidth <= 0 || camera.MinCropHeight <= 0 {
		return fmt.Errorf("camera: minimum crop dimensions must be positive")
	}
	if camera.MaxCropWidth < camera.MinCropWidth || camera.MaxCropHeight < camera.MinCropHeight {
		return fmt.Errorf("camera: maximum crop dimensions must not be below the minimums")
	}
	if camera.JPEGQuality < 1 || camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpegquality must be between 1 and 100")
	}
	if camera.ReadinessTimeout <= 0 {
		return fmt.Errorf("camera.readinesstimeout must be positive")
	}
	if camera.SnapshotInterval <= 0 {
		return fmt.Errorf("camera.snapshotinterval must be positive")
	}
	return nil
}
