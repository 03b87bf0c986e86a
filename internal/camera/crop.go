package camera

import (
	"image"
	"image/draw"

	"github.com/conescan/conescan-go/internal/conf"
	"github.com/conescan/conescan-go/internal/errors"
	"github.com/conescan/conescan-go/internal/imaging"
)

// CropRect computes the centered crop rectangle for a source of the
// given size. The configured crop dimensions are clamped to the
// [min,max] range first and then to the source dimensions; the origin
// per axis is floor((src - crop) / 2).
func CropRect(srcW, srcH int, cfg *conf.CameraSettings) image.Rectangle {
	w := clampCrop(cfg.CropWidth, cfg.MinCropWidth, cfg.MaxCropWidth, srcW)
	h := clampCrop(cfg.CropHeight, cfg.MinCropHeight, cfg.MaxCropHeight, srcH)
	x := (srcW - w) / 2
	y := (srcH - h) / 2
	return image.Rect(x, y, x+w, y+h)
}

// OverlayRect is the preview rectangle drawn over the viewfinder. It is
// the capture rectangle, the two must never diverge.
func OverlayRect(srcW, srcH int, cfg *conf.CameraSettings) image.Rectangle {
	return CropRect(srcW, srcH, cfg)
}

func clampCrop(v, minV, maxV, src int) int {
	if minV > 0 && v < minV {
		v = minV
	}
	if maxV > 0 && v > maxV {
		v = maxV
	}
	if v > src {
		v = src
	}
	if v < 1 {
		v = 1
	}
	return v
}

// Capture crops the session's current frame to the configured
// rectangle and encodes it as JPEG. It fails when the session has no
// usable frame yet.
func (s *Session) Capture() ([]byte, error) {
	frame := s.Frame()
	if frame == nil {
		return nil, notReadyError("no frame available")
	}

	bounds := frame.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, notReadyError("source frame has zero dimensions")
	}

	rect := CropRect(srcW, srcH, &s.cfg)
	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(crop, crop.Bounds(), frame, bounds.Min.Add(rect.Min), draw.Src)

	quality := s.cfg.JPEGQuality
	if quality <= 0 {
		quality = 95
	}
	data, err := imaging.EncodeJPEG(crop, quality)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryCapture).
			Context("crop_width", rect.Dx()).
			Context("crop_height", rect.Dy()).
			Build()
	}
	return data, nil
}

func notReadyError(msg string) error {
	return errors.Newf("camera not ready: %s", msg).
		Component("camera").
		Category(errors.CategoryCapture).
		Build()
}
