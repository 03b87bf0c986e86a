package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conescan/conescan-go/internal/errors"
)

func TestCropRectCentered(t *testing.T) {
	t.Parallel()
	cfg := testCameraConfig()

	rect := CropRect(640, 480, cfg)
	assert.Equal(t, image.Rect(230, 150, 410, 330), rect)
	assert.Equal(t, 180, rect.Dx())
	assert.Equal(t, 180, rect.Dy())
}

func TestCropRectProperties(t *testing.T) {
	t.Parallel()
	cfg := testCameraConfig()

	sources := []struct{ w, h int }{
		{640, 480}, {1920, 1080}, {181, 181}, {180, 180}, {100, 100},
		{4000, 3000}, {320, 240}, {1281, 721},
	}
	for _, src := range sources {
		rect := CropRect(src.w, src.h, cfg)

		assert.True(t, rect.In(image.Rect(0, 0, src.w, src.h)),
			"crop %v must lie inside %dx%d", rect, src.w, src.h)

		// Centered within one pixel on each axis.
		leftGap, rightGap := rect.Min.X, src.w-rect.Max.X
		topGap, bottomGap := rect.Min.Y, src.h-rect.Max.Y
		assert.LessOrEqual(t, absInt(leftGap-rightGap), 1, "horizontal centering for %dx%d", src.w, src.h)
		assert.LessOrEqual(t, absInt(topGap-bottomGap), 1, "vertical centering for %dx%d", src.w, src.h)
	}
}

func TestCropRectClamping(t *testing.T) {
	t.Parallel()
	cfg := testCameraConfig()

	// Requested size below the minimum is raised to it.
	cfg.CropWidth, cfg.CropHeight = 10, 10
	rect := CropRect(640, 480, cfg)
	assert.Equal(t, 64, rect.Dx())
	assert.Equal(t, 64, rect.Dy())

	// Requested size above the maximum is lowered to it, then to source.
	cfg.CropWidth, cfg.CropHeight = 9000, 9000
	rect = CropRect(640, 480, cfg)
	assert.Equal(t, 640, rect.Dx())
	assert.Equal(t, 480, rect.Dy())
}

func TestOverlayMatchesCrop(t *testing.T) {
	t.Parallel()
	cfg := testCameraConfig()
	for _, src := range []struct{ w, h int }{{640, 480}, {1280, 720}, {333, 777}} {
		assert.Equal(t, CropRect(src.w, src.h, cfg), OverlayRect(src.w, src.h, cfg))
	}
}

func TestCaptureProducesCropSizedJPEG(t *testing.T) {
	t.Parallel()

	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := range 480 {
		for x := range 640 {
			frame.SetRGBA(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 100, 255})
		}
	}

	s := &Session{cfg: *testCameraConfig()}
	s.storeFrame(frame)

	data, err := s.Capture()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 180, decoded.Bounds().Dx())
	assert.Equal(t, 180, decoded.Bounds().Dy())
}

func TestCaptureWithoutFrame(t *testing.T) {
	t.Parallel()
	s := &Session{cfg: *testCameraConfig()}

	_, err := s.Capture()
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryCapture))
	assert.Contains(t, err.Error(), "not ready")
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
