package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestImage(t *testing.T, width, height int, format string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 180, G: 90, B: 45, A: 255})
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	default:
		require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	}
	return buf.Bytes()
}

func TestProbe(t *testing.T) {
	t.Run("jpeg", func(t *testing.T) {
		data := encodeTestImage(t, 640, 480, "jpeg")

		dims, format, err := Probe(data)
		require.NoError(t, err)
		assert.Equal(t, 640, dims.Width)
		assert.Equal(t, 480, dims.Height)
		assert.Equal(t, "jpeg", format)
	})

	t.Run("png", func(t *testing.T) {
		data := encodeTestImage(t, 320, 240, "png")

		dims, format, err := Probe(data)
		require.NoError(t, err)
		assert.Equal(t, 320, dims.Width)
		assert.Equal(t, 240, dims.Height)
		assert.Equal(t, "png", format)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := Probe([]byte("not an image"))
		require.Error(t, err)
	})
}

func TestThumbnail_CoverFit(t *testing.T) {
	tests := []struct {
		name          string
		width, height int
	}{
		{"landscape", 640, 480},
		{"portrait", 300, 900},
		{"square", 500, 500},
		{"smaller than thumbnail", 100, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encodeTestImage(t, tt.width, tt.height, "jpeg")

			thumb, err := Thumbnail(data)
			require.NoError(t, err)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
			require.NoError(t, err)
			assert.Equal(t, "jpeg", format)
			assert.Equal(t, ThumbnailSize, cfg.Width)
			assert.Equal(t, ThumbnailSize, cfg.Height)
		})
	}
}

func TestThumbnail_InvalidData(t *testing.T) {
	_, err := Thumbnail([]byte{0x00, 0x01})
	require.Error(t, err)
}

func TestThumbnailBase64(t *testing.T) {
	data := encodeTestImage(t, 400, 400, "jpeg")

	encoded, err := ThumbnailBase64(data)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, ThumbnailSize, cfg.Width)
	assert.Equal(t, ThumbnailSize, cfg.Height)
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))

	data, err := EncodeJPEG(img, 95)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}
