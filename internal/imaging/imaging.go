// Package imaging handles decoding of uploaded images and generation of the
// fixed-size thumbnails embedded in classification responses.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoder for uploads
	"math"

	"github.com/nfnt/resize"

	"github.com/conescan/conescan-go/internal/errors"
)

const (
	// ThumbnailSize is the edge length of generated thumbnails.
	ThumbnailSize = 200

	// thumbnailQuality is the JPEG quality for thumbnail encoding.
	thumbnailQuality = 80
)

// Dimensions holds the pixel size of a decoded image.
type Dimensions struct {
	Width  int
	Height int
}

// Probe returns the pixel dimensions and format of encoded image data without
// fully decoding it.
func Probe(data []byte) (Dimensions, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, "", errors.New(fmt.Errorf("decoding image header: %w", err)).
			Component("imaging").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return Dimensions{Width: cfg.Width, Height: cfg.Height}, format, nil
}

// Decode decodes encoded image data into an image.Image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(fmt.Errorf("decoding image: %w", err)).
			Component("imaging").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return img, nil
}

// Thumbnail produces a ThumbnailSize square cover-fit JPEG from encoded image
// data: the image is scaled so the square is fully covered, then center-cropped.
func Thumbnail(data []byte) ([]byte, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errors.Newf("cannot thumbnail a zero-size image").
			Component("imaging").
			Category(errors.CategoryThumbnail).
			Build()
	}

	// Scale the smaller edge up to ThumbnailSize so the crop square is covered.
	scale := math.Max(float64(ThumbnailSize)/float64(srcW), float64(ThumbnailSize)/float64(srcH))
	scaledW := uint(math.Ceil(float64(srcW) * scale))
	scaledH := uint(math.Ceil(float64(srcH) * scale))

	scaled := resize.Resize(scaledW, scaledH, img, resize.Lanczos3)

	sb := scaled.Bounds()
	offsetX := sb.Min.X + (sb.Dx()-ThumbnailSize)/2
	offsetY := sb.Min.Y + (sb.Dy()-ThumbnailSize)/2

	out := image.NewRGBA(image.Rect(0, 0, ThumbnailSize, ThumbnailSize))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(offsetX, offsetY), draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		return nil, errors.New(fmt.Errorf("encoding thumbnail: %w", err)).
			Component("imaging").
			Category(errors.CategoryThumbnail).
			Build()
	}

	return buf.Bytes(), nil
}

// ThumbnailBase64 produces a thumbnail and encodes it for inline embedding.
func ThumbnailBase64(data []byte) (string, error) {
	thumb, err := Thumbnail(data)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(thumb), nil
}

// EncodeJPEG encodes an image as JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.New(fmt.Errorf("encoding jpeg: %w", err)).
			Component("imaging").
			Category(errors.CategoryImageDecode).
			Build()
	}
	if buf.Len() == 0 {
		return nil, errors.Newf("jpeg encoder produced no data").
			Component("imaging").
			Category(errors.CategoryImageDecode).
			Build()
	}
	return buf.Bytes(), nil
}
