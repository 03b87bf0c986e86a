package colorimetry

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRGBToLab_KnownValues(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		want    Lab
	}{
		{"white", 255, 255, 255, Lab{L: 100, A: 0, B: 0}},
		{"black", 0, 0, 0, Lab{L: 0, A: 0, B: 0}},
		{"red", 255, 0, 0, Lab{L: 53.2, A: 80.1, B: 67.2}},
		{"green", 0, 255, 0, Lab{L: 87.7, A: -86.2, B: 83.2}},
		{"blue", 0, 0, 255, Lab{L: 32.3, A: 79.2, B: -107.9}},
		{"mid grey", 119, 119, 119, Lab{L: 50.0, A: 0, B: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RGBToLab(tt.r, tt.g, tt.b)
			assert.InDelta(t, tt.want.L, got.L, 0.6, "L")
			assert.InDelta(t, tt.want.A, got.A, 0.6, "A")
			assert.InDelta(t, tt.want.B, got.B, 0.6, "B")
		})
	}
}

func TestLabRoundTrip(t *testing.T) {
	colors := [][3]uint8{
		{255, 255, 255},
		{0, 0, 0},
		{200, 120, 40},
		{17, 203, 78},
		{90, 90, 200},
	}

	for _, c := range colors {
		lab := RGBToLab(c[0], c[1], c[2])
		r, g, b := LabToRGB(lab)
		assert.InDelta(t, int(c[0]), int(r), 1)
		assert.InDelta(t, int(c[1]), int(g), 1)
		assert.InDelta(t, int(c[2]), int(b), 1)
	}
}

func TestDeltaE(t *testing.T) {
	a := Lab{L: 50, A: 10, B: 20}

	assert.InDelta(t, 0.0, DeltaE(a, a), 1e-9, "identical colors have zero distance")

	b := Lab{L: 53, A: 14, B: 20}
	// sqrt(3^2 + 4^2) = 5
	assert.InDelta(t, 5.0, DeltaE(a, b), 1e-9)
	assert.InDelta(t, DeltaE(a, b), DeltaE(b, a), 1e-9, "symmetric")
}

func TestClassLab(t *testing.T) {
	assert.Equal(t, Lab{L: 55, A: -20, B: 15}, ClassLab("green_brown"))
	assert.Equal(t, Lab{L: 55, A: -20, B: 15}, ClassLab("Green Brown"), "normalizes case and spaces")
	assert.Equal(t, Lab{L: 50, A: 0, B: 0}, ClassLab("no_such_class"), "unknown maps to neutral grey")
}

func TestTipRegion(t *testing.T) {
	region := TipRegion(640, 480)

	assert.Equal(t, image.Rect(256, 192, 384, 288), region)
	assert.Equal(t, 128, region.Dx(), "20% of width")
	assert.Equal(t, 96, region.Dy(), "20% of height")
}

func TestAverageRegion_Uniform(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.Set(x, y, color.RGBA{R: 120, G: 60, B: 30, A: 255})
		}
	}

	r, g, b := AverageRegion(img, image.Rect(2, 2, 8, 8))
	assert.Equal(t, uint8(120), r)
	assert.Equal(t, uint8(60), g)
	assert.Equal(t, uint8(30), b)
}

func TestAverageRegion_ClipsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}

	r, g, b := AverageRegion(img, image.Rect(-10, -10, 100, 100))
	assert.Equal(t, uint8(200), r)
	assert.Equal(t, uint8(200), g)
	assert.Equal(t, uint8(200), b)
}

func TestAverageRegion_EmptyIntersection(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	r, g, b := AverageRegion(img, image.Rect(10, 10, 20, 20))
	assert.Equal(t, uint8(0), r)
	assert.Equal(t, uint8(0), g)
	assert.Equal(t, uint8(0), b)
}
