// Package colorimetry implements the color math used by the classical
// classification fallback: sRGB to CIELAB conversion (D65 illuminant),
// CIE76 delta-E distance, and region averaging over decoded images.
package colorimetry

import (
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
)

// Lab is a color in CIELAB space.
type Lab struct {
	L float64 `json:"L"`
	A float64 `json:"A"`
	B float64 `json:"B"`
}

// DeltaE returns the CIE76 color difference, a plain Euclidean distance in Lab space.
func DeltaE(lab1, lab2 Lab) float64 {
	deltaL := lab1.L - lab2.L
	deltaA := lab1.A - lab2.A
	deltaB := lab1.B - lab2.B
	return math.Sqrt(deltaL*deltaL + deltaA*deltaA + deltaB*deltaB)
}

// RGBToLab converts an 8-bit sRGB color to CIELAB using the D65 illuminant.
func RGBToLab(r, g, b uint8) Lab {
	rNorm := linearize(float64(r) / 255)
	gNorm := linearize(float64(g) / 255)
	bNorm := linearize(float64(b) / 255)

	x := (rNorm*0.4124 + gNorm*0.3576 + bNorm*0.1805) * 100
	y := (rNorm*0.2126 + gNorm*0.7152 + bNorm*0.0722) * 100
	z := (rNorm*0.0193 + gNorm*0.1192 + bNorm*0.9505) * 100

	// D65 reference white
	const xn, yn, zn = 95.047, 100.000, 108.883

	fx := labF(x / xn)
	fy := labF(y / yn)
	fz := labF(z / zn)

	return Lab{
		L: 116*fy - 16,
		A: 500 * (fx - fy),
		B: 200 * (fy - fz),
	}
}

// LabToRGB converts a CIELAB color back to 8-bit sRGB, clamping out-of-gamut values.
func LabToRGB(lab Lab) (r, g, b uint8) {
	const xn, yn, zn = 95.047, 100.000, 108.883

	fy := (lab.L + 16) / 116
	fx := fy + lab.A/500
	fz := fy - lab.B/200

	x := xn * labFInv(fx)
	y := yn * labFInv(fy)
	z := zn * labFInv(fz)

	x /= 100
	y /= 100
	z /= 100

	rLin := x*3.2406 + y*-1.5372 + z*-0.4986
	gLin := x*-0.9689 + y*1.8758 + z*0.0415
	bLin := x*0.0557 + y*-0.2040 + z*1.0570

	return delinearize(rLin), delinearize(gLin), delinearize(bLin)
}

// LabToHex renders a Lab color as a #rrggbb display string.
func LabToHex(lab Lab) string {
	r, g, b := LabToRGB(lab)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func linearize(v float64) float64 {
	if v > 0.04045 {
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	return v / 12.92
}

func delinearize(v float64) uint8 {
	if v > 0.0031308 {
		v = 1.055*math.Pow(v, 1/2.4) - 0.055
	} else {
		v *= 12.92
	}
	return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
}

func labF(t float64) float64 {
	if t > 0.008856 {
		return math.Cbrt(t)
	}
	return 7.787*t + 16.0/116
}

func labFInv(t float64) float64 {
	if t3 := t * t * t; t3 > 0.008856 {
		return t3
	}
	return (t - 16.0/116) / 7.787
}

// classToLab maps known cone tip classes to nominal Lab descriptors used for
// display when the model path produced the classification.
var classToLab = map[string]Lab{
	"green_brown":       {L: 55, A: -20, B: 15},
	"green":             {L: 60, A: -30, B: 20},
	"brown_purple_ring": {L: 50, A: 10, B: 5},
	"brown_plain":       {L: 50, A: 10, B: 20},
	"brown":             {L: 50, A: 10, B: 20},
	"beige":             {L: 75, A: 5, B: 15},
	"striped":           {L: 65, A: 0, B: 10},
	"white":             {L: 90, A: 0, B: 0},
}

// Normalize canonicalizes a class label: lowercase, trimmed, spaces
// replaced with underscores. "Green Brown" and "green_brown" compare equal.
func Normalize(class string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(class)), " ", "_")
}

// ClassLab returns the nominal Lab descriptor for a predicted class label.
// Unknown labels map to a neutral mid-grey.
func ClassLab(class string) Lab {
	if lab, ok := classToLab[Normalize(class)]; ok {
		return lab
	}
	return Lab{L: 50, A: 0, B: 0}
}

// Classes lists the known cone tip class labels in a stable order.
func Classes() []string {
	names := make([]string, 0, len(classToLab))
	for name := range classToLab {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NearestClass returns the known class whose nominal Lab descriptor is
// closest to the measured color, together with the distance.
func NearestClass(measured Lab) (string, float64) {
	best := ""
	bestDist := math.MaxFloat64
	for _, name := range Classes() {
		if d := DeltaE(measured, classToLab[name]); d < bestDist {
			best = name
			bestDist = d
		}
	}
	return best, bestDist
}

// TipRegion returns the fixed sub-region sampled by the classical fallback:
// a rectangle of 20% of each dimension anchored at 40% from the origin.
func TipRegion(width, height int) image.Rectangle {
	x := int(math.Floor(float64(width) * 0.4))
	y := int(math.Floor(float64(height) * 0.4))
	w := int(math.Floor(float64(width) * 0.2))
	h := int(math.Floor(float64(height) * 0.2))
	return image.Rect(x, y, x+w, y+h)
}

// AverageRegion computes the mean RGB values over the given region of img.
// The region is clipped to the image bounds; an empty intersection yields black.
func AverageRegion(img image.Image, region image.Rectangle) (r, g, b uint8) {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return 0, 0, 0
	}

	var sumR, sumG, sumB uint64
	for y := region.Min.Y; y < region.Max.Y; y++ {
		for x := region.Min.X; x < region.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			sumR += uint64(pr >> 8)
			sumG += uint64(pg >> 8)
			sumB += uint64(pb >> 8)
		}
	}

	count := uint64(region.Dx() * region.Dy())
	return uint8(math.Round(float64(sumR) / float64(count))),
		uint8(math.Round(float64(sumG) / float64(count))),
		uint8(math.Round(float64(sumB) / float64(count)))
}
