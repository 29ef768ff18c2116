package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillQuad rasterises a filled convex quadrilateral by scanline.
func fillQuad(img *image.RGBA, quad [4]point, c color.RGBA) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		fy := float64(y) + 0.5
		var xs []float64
		for i := 0; i < 4; i++ {
			a := quad[i]
			b := quad[(i+1)%4]
			if (a.y <= fy && b.y > fy) || (b.y <= fy && a.y > fy) {
				t := (fy - a.y) / (b.y - a.y)
				xs = append(xs, a.x+t*(b.x-a.x))
			}
		}
		if len(xs) < 2 {
			continue
		}
		lo, hi := xs[0], xs[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		for x := int(lo); x < int(hi); x++ {
			if x >= bounds.Min.X && x < bounds.Max.X {
				img.SetRGBA(x, y, c)
			}
		}
	}
}

func syntheticCardScene(quad [4]point) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for i := range img.Pix {
		img.Pix[i] = 30 // dark background
	}
	fillQuad(img, quad, color.RGBA{230, 230, 230, 255})

	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	return buf.Bytes()
}

func TestFindCardQuadOnSyntheticScene(t *testing.T) {
	want := [4]point{{150, 60}, {520, 90}, {480, 420}, {120, 380}}
	raw := syntheticCardScene(want)

	img, err := decodeImage(raw)
	require.NoError(t, err)

	got, ok := findCardQuad(img)
	require.True(t, ok, "expected a quadrilateral in the synthetic scene")

	for i := range want {
		assert.InDelta(t, want[i].x, got[i].x, 8, "corner %d x", i)
		assert.InDelta(t, want[i].y, got[i].y, 8, "corner %d y", i)
	}
}

func TestDetectAndCropProducesCanonicalFrame(t *testing.T) {
	d := NewDetector()
	raw := syntheticCardScene([4]point{{150, 60}, {520, 90}, {480, 420}, {120, 380}})

	out := d.DetectAndCrop(raw)
	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, CardWidth, img.Bounds().Dx())
	assert.Equal(t, CardHeight, img.Bounds().Dy())
}

func TestDetectAndCropFallsBackWithoutQuad(t *testing.T) {
	// A flat grey frame has no contours at all.
	img := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))

	out := NewDetector().DetectAndCrop(buf.Bytes())
	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, CardWidth, decoded.Bounds().Dx())
	assert.Equal(t, CardHeight, decoded.Bounds().Dy())
}

// The detector is total: undecodable input comes back unchanged.
func TestDetectAndCropTotality(t *testing.T) {
	d := NewDetector()
	inputs := [][]byte{
		nil,
		{},
		[]byte("definitely not an image"),
		bytes.Repeat([]byte{0xff, 0x00}, 512),
	}
	for _, raw := range inputs {
		out := d.DetectAndCrop(raw)
		assert.Equal(t, raw, out)
	}
}

func TestOrderCorners(t *testing.T) {
	shuffled := []point{{480, 420}, {150, 60}, {120, 380}, {520, 90}}
	ordered := orderCorners(shuffled)

	assert.Equal(t, point{150, 60}, ordered[0])  // TL
	assert.Equal(t, point{520, 90}, ordered[1])  // TR
	assert.Equal(t, point{480, 420}, ordered[2]) // BR
	assert.Equal(t, point{120, 380}, ordered[3]) // BL
}

func TestHomographyMapsCorners(t *testing.T) {
	from := [4]point{{0, 0}, {488, 0}, {488, 680}, {0, 680}}
	to := [4]point{{150, 60}, {520, 90}, {480, 420}, {120, 380}}

	h, ok := homography(from, to)
	require.True(t, ok)

	for i := range from {
		den := h[6]*from[i].x + h[7]*from[i].y + 1
		x := (h[0]*from[i].x + h[1]*from[i].y + h[2]) / den
		y := (h[3]*from[i].x + h[4]*from[i].y + h[5]) / den
		assert.InDelta(t, to[i].x, x, 1e-6)
		assert.InDelta(t, to[i].y, y, 1e-6)
	}
}

func TestHomographyDegenerate(t *testing.T) {
	collinear := [4]point{{0, 0}, {1, 1}, {2, 2}, {3, 3}}
	_, ok := homography(collinear, collinear)
	assert.False(t, ok)
}

func TestApproxPolyDPSimplifiesRectangle(t *testing.T) {
	// A dense rectangle outline should collapse to its 4 corners.
	var contour []point
	for x := 0.0; x < 100; x++ {
		contour = append(contour, point{x, 0})
	}
	for y := 0.0; y < 50; y++ {
		contour = append(contour, point{100, y})
	}
	for x := 100.0; x > 0; x-- {
		contour = append(contour, point{x, 50})
	}
	for y := 50.0; y > 0; y-- {
		contour = append(contour, point{0, y})
	}

	approx := approxPolyDP(contour, 0.02*perimeter(contour, true))
	assert.Len(t, approx, 4)
	assert.True(t, isConvex(approx))
	assert.InDelta(t, 100*50, math.Abs(signedArea(approx)), 200)
}

func TestIsConvex(t *testing.T) {
	square := []point{{0, 0}, {10, 0}, {10, 10}, {0, 10}}
	assert.True(t, isConvex(square))

	arrow := []point{{0, 0}, {10, 0}, {2, 2}, {0, 10}}
	assert.False(t, isConvex(arrow))
}

func TestFallbackCropAspect(t *testing.T) {
	// Wide input: the crop must preserve the 488:680 aspect before resize.
	img := image.NewRGBA(image.Rect(0, 0, 2000, 700))
	out := fallbackCrop(img)
	assert.Equal(t, CardWidth, out.Bounds().Dx())
	assert.Equal(t, CardHeight, out.Bounds().Dy())

	// Tall input.
	img = image.NewRGBA(image.Rect(0, 0, 300, 2000))
	out = fallbackCrop(img)
	assert.Equal(t, CardWidth, out.Bounds().Dx())
	assert.Equal(t, CardHeight, out.Bounds().Dy())
}
