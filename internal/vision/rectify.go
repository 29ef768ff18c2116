package vision

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Canonical card frame produced by the detector.
const (
	CardWidth  = 488
	CardHeight = 680
)

const (
	jpegQuality = 92

	cannyLow  = 50
	cannyHigh = 150

	// A candidate quadrilateral must cover at least this share of the scene.
	minQuadAreaRatio = 0.05

	// Polygon approximation tolerance as a fraction of the contour perimeter.
	approxEpsilonRatio = 0.02
)

// Detector locates a card-shaped quadrilateral in a photograph and warps it
// to the canonical frontal frame.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// DetectAndCrop finds the card in raw image bytes and returns a canonical
// 488x680 JPEG of its face. It is total: when no quadrilateral is found it
// falls back to an enhanced centre crop, and when the bytes cannot be
// decoded at all it returns them unchanged.
func (d *Detector) DetectAndCrop(raw []byte) []byte {
	img, err := decodeImage(raw)
	if err != nil {
		return raw
	}

	if quad, ok := findCardQuad(img); ok {
		warped := warpPerspective(toRGBA(img), quad, CardWidth, CardHeight)
		return encodeJPEG(warped, jpegQuality)
	}

	return encodeJPEG(fallbackCrop(img), jpegQuality)
}

// fallbackCrop takes the maximal centred sub-rectangle at the card aspect
// ratio, applies mild enhancement, and resizes to the canonical frame.
func fallbackCrop(img image.Image) image.Image {
	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	ratio := float64(CardWidth) / float64(CardHeight)

	cropW := w
	cropH := w / ratio
	if cropH > h {
		cropH = h
		cropW = h * ratio
	}

	out := imaging.CropCenter(img, int(cropW), int(cropH))
	out = imaging.AdjustContrast(out, 15)
	out = imaging.AdjustBrightness(out, 5)
	out = imaging.Sharpen(out, 0.6)
	return imaging.Resize(out, CardWidth, CardHeight, imaging.Lanczos)
}

type point struct {
	x, y float64
}

// findCardQuad runs the edge-based rectification pipeline: grayscale,
// Gaussian blur, Canny, dilation, contour extraction, polygon approximation.
// It returns the largest convex quadrilateral covering at least 5% of the
// scene, with corners ordered TL, TR, BR, BL.
func findCardQuad(img image.Image) ([4]point, bool) {
	gray, w, h := grayscale(img)
	if w < 20 || h < 20 {
		return [4]point{}, false
	}

	blurred := gaussianBlur5(gray, w, h)
	edges := canny(blurred, w, h, cannyLow, cannyHigh)
	dilate3(edges, w, h)

	minArea := minQuadAreaRatio * float64(w) * float64(h)

	var best []point
	bestArea := 0.0
	for _, contour := range traceContours(edges, w, h) {
		peri := perimeter(contour, true)
		approx := approxPolyDP(contour, approxEpsilonRatio*peri)
		if len(approx) != 4 || !isConvex(approx) {
			continue
		}
		area := math.Abs(signedArea(approx))
		if area < minArea || area <= bestArea {
			continue
		}
		best = approx
		bestArea = area
	}
	if best == nil {
		return [4]point{}, false
	}
	return orderCorners(best), true
}

// gaussianBlur5 applies a separable 5x5 Gaussian (binomial 1-4-6-4-1 kernel).
func gaussianBlur5(src []uint8, w, h int) []uint8 {
	kernel := [5]int{1, 4, 6, 4, 1}
	tmp := make([]int, w*h)
	dst := make([]uint8, w*h)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k := -2; k <= 2; k++ {
				xx := clampI(x+k, 0, w-1)
				sum += kernel[k+2] * int(src[y*w+xx])
			}
			tmp[y*w+x] = sum
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum := 0
			for k := -2; k <= 2; k++ {
				yy := clampI(y+k, 0, h-1)
				sum += kernel[k+2] * tmp[yy*w+x]
			}
			dst[y*w+x] = uint8(sum / 256)
		}
	}
	return dst
}

// canny computes a binary edge map with hysteresis thresholding.
func canny(gray []uint8, w, h int, low, high int) []uint8 {
	mag := make([]int32, w*h)
	dir := make([]uint8, w*h) // quantized gradient direction: 0=E/W, 1=NE/SW, 2=N/S, 3=NW/SE

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			gx := int32(gray[i-w+1]) + 2*int32(gray[i+1]) + int32(gray[i+w+1]) -
				int32(gray[i-w-1]) - 2*int32(gray[i-1]) - int32(gray[i+w-1])
			gy := int32(gray[i+w-1]) + 2*int32(gray[i+w]) + int32(gray[i+w+1]) -
				int32(gray[i-w-1]) - 2*int32(gray[i-w]) - int32(gray[i-w+1])

			if gx < 0 {
				gx = -gx
				gy = -gy
			}
			mag[i] = gx + absI32(gy)

			// Quantize by comparing |gy| against tan(22.5°)·|gx| and
			// tan(67.5°)·|gx| using integer arithmetic (×256).
			ay := absI32(gy)
			switch {
			case ay*256 < gx*106: // < tan(22.5°)
				dir[i] = 0
			case ay*106 > gx*256: // > tan(67.5°)
				dir[i] = 2
			case gy < 0:
				dir[i] = 1
			default:
				dir[i] = 3
			}
		}
	}

	// Non-maximum suppression + double threshold.
	const (
		weak   = 1
		strong = 2
	)
	marks := make([]uint8, w*h)
	lo := int32(low)
	hi := int32(high)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m < lo {
				continue
			}
			var a, b int32
			switch dir[i] {
			case 0:
				a, b = mag[i-1], mag[i+1]
			case 2:
				a, b = mag[i-w], mag[i+w]
			case 1:
				a, b = mag[i-w+1], mag[i+w-1]
			default:
				a, b = mag[i-w-1], mag[i+w+1]
			}
			if m < a || m < b {
				continue
			}
			if m >= hi {
				marks[i] = strong
			} else {
				marks[i] = weak
			}
		}
	}

	// Hysteresis: keep weak pixels 8-connected to a strong one.
	edges := make([]uint8, w*h)
	stack := make([]int, 0, 1024)
	for i, m := range marks {
		if m == strong && edges[i] == 0 {
			edges[i] = 1
			stack = append(stack, i)
			for len(stack) > 0 {
				j := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				jy := j / w
				jx := j % w
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						ny := jy + dy
						nx := jx + dx
						if ny < 0 || ny >= h || nx < 0 || nx >= w {
							continue
						}
						n := ny*w + nx
						if marks[n] != 0 && edges[n] == 0 {
							edges[n] = 1
							stack = append(stack, n)
						}
					}
				}
			}
		}
	}
	return edges
}

// dilate3 grows the edge map in place with a 3x3 rectangular kernel.
func dilate3(bin []uint8, w, h int) {
	src := make([]uint8, len(bin))
	copy(src, bin)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src[y*w+x] != 0 {
				continue
			}
		neighbors:
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					ny := y + dy
					nx := x + dx
					if ny < 0 || ny >= h || nx < 0 || nx >= w {
						continue
					}
					if src[ny*w+nx] != 0 {
						bin[y*w+x] = 1
						break neighbors
					}
				}
			}
		}
	}
}

// Moore neighbourhood in clockwise order starting east.
var mooreDX = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
var mooreDY = [8]int{0, 1, 1, 1, 0, -1, -1, -1}

// traceContours extracts the outer boundary of each connected edge region
// by Moore-neighbour tracing. Tiny contours are discarded.
func traceContours(bin []uint8, w, h int) [][]point {
	visited := make([]bool, w*h)
	var contours [][]point

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if bin[i] == 0 || visited[i] {
				continue
			}
			// Outer border start: the pixel to the left is background.
			if x > 0 && bin[i-1] != 0 {
				continue
			}
			contour := traceBoundary(bin, w, h, x, y, visited)
			if len(contour) >= 16 {
				contours = append(contours, contour)
			}
		}
	}
	return contours
}

func traceBoundary(bin []uint8, w, h int, sx, sy int, visited []bool) []point {
	contour := []point{{float64(sx), float64(sy)}}
	visited[sy*w+sx] = true

	cx, cy := sx, sy
	// We entered from the west, so begin the clockwise search just past it.
	dirFrom := 4

	maxSteps := 4 * (w + h) * 8
	for step := 0; step < maxSteps; step++ {
		found := -1
		for k := 1; k <= 8; k++ {
			d := (dirFrom + k) % 8
			nx := cx + mooreDX[d]
			ny := cy + mooreDY[d]
			if nx < 0 || nx >= w || ny < 0 || ny >= h {
				continue
			}
			if bin[ny*w+nx] != 0 {
				found = d
				break
			}
		}
		if found < 0 {
			break // isolated pixel
		}
		cx += mooreDX[found]
		cy += mooreDY[found]
		if cx == sx && cy == sy {
			break
		}
		visited[cy*w+cx] = true
		contour = append(contour, point{float64(cx), float64(cy)})
		// Next search starts from the direction pointing back where we came.
		dirFrom = (found + 4) % 8
	}
	return contour
}

// perimeter returns the arc length of a polyline, optionally closed.
func perimeter(pts []point, closed bool) float64 {
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += dist(pts[i-1], pts[i])
	}
	if closed && len(pts) > 2 {
		total += dist(pts[len(pts)-1], pts[0])
	}
	return total
}

// approxPolyDP approximates a closed contour with the Douglas-Peucker
// algorithm. The ring is split at its two mutually farthest points (found
// by a double sweep) and each half simplified independently.
func approxPolyDP(contour []point, epsilon float64) []point {
	n := len(contour)
	if n < 3 {
		return contour
	}

	// Farthest point from an arbitrary anchor, then farthest from that:
	// a cheap diameter approximation that is exact enough for splitting.
	a := farthestFrom(contour, contour[0])
	b := farthestFrom(contour, contour[a])
	if a > b {
		a, b = b, a
	}

	first := contour[a : b+1]
	second := append(append([]point{}, contour[b:]...), contour[:a+1]...)

	out := douglasPeucker(first, epsilon)
	tail := douglasPeucker(second, epsilon)
	// Both halves contain the split points; drop the duplicated endpoints.
	out = append(out, tail[1:len(tail)-1]...)
	return out
}

func farthestFrom(pts []point, origin point) int {
	best := 0
	bestD := -1.0
	for i, p := range pts {
		d := dist(origin, p)
		if d > bestD {
			bestD = d
			best = i
		}
	}
	return best
}

func douglasPeucker(pts []point, epsilon float64) []point {
	if len(pts) < 3 {
		return pts
	}
	maxD := 0.0
	maxI := 0
	for i := 1; i < len(pts)-1; i++ {
		d := pointSegmentDist(pts[i], pts[0], pts[len(pts)-1])
		if d > maxD {
			maxD = d
			maxI = i
		}
	}
	if maxD <= epsilon {
		return []point{pts[0], pts[len(pts)-1]}
	}
	left := douglasPeucker(pts[:maxI+1], epsilon)
	right := douglasPeucker(pts[maxI:], epsilon)
	return append(left[:len(left)-1], right...)
}

func pointSegmentDist(p, a, b point) float64 {
	dx := b.x - a.x
	dy := b.y - a.y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return dist(p, a)
	}
	t := ((p.x-a.x)*dx + (p.y-a.y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	proj := point{a.x + t*dx, a.y + t*dy}
	return dist(p, proj)
}

// isConvex reports whether a polygon's cross products all share a sign.
func isConvex(pts []point) bool {
	n := len(pts)
	if n < 3 {
		return false
	}
	sign := 0
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		c := pts[(i+2)%n]
		cross := (b.x-a.x)*(c.y-b.y) - (b.y-a.y)*(c.x-b.x)
		if cross == 0 {
			continue
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return sign != 0
}

// signedArea is the shoelace area of a polygon.
func signedArea(pts []point) float64 {
	area := 0.0
	n := len(pts)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += pts[i].x*pts[j].y - pts[j].x*pts[i].y
	}
	return area / 2
}

// orderCorners arranges 4 corners clockwise from top-left using the
// sum/difference heuristic: TL has the minimal x+y, BR the maximal x+y,
// TR the minimal y-x, BL the maximal y-x.
func orderCorners(pts []point) [4]point {
	var ordered [4]point
	minSum, maxSum := math.Inf(1), math.Inf(-1)
	minDiff, maxDiff := math.Inf(1), math.Inf(-1)
	for _, p := range pts {
		sum := p.x + p.y
		diff := p.y - p.x
		if sum < minSum {
			minSum = sum
			ordered[0] = p // TL
		}
		if sum > maxSum {
			maxSum = sum
			ordered[2] = p // BR
		}
		if diff < minDiff {
			minDiff = diff
			ordered[1] = p // TR
		}
		if diff > maxDiff {
			maxDiff = diff
			ordered[3] = p // BL
		}
	}
	return ordered
}

// warpPerspective maps the quadrilateral onto a dstW x dstH frame by
// computing the destination-to-source homography and sampling bilinearly.
func warpPerspective(src *image.RGBA, quad [4]point, dstW, dstH int) *image.RGBA {
	dstCorners := [4]point{
		{0, 0},
		{float64(dstW), 0},
		{float64(dstW), float64(dstH)},
		{0, float64(dstH)},
	}
	hm, ok := homography(dstCorners, quad)
	if !ok {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	srcW := src.Bounds().Dx()
	srcH := src.Bounds().Dy()

	for y := 0; y < dstH; y++ {
		fy := float64(y) + 0.5
		for x := 0; x < dstW; x++ {
			fx := float64(x) + 0.5
			den := hm[6]*fx + hm[7]*fy + 1
			if den == 0 {
				continue
			}
			sx := (hm[0]*fx + hm[1]*fy + hm[2]) / den
			sy := (hm[3]*fx + hm[4]*fy + hm[5]) / den
			r, g, b := sampleBilinear(src, srcW, srcH, sx, sy)
			off := dst.PixOffset(x, y)
			dst.Pix[off] = r
			dst.Pix[off+1] = g
			dst.Pix[off+2] = b
			dst.Pix[off+3] = 255
		}
	}
	return dst
}

// homography solves the 8-parameter projective transform taking each from[i]
// to to[i], by Gaussian elimination with partial pivoting.
func homography(from, to [4]point) ([8]float64, bool) {
	var m [8][9]float64
	for i := 0; i < 4; i++ {
		sx, sy := from[i].x, from[i].y
		dx, dy := to[i].x, to[i].y
		m[2*i] = [9]float64{sx, sy, 1, 0, 0, 0, -sx * dx, -sy * dx, dx}
		m[2*i+1] = [9]float64{0, 0, 0, sx, sy, 1, -sx * dy, -sy * dy, dy}
	}

	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-12 {
			return [8]float64{}, false
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			factor := m[r][col] / m[col][col]
			for c := col; c < 9; c++ {
				m[r][c] -= factor * m[col][c]
			}
		}
	}

	var h [8]float64
	for i := 0; i < 8; i++ {
		h[i] = m[i][8] / m[i][i]
	}
	return h, true
}

func sampleBilinear(src *image.RGBA, w, h int, x, y float64) (uint8, uint8, uint8) {
	x -= 0.5
	y -= 0.5
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	get := func(px, py int) (float64, float64, float64) {
		px = clampI(px, 0, w-1)
		py = clampI(py, 0, h-1)
		off := src.PixOffset(px, py)
		return float64(src.Pix[off]), float64(src.Pix[off+1]), float64(src.Pix[off+2])
	}

	r00, g00, b00 := get(x0, y0)
	r10, g10, b10 := get(x0+1, y0)
	r01, g01, b01 := get(x0, y0+1)
	r11, g11, b11 := get(x0+1, y0+1)

	lerp2 := func(v00, v10, v01, v11 float64) uint8 {
		top := v00 + (v10-v00)*fx
		bot := v01 + (v11-v01)*fx
		return uint8(math.Round(top + (bot-top)*fy))
	}
	return lerp2(r00, r10, r01, r11), lerp2(g00, g10, g01, g11), lerp2(b00, b10, b01, b11)
}

func dist(a, b point) float64 {
	return math.Hypot(a.x-b.x, a.y-b.y)
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absI32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
