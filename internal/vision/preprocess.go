package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	_ "image/gif"

	_ "golang.org/x/image/webp"
)

// decodeImage decodes any registered still-image format (JPEG, PNG, GIF, WebP).
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// imageToCHW converts an already-sized image to CHW float32,
// normalising as: pixel = (pixel/255 - mean) / std.
// Direct pixel access avoids the image.Image interface overhead.
func imageToCHW(img image.Image, mean, std [3]float32) []float32 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	data := make([]float32, 3*h*w)
	planeSize := h * w

	put := func(idx int, r8, g8, b8 uint8) {
		data[idx] = (float32(r8)/255 - mean[0]) / std[0]
		data[planeSize+idx] = (float32(g8)/255 - mean[1]) / std[1]
		data[2*planeSize+idx] = (float32(b8)/255 - mean[2]) / std[2]
	}

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				pix := src.Pix[off : off+3 : off+3]
				put(y*w+x, pix[0], pix[1], pix[2])
			}
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				pix := src.Pix[off : off+3 : off+3]
				put(y*w+x, pix[0], pix[1], pix[2])
			}
		}
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				yi := src.YOffset(bounds.Min.X+x, bounds.Min.Y+y)
				ci := src.COffset(bounds.Min.X+x, bounds.Min.Y+y)
				r8, g8, b8 := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				put(y*w+x, r8, g8, b8)
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				put(y*w+x, uint8(r>>8), uint8(g>>8), uint8(b>>8))
			}
		}
	}

	return data
}

// toRGBA copies img into an *image.RGBA with a zero-based origin.
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return dst
}

// grayscale converts img to an 8-bit luma plane.
func grayscale(img image.Image) ([]uint8, int, int) {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	gray := make([]uint8, w*h)

	switch src := img.(type) {
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				gray[y*w+x] = src.Y[src.YOffset(bounds.Min.X+x, bounds.Min.Y+y)]
			}
		}
	case *image.RGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				pix := src.Pix[off : off+3 : off+3]
				gray[y*w+x] = luma(pix[0], pix[1], pix[2])
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				off := src.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				pix := src.Pix[off : off+3 : off+3]
				gray[y*w+x] = luma(pix[0], pix[1], pix[2])
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				gray[y*w+x] = luma(uint8(r>>8), uint8(g>>8), uint8(b>>8))
			}
		}
	}
	return gray, w, h
}

func luma(r, g, b uint8) uint8 {
	// ITU-R BT.601 integer approximation.
	return uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
}

// encodeJPEG encodes an image as JPEG with the given quality.
func encodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

// encodePNG encodes an image losslessly.
func encodePNG(img image.Image) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
