package vision

import (
	"fmt"
	"image"
	"regexp"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/your-org/cardscan/internal/models"
)

// Title band offsets against the canonical 488x680 frame.
const (
	titleLeft   = 0.035
	titleRight  = 0.685
	titleTop    = 0.035
	titleBottom = 0.095
)

// Reads below this mean confidence, or shorter than two characters after
// cleaning, are reported as empty.
const minOCRConfidence = 0.35

// titleWhitelist covers card-name characters: Latin letters with the
// Latin-1 accented range, space, apostrophe and hyphen.
const titleWhitelist = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz" +
	"ÀÁÂÃÄÅÆÇÈÉÊËÌÍÎÏÐÑÒÓÔÕÖØÙÚÛÜÝÞßàáâãäåæçèéêëìíîïðñòóôõöøùúûüýþÿ" +
	" '-"

// bracketed matches mana-symbol artifacts the recognizer sometimes emits.
var bracketed = regexp.MustCompile(`\[[^\]]*\]|\{[^}]*\}`)

// TitleReader reads the card name from the title band of a canonical image
// using Tesseract. The engine is not safe for concurrent use, so calls are
// serialized on a mutex.
type TitleReader struct {
	client *gosseract.Client
	mu     sync.Mutex
}

// NewTitleReader initialises the OCR engine. dataPath points at the
// directory containing Tesseract language data; empty uses the system
// default. Tesseract 4+ runs the LSTM recognizer by default.
func NewTitleReader(dataPath string) (*TitleReader, error) {
	client := gosseract.NewClient()
	if dataPath != "" {
		if err := client.SetTessdataPrefix(dataPath); err != nil {
			client.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set ocr language: %w", err)
	}
	// Card titles are a single line of text.
	if err := client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		client.Close()
		return nil, fmt.Errorf("set page seg mode: %w", err)
	}
	if err := client.SetWhitelist(titleWhitelist); err != nil {
		client.Close()
		return nil, fmt.Errorf("set whitelist: %w", err)
	}
	return &TitleReader{client: client}, nil
}

// ReadTitle extracts the card name from a canonical card image. It never
// fails: on any error it returns an empty result.
func (t *TitleReader) ReadTitle(canonical []byte) models.OcrResult {
	img, err := decodeImage(canonical)
	if err != nil {
		return models.OcrResult{}
	}

	band := prepareTitleBand(img)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(encodePNG(band)); err != nil {
		return models.OcrResult{}
	}

	words, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(words) == 0 {
		return models.OcrResult{}
	}

	var parts []string
	var confSum float64
	for _, wrd := range words {
		parts = append(parts, wrd.Word)
		confSum += wrd.Confidence
	}
	score := confSum / float64(len(words)) / 100

	cleaned := CleanTitle(strings.Join(parts, " "))
	if score < minOCRConfidence || len([]rune(cleaned)) < 2 {
		return models.OcrResult{Score: score}
	}
	return models.OcrResult{Title: cleaned, Score: score}
}

func (t *TitleReader) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = t.client.Close()
}

// prepareTitleBand crops and enhances the title strip for recognition:
// 4x Lanczos upscale, grayscale, contrast and brightness boost, mild sharpen.
func prepareTitleBand(img image.Image) image.Image {
	bounds := img.Bounds()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	rect := image.Rect(
		bounds.Min.X+int(titleLeft*w),
		bounds.Min.Y+int(titleTop*h),
		bounds.Min.X+int(titleRight*w),
		bounds.Min.Y+int(titleBottom*h),
	)

	band := imaging.Crop(img, rect)
	bw := band.Bounds().Dx()
	bh := band.Bounds().Dy()
	out := imaging.Resize(band, bw*4, bh*4, imaging.Lanczos)
	out = imaging.Grayscale(out)
	out = imaging.AdjustContrast(out, 60)
	out = imaging.AdjustBrightness(out, 10)
	return imaging.Sharpen(out, 0.7)
}

// CleanTitle post-filters raw recognizer output: bracketed artifacts are
// dropped, characters outside the title whitelist are stripped, and
// whitespace is collapsed.
func CleanTitle(raw string) string {
	s := bracketed.ReplaceAllString(raw, " ")

	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(titleWhitelist, r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
