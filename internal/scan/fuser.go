package scan

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/your-org/cardscan/internal/models"
)

// Thresholds are the calibrated decision boundaries of the fuser.
type Thresholds struct {
	// DistHigh: the vector alone is trustworthy below this cosine distance.
	DistHigh float64
	// DistMed: the vector alone is acceptable below this distance.
	DistMed float64
	// DistCutoff: above this distance any vector-only claim is rejected.
	DistCutoff float64
	// OCRBlock: only an OCR read this confident may veto a passing vector hit.
	OCRBlock float64
	// MaxAttempts: attempts at or beyond this always produce a terminal verdict.
	MaxAttempts int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DistHigh:    0.30,
		DistMed:     0.42,
		DistCutoff:  0.52,
		OCRBlock:    0.90,
		MaxAttempts: 3,
	}
}

// Share of the database name's words that must appear in the OCR text for
// the two to count as the same card. Deliberately tolerant: ornate card
// fonts produce predictable recognizer errors.
const nameOverlapRatio = 0.55

// Fuser combines vector search hits with the OCR hypothesis into a single
// verdict. Decide is a pure function of its inputs: the embedding is treated
// as authoritative whenever it is confident, and OCR acts only as a veto in
// the narrow band where the vector might be wrong.
type Fuser struct {
	t Thresholds
}

func NewFuser(t Thresholds) *Fuser {
	if t.MaxAttempts <= 0 {
		t = DefaultThresholds()
	}
	return &Fuser{t: t}
}

// Decide evaluates the decision rules in order; the first match wins.
func (f *Fuser) Decide(hits []models.VectorSearchResult, ocr models.OcrResult, attempt int) models.ScanVerdict {
	hasOCR := ocr.Title != ""
	terminal := attempt >= f.t.MaxAttempts

	// Both signals absent.
	if len(hits) == 0 && !hasOCR {
		return models.ScanVerdict{
			Status:          models.StatusNotFound,
			Confidence:      models.ConfidenceLow,
			DetectionMethod: models.MethodNone,
			Attempt:         attempt,
		}
	}

	// OCR alone: a name without any vector evidence is never a confirmation.
	if len(hits) == 0 {
		status := models.StatusRescanRequired
		if terminal {
			status = models.StatusAmbiguous
		}
		return models.ScanVerdict{
			Status:          status,
			Confidence:      models.ConfidenceLow,
			DetectionMethod: models.MethodOCR,
			Attempt:         attempt,
		}
	}

	top := hits[0]
	method := models.MethodVector
	if hasOCR {
		method = models.MethodOCRVector
	}

	// An exact-name injection from the pipeline arrives at distance zero.
	if top.Distance == 0 {
		return f.confirmed(hits, models.ConfidenceHigh, models.MethodOCRVector, attempt)
	}

	if top.Distance < f.t.DistHigh {
		return f.confirmed(hits, models.ConfidenceHigh, method, attempt)
	}

	if top.Distance < f.t.DistMed {
		if hasOCR && ocr.Score >= f.t.OCRBlock && !NamesOverlap(top.Name, ocr.Title) {
			// The two signals actively disagree.
			if !terminal {
				return models.ScanVerdict{
					Status:          models.StatusRescanRequired,
					Confidence:      models.ConfidenceLow,
					DetectionMethod: models.MethodDivergent,
					Attempt:         attempt,
				}
			}
			return f.undecided(hits, models.StatusAmbiguous, models.MethodVector, attempt)
		}
		return f.confirmed(hits, models.ConfidenceMedium, method, attempt)
	}

	if top.Distance >= f.t.DistCutoff {
		if !terminal {
			return models.ScanVerdict{
				Status:          models.StatusRescanRequired,
				Confidence:      models.ConfidenceLow,
				DetectionMethod: models.MethodVector,
				Attempt:         attempt,
			}
		}
		return models.ScanVerdict{
			Status:          models.StatusNotFound,
			Confidence:      models.ConfidenceLow,
			DetectionMethod: models.MethodVector,
			Attempt:         attempt,
		}
	}

	// Suspect band: the vector is plausible but not strong enough to commit.
	if !terminal {
		return models.ScanVerdict{
			Status:          models.StatusRescanRequired,
			Confidence:      models.ConfidenceLow,
			DetectionMethod: models.MethodVector,
			Attempt:         attempt,
		}
	}
	return f.undecided(hits, models.StatusAmbiguous, models.MethodVector, attempt)
}

func (f *Fuser) confirmed(hits []models.VectorSearchResult, conf models.ScanConfidence, method string, attempt int) models.ScanVerdict {
	card := hits[0].Card()
	return models.ScanVerdict{
		Status:          models.StatusConfirmed,
		Confidence:      conf,
		ConfidenceScore: confidenceScore(hits[0].Distance),
		DetectionMethod: method,
		Attempt:         attempt,
		Card:            &card,
		Alternatives:    cardSummaries(hits[1:]),
	}
}

// undecided produces a terminal non-confirmation that still reports the best
// candidate and its near-ties, so the client can show what the scan almost was.
func (f *Fuser) undecided(hits []models.VectorSearchResult, status models.ScanStatus, method string, attempt int) models.ScanVerdict {
	card := hits[0].Card()
	return models.ScanVerdict{
		Status:          status,
		Confidence:      models.ConfidenceLow,
		ConfidenceScore: confidenceScore(hits[0].Distance),
		DetectionMethod: method,
		Attempt:         attempt,
		Card:            &card,
		Alternatives:    cardSummaries(hits[1:]),
	}
}

func cardSummaries(hits []models.VectorSearchResult) []models.CardSummary {
	if len(hits) == 0 {
		return nil
	}
	out := make([]models.CardSummary, len(hits))
	for i, h := range hits {
		out[i] = h.Card()
	}
	return out
}

// confidenceScore maps cosine distance to [0, 1], rounded to 4 decimals.
func confidenceScore(distance float64) float64 {
	score := 1 - distance
	if score < 0 {
		score = 0
	}
	return math.Round(score*10000) / 10000
}

// NamesOverlap reports whether the OCR text plausibly names the database
// card. Both strings are lowered, NFKD-decomposed and stripped to ASCII
// letters, digits and spaces; the database name is split into words of at
// least three characters, and enough of them must appear as substrings of
// the OCR text. A name yielding no such words cannot be disputed and counts
// as overlapping.
func NamesOverlap(dbName, ocrText string) bool {
	name := normalizeName(dbName)
	text := normalizeName(ocrText)

	var words []string
	for _, w := range strings.Fields(name) {
		if len(w) >= 3 {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return true
	}

	matched := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			matched++
		}
	}
	return float64(matched)/float64(len(words)) >= nameOverlapRatio
}

func normalizeName(s string) string {
	decomposed := norm.NFKD.String(strings.ToLower(s))
	var b strings.Builder
	for _, r := range decomposed {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
