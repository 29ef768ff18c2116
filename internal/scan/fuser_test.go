package scan

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/cardscan/internal/models"
)

func hit(name, set, num string, distance float64) models.VectorSearchResult {
	return models.VectorSearchResult{
		OracleID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte("oracle:"+name)),
		PrintingID:      uuid.NewSHA1(uuid.NameSpaceOID, []byte("printing:"+name+set+num)),
		Name:            name,
		SetCode:         set,
		CollectorNumber: num,
		ReleasedAt:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Distance:        distance,
	}
}

func TestDecideBothSignalsAbsent(t *testing.T) {
	f := NewFuser(DefaultThresholds())

	for _, attempt := range []int{1, 2, 3, 7} {
		v := f.Decide(nil, models.OcrResult{}, attempt)
		assert.Equal(t, models.StatusNotFound, v.Status)
		assert.Equal(t, models.ConfidenceLow, v.Confidence)
		assert.Equal(t, models.MethodNone, v.DetectionMethod)
		assert.Nil(t, v.Card)
		assert.Zero(t, v.ConfidenceScore)
		assert.Equal(t, attempt, v.Attempt)
	}
}

func TestDecideOCROnly(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	ocr := models.OcrResult{Title: "Lightning Bolt", Score: 0.8}

	v := f.Decide(nil, ocr, 1)
	assert.Equal(t, models.StatusRescanRequired, v.Status)

	v = f.Decide(nil, ocr, 3)
	assert.Equal(t, models.StatusAmbiguous, v.Status)
	assert.Equal(t, models.MethodOCR, v.DetectionMethod)
	assert.Nil(t, v.Card)
}

func TestDecideExactNameInjection(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	hits := []models.VectorSearchResult{
		hit("Lightning Bolt", "M11", "149", 0),
		hit("Shock", "M11", "160", 0.25),
	}

	v := f.Decide(hits, models.OcrResult{Title: "Lightning Bolt", Score: 0.88}, 1)
	require.Equal(t, models.StatusConfirmed, v.Status)
	assert.Equal(t, models.ConfidenceHigh, v.Confidence)
	assert.Equal(t, models.MethodOCRVector, v.DetectionMethod)
	require.NotNil(t, v.Card)
	assert.Equal(t, "Lightning Bolt", v.Card.Name)
	assert.Equal(t, 1.0, v.ConfidenceScore)
	require.Len(t, v.Alternatives, 1)
	assert.Equal(t, "Shock", v.Alternatives[0].Name)
}

func TestDecideConfidentVector(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	hits := []models.VectorSearchResult{hit("Lightning Bolt", "M11", "149", 0.05)}

	v := f.Decide(hits, models.OcrResult{}, 1)
	require.Equal(t, models.StatusConfirmed, v.Status)
	assert.Equal(t, models.ConfidenceHigh, v.Confidence)
	assert.Equal(t, models.MethodVector, v.DetectionMethod)
	require.NotNil(t, v.Card)
	assert.Equal(t, "M11", v.Card.SetCode)
	assert.Equal(t, "149", v.Card.CollectorNumber)
	assert.Empty(t, v.Alternatives)
	assert.Equal(t, 0.95, v.ConfidenceScore)

	// An agreeing OCR upgrades the reported method.
	v = f.Decide(hits, models.OcrResult{Title: "Lightning Bolt", Score: 0.6}, 1)
	assert.Equal(t, models.MethodOCRVector, v.DetectionMethod)
}

func TestDecideHighBoundary(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	const eps = 1e-6

	v := f.Decide([]models.VectorSearchResult{hit("A", "S", "1", 0.30-eps)}, models.OcrResult{}, 1)
	assert.Equal(t, models.StatusConfirmed, v.Status)
	assert.Equal(t, models.ConfidenceHigh, v.Confidence)

	v = f.Decide([]models.VectorSearchResult{hit("A", "S", "1", 0.30+eps)}, models.OcrResult{}, 1)
	assert.Equal(t, models.StatusConfirmed, v.Status)
	assert.Equal(t, models.ConfidenceMedium, v.Confidence)
}

func TestDecideOCRVeto(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	hits := []models.VectorSearchResult{hit("Llanowar Elves", "M12", "182", 0.36)}
	ocr := models.OcrResult{Title: "Forest", Score: 0.95}

	v := f.Decide(hits, ocr, 1)
	assert.Equal(t, models.StatusRescanRequired, v.Status)
	assert.Equal(t, models.MethodDivergent, v.DetectionMethod)
	assert.Nil(t, v.Card)

	v = f.Decide(hits, ocr, 3)
	require.Equal(t, models.StatusAmbiguous, v.Status)
	assert.Equal(t, models.MethodVector, v.DetectionMethod)
	require.NotNil(t, v.Card)
	assert.Equal(t, "Llanowar Elves", v.Card.Name)
}

func TestDecideVetoBoundary(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	const eps = 1e-6
	// Just inside the good-vector band with a confident, non-overlapping OCR.
	hits := []models.VectorSearchResult{hit("Llanowar Elves", "M12", "182", 0.42-eps)}
	ocr := models.OcrResult{Title: "Counterspell", Score: 0.91}

	v := f.Decide(hits, ocr, 1)
	assert.Equal(t, models.StatusRescanRequired, v.Status)

	v = f.Decide(hits, ocr, 3)
	assert.Equal(t, models.StatusAmbiguous, v.Status)
}

func TestDecideVetoRequiresConfidentOCR(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	hits := []models.VectorSearchResult{hit("Llanowar Elves", "M12", "182", 0.36)}

	// Below OCR_BLOCK the mismatching title cannot veto.
	v := f.Decide(hits, models.OcrResult{Title: "Forest", Score: 0.85}, 1)
	assert.Equal(t, models.StatusConfirmed, v.Status)
	assert.Equal(t, models.ConfidenceMedium, v.Confidence)
}

func TestDecideHardReject(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	hits := []models.VectorSearchResult{hit("A", "S", "1", 0.60)}

	v := f.Decide(hits, models.OcrResult{}, 1)
	assert.Equal(t, models.StatusRescanRequired, v.Status)
	assert.Nil(t, v.Card)

	v = f.Decide(hits, models.OcrResult{}, 3)
	assert.Equal(t, models.StatusNotFound, v.Status)
	assert.Nil(t, v.Card)
}

func TestDecideSuspectBand(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	hits := []models.VectorSearchResult{hit("A", "S", "1", 0.47), hit("B", "S", "2", 0.49)}

	v := f.Decide(hits, models.OcrResult{}, 2)
	assert.Equal(t, models.StatusRescanRequired, v.Status)

	v = f.Decide(hits, models.OcrResult{}, 3)
	require.Equal(t, models.StatusAmbiguous, v.Status)
	require.NotNil(t, v.Card)
	assert.Equal(t, "A", v.Card.Name)
	require.Len(t, v.Alternatives, 1)
}

func TestDecideDeterministic(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	hits := []models.VectorSearchResult{hit("A", "S", "1", 0.31), hit("B", "S", "2", 0.4)}
	ocr := models.OcrResult{Title: "A", Score: 0.75}

	first := f.Decide(hits, ocr, 2)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, f.Decide(hits, ocr, 2))
	}
}

// The chosen card is always one of the inputs: the fuser never fabricates
// a printing.
func TestDecideCardComesFromInputs(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	distances := []float64{0, 0.1, 0.35, 0.45, 0.6}
	for _, d := range distances {
		for attempt := 1; attempt <= 3; attempt++ {
			hits := []models.VectorSearchResult{hit("X", "S", "1", d), hit("Y", "S", "2", d+0.01)}
			v := f.Decide(hits, models.OcrResult{Title: "Z", Score: 0.95}, attempt)
			if v.Card != nil {
				names := map[string]bool{"X": true, "Y": true}
				assert.True(t, names[v.Card.Name], "card %q not among inputs (dist=%v attempt=%d)", v.Card.Name, d, attempt)
			}
		}
	}
}

// At the attempt limit every verdict is terminal.
func TestDecideTerminalAtMaxAttempts(t *testing.T) {
	f := NewFuser(DefaultThresholds())
	cases := []struct {
		hits []models.VectorSearchResult
		ocr  models.OcrResult
	}{
		{nil, models.OcrResult{}},
		{nil, models.OcrResult{Title: "A", Score: 0.9}},
		{[]models.VectorSearchResult{hit("A", "S", "1", 0)}, models.OcrResult{Title: "A", Score: 0.9}},
		{[]models.VectorSearchResult{hit("A", "S", "1", 0.2)}, models.OcrResult{}},
		{[]models.VectorSearchResult{hit("A", "S", "1", 0.36)}, models.OcrResult{Title: "B unrelated name", Score: 0.95}},
		{[]models.VectorSearchResult{hit("A", "S", "1", 0.47)}, models.OcrResult{}},
		{[]models.VectorSearchResult{hit("A", "S", "1", 0.9)}, models.OcrResult{}},
	}
	for i, tc := range cases {
		v := f.Decide(tc.hits, tc.ocr, 3)
		assert.NotEqual(t, models.StatusRescanRequired, v.Status, "case %d", i)
	}
}

func TestConfidenceScoreRounding(t *testing.T) {
	assert.Equal(t, 0.6667, confidenceScore(0.33330))
	assert.Equal(t, 1.0, confidenceScore(0))
	assert.Equal(t, 0.0, confidenceScore(1.5))
}

func TestNamesOverlap(t *testing.T) {
	cases := []struct {
		dbName  string
		ocrText string
		want    bool
	}{
		{"Lightning Bolt", "Lightning Bolt", true},
		{"Lightning Bolt", "Lightnin Bol", false},    // neither word matches as substring
		{"Lightning Bolt", "xLightning Boltx", true}, // substring match is enough
		{"Llanowar Elves", "Forest", false},
		{"Forest", "Forest", true},
		{"Jace, the Mind Sculptor", "Jace the Mind Sculptor", true},
		{"Jace, the Mind Sculptor", "ace the ind culptor", false}, // 1 of 4 words
		{"Séance", "Seance", true},                                // NFKD folds the accent
		{"Ow", "anything", true},                                  // no words of length >= 3
		{"Fire // Ice", "Fire", false},                            // 1 of 2 words is below the 55% bar
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NamesOverlap(tc.dbName, tc.ocrText),
			"NamesOverlap(%q, %q)", tc.dbName, tc.ocrText)
	}
}
