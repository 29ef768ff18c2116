package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/cardscan/internal/catalog"
	"github.com/your-org/cardscan/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newScannerRouter(h *ScannerHandler) *gin.Engine {
	r := gin.New()
	r.POST("/scanner/identify", h.IdentifyCard)
	r.GET("/scanner/seed/:setCode", h.SeedSet)
	return r
}

func multipartImage(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func confirmedVerdict() models.ScanVerdict {
	return models.ScanVerdict{
		Status:          models.StatusConfirmed,
		Confidence:      models.ConfidenceHigh,
		ConfidenceScore: 0.95,
		DetectionMethod: models.MethodVector,
		Attempt:         1,
		Card:            &models.CardSummary{Name: "Lightning Bolt", SetCode: "M11", CollectorNumber: "149"},
	}
}

func TestIdentifySuccess(t *testing.T) {
	var gotAttempt int
	h := NewScannerHandler(
		func(_ context.Context, raw []byte, previousAttempt int) (models.ScanVerdict, error) {
			gotAttempt = previousAttempt
			return confirmedVerdict(), nil
		},
		nil, nil, 10<<20,
	)

	body, ct := multipartImage(t, "file", "card.jpg", "image/jpeg", []byte("jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/scanner/identify?attempt=2", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, gotAttempt)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp["status"])
	assert.Equal(t, "high", resp["confidence"])
	assert.Equal(t, 0.95, resp["confidenceScore"])
	assert.Equal(t, "vector", resp["detectionMethod"])
	assert.EqualValues(t, 1, resp["rescanAttempt"])
	assert.Contains(t, resp, "processingTimeMs")

	card, ok := resp["card"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Lightning Bolt", card["name"])
	assert.Equal(t, "M11", card["set_code"])
	assert.Equal(t, "149", card["collector_number"])
}

func TestIdentifyMissingFile(t *testing.T) {
	h := NewScannerHandler(
		func(context.Context, []byte, int) (models.ScanVerdict, error) {
			return confirmedVerdict(), nil
		}, nil, nil, 0)

	req := httptest.NewRequest(http.MethodPost, "/scanner/identify", nil)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentifyUnsupportedContentType(t *testing.T) {
	h := NewScannerHandler(
		func(context.Context, []byte, int) (models.ScanVerdict, error) {
			return confirmedVerdict(), nil
		}, nil, nil, 0)

	body, ct := multipartImage(t, "file", "card.tiff", "image/tiff", []byte("tiff-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/scanner/identify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentifyUploadTooLarge(t *testing.T) {
	h := NewScannerHandler(
		func(context.Context, []byte, int) (models.ScanVerdict, error) {
			return confirmedVerdict(), nil
		}, nil, nil, 16)

	body, ct := multipartImage(t, "file", "card.jpg", "image/jpeg", bytes.Repeat([]byte("x"), 64))
	req := httptest.NewRequest(http.MethodPost, "/scanner/identify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIdentifyPipelineError(t *testing.T) {
	h := NewScannerHandler(
		func(context.Context, []byte, int) (models.ScanVerdict, error) {
			return models.ScanVerdict{}, errors.New("store unavailable")
		}, nil, nil, 0)

	body, ct := multipartImage(t, "file", "card.jpg", "image/jpeg", []byte("jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/scanner/identify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestIdentifyUnavailableWithoutPipeline(t *testing.T) {
	h := NewScannerHandler(nil, nil, nil, 0)

	body, ct := multipartImage(t, "file", "card.jpg", "image/jpeg", []byte("jpeg-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/scanner/identify", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSeedSetEndpoint(t *testing.T) {
	h := NewScannerHandler(nil,
		func(_ context.Context, setCode string) (catalog.SeedResult, error) {
			assert.Equal(t, "m11", setCode)
			return catalog.SeedResult{CardsProcessed: 249, EmbeddingsGenerated: 240}, nil
		}, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/scanner/seed/m11", nil)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp["status"])
	assert.Equal(t, "M11", resp["set"])
	assert.EqualValues(t, 249, resp["cardsProcessed"])
	assert.EqualValues(t, 240, resp["embeddingsGenerated"])
}

func TestSeedSetFailure(t *testing.T) {
	h := NewScannerHandler(nil,
		func(context.Context, string) (catalog.SeedResult, error) {
			return catalog.SeedResult{}, errors.New("upstream down")
		}, nil, 0)

	req := httptest.NewRequest(http.MethodGet, "/scanner/seed/m11", nil)
	rec := httptest.NewRecorder()
	newScannerRouter(h).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
