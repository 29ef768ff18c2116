package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/cardscan/internal/catalog"
	"github.com/your-org/cardscan/internal/models"
	"github.com/your-org/cardscan/pkg/dto"
)

// IdentifyFn runs the identification pipeline (from internal/scan).
type IdentifyFn func(ctx context.Context, raw []byte, previousAttempt int) (models.ScanVerdict, error)

// SeedFn seeds one set from the upstream catalog (from internal/catalog).
type SeedFn func(ctx context.Context, setCode string) (catalog.SeedResult, error)

// SnapshotFetcher retrieves archived scan snapshots.
type SnapshotFetcher interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

type ScannerHandler struct {
	// Identify is nil when the vision pipeline failed to initialise.
	Identify IdentifyFn
	Seed     SeedFn

	snapshots      SnapshotFetcher
	maxUploadBytes int64
}

func NewScannerHandler(identify IdentifyFn, seed SeedFn, snapshots SnapshotFetcher, maxUploadBytes int64) *ScannerHandler {
	return &ScannerHandler{
		Identify:       identify,
		Seed:           seed,
		snapshots:      snapshots,
		maxUploadBytes: maxUploadBytes,
	}
}

// IdentifyCard handles POST /scanner/identify: multipart field "file" with
// the photograph, optional query parameter "attempt".
func (h *ScannerHandler) IdentifyCard(c *gin.Context) {
	if h.Identify == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identification pipeline not initialized"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	defer file.Close()

	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !allowedContentTypes[contentType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported content type: " + contentType})
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is empty"})
		return
	}

	attempt := 0
	if v := c.Query("attempt"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			attempt = n
		}
	}

	start := time.Now()
	verdict, err := h.Identify(c.Request.Context(), raw, attempt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.IdentifyResponse{
		Status:                string(verdict.Status),
		Confidence:            string(verdict.Confidence),
		ConfidenceScore:       verdict.ConfidenceScore,
		DetectionMethod:       verdict.DetectionMethod,
		ProcessingTimeMs:      time.Since(start).Milliseconds(),
		RescanAttempt:         verdict.Attempt,
		Card:                  dto.NewCardResponse(verdict.Card),
		AlternativeCandidates: dto.NewCardResponses(verdict.Alternatives),
	})
}

// SeedSet handles GET /scanner/seed/:setCode. Idempotent.
func (h *ScannerHandler) SeedSet(c *gin.Context) {
	setCode := strings.TrimSpace(c.Param("setCode"))
	if setCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "set code is required"})
		return
	}

	res, err := h.Seed(c.Request.Context(), setCode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.SeedResponse{
		Status:              "success",
		Set:                 strings.ToUpper(setCode),
		CardsProcessed:      res.CardsProcessed,
		EmbeddingsGenerated: res.EmbeddingsGenerated,
		Message:             "set seeded",
	})
}

// Snapshot handles GET /scanner/scans/:scanId/snapshot.
func (h *ScannerHandler) Snapshot(c *gin.Context) {
	if h.snapshots == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot archive not configured"})
		return
	}
	scanID := c.Param("scanId")
	data, err := h.snapshots.GetObject(c.Request.Context(), "scans/"+scanID+".jpg")
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}
