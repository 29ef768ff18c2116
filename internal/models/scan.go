package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanStatus is the terminal state of one identification attempt.
type ScanStatus string

const (
	StatusConfirmed      ScanStatus = "confirmed"
	StatusRescanRequired ScanStatus = "rescan_required"
	StatusAmbiguous      ScanStatus = "ambiguous"
	StatusNotFound       ScanStatus = "not_found"
)

// ScanConfidence is the coarse confidence band of a verdict.
type ScanConfidence string

const (
	ConfidenceHigh   ScanConfidence = "high"
	ConfidenceMedium ScanConfidence = "medium"
	ConfidenceLow    ScanConfidence = "low"
)

// Detection methods reported in a verdict.
const (
	MethodOCRVector = "ocr+vector"
	MethodVector    = "vector"
	MethodOCR       = "ocr"
	MethodDivergent = "divergent"
	MethodNone      = "none"
)

// CardSummary is the identified printing as reported to clients.
type CardSummary struct {
	OracleID        uuid.UUID `json:"oracle_id"`
	Name            string    `json:"name"`
	SetCode         string    `json:"set_code"`
	CollectorNumber string    `json:"collector_number"`
	ImageURL        string    `json:"image_url,omitempty"`
	ReleasedAt      time.Time `json:"released_at"`
}

// VectorSearchResult is one nearest-neighbour hit from the catalog store.
// Distance is cosine distance in [0, 2]; 0 means identical direction, and
// is also used for hits injected from an exact name lookup.
type VectorSearchResult struct {
	OracleID        uuid.UUID
	PrintingID      uuid.UUID
	Name            string
	SetCode         string
	CollectorNumber string
	ImageURL        string
	ReleasedAt      time.Time
	Distance        float64
}

// Card converts a search hit to its client-facing summary.
func (r VectorSearchResult) Card() CardSummary {
	return CardSummary{
		OracleID:        r.OracleID,
		Name:            r.Name,
		SetCode:         r.SetCode,
		CollectorNumber: r.CollectorNumber,
		ImageURL:        r.ImageURL,
		ReleasedAt:      r.ReleasedAt,
	}
}

// OcrResult is the outcome of reading the title band. Title is empty when
// the read failed or fell below the confidence floor.
type OcrResult struct {
	Title string
	Score float64
}

// ScanVerdict is the fused decision for one identification attempt.
type ScanVerdict struct {
	Status          ScanStatus     `json:"status"`
	Confidence      ScanConfidence `json:"confidence"`
	ConfidenceScore float64        `json:"confidence_score"`
	DetectionMethod string         `json:"detection_method"`
	Attempt         int            `json:"attempt"`
	Card            *CardSummary   `json:"card,omitempty"`
	Alternatives    []CardSummary  `json:"alternatives,omitempty"`
}

// ScanEvent is published to the queue after each identification.
type ScanEvent struct {
	ScanID           uuid.UUID      `json:"scan_id"`
	Status           ScanStatus     `json:"status"`
	Confidence       ScanConfidence `json:"confidence"`
	ConfidenceScore  float64        `json:"confidence_score"`
	DetectionMethod  string         `json:"detection_method"`
	Attempt          int            `json:"attempt"`
	Card             *CardSummary   `json:"card,omitempty"`
	SnapshotKey      string         `json:"snapshot_key,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Timestamp        time.Time      `json:"timestamp"`
}
