package dto

import (
	"time"

	"github.com/your-org/cardscan/internal/models"
)

// CardResponse is the identified printing as serialized to clients.
type CardResponse struct {
	OracleID        string `json:"oracle_id"`
	Name            string `json:"name"`
	SetCode         string `json:"set_code"`
	CollectorNumber string `json:"collector_number"`
	ImageURL        string `json:"image_url,omitempty"`
	ReleasedAt      string `json:"released_at"`
}

// IdentifyResponse is the body of POST /scanner/identify.
type IdentifyResponse struct {
	Status                string         `json:"status"`
	Confidence            string         `json:"confidence"`
	ConfidenceScore       float64        `json:"confidenceScore"`
	DetectionMethod       string         `json:"detectionMethod"`
	ProcessingTimeMs      int64          `json:"processingTimeMs"`
	RescanAttempt         int            `json:"rescanAttempt"`
	Card                  *CardResponse  `json:"card"`
	AlternativeCandidates []CardResponse `json:"alternativeCandidates"`
}

// SeedResponse is the body of GET /scanner/seed/{setCode}.
type SeedResponse struct {
	Status              string `json:"status"`
	Set                 string `json:"set"`
	CardsProcessed      int    `json:"cardsProcessed"`
	EmbeddingsGenerated int    `json:"embeddingsGenerated"`
	Message             string `json:"message"`
}

// WSEvent is a WebSocket message for real-time scan delivery.
type WSEvent struct {
	Type string           `json:"type"` // card_confirmed, scan_unresolved
	Data models.ScanEvent `json:"data"`
}

// NewCardResponse converts a card summary for serialization.
func NewCardResponse(c *models.CardSummary) *CardResponse {
	if c == nil {
		return nil
	}
	return &CardResponse{
		OracleID:        c.OracleID.String(),
		Name:            c.Name,
		SetCode:         c.SetCode,
		CollectorNumber: c.CollectorNumber,
		ImageURL:        c.ImageURL,
		ReleasedAt:      c.ReleasedAt.UTC().Format(time.RFC3339),
	}
}

// NewCardResponses converts a slice of card summaries. An empty slice is
// returned (not nil) so the JSON field serializes as [].
func NewCardResponses(cards []models.CardSummary) []CardResponse {
	out := make([]CardResponse, 0, len(cards))
	for i := range cards {
		out = append(out, *NewCardResponse(&cards[i]))
	}
	return out
}
