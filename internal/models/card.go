package models

import (
	"time"

	"github.com/google/uuid"
)

// OracleCard is the abstract identity of a card, shared across printings.
type OracleCard struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Printing is one published version of an OracleCard in a specific set.
type Printing struct {
	ID                 uuid.UUID  `json:"id" db:"id"`
	OracleID           uuid.UUID  `json:"oracle_id" db:"oracle_id"`
	SetCode            string     `json:"set_code" db:"set_code"`
	CollectorNumber    string     `json:"collector_number" db:"collector_number"`
	ImageURL           string     `json:"image_url,omitempty" db:"image_url"`
	ReleasedAt         time.Time  `json:"released_at" db:"released_at"`
	SetType            string     `json:"set_type" db:"set_type"`
	IsLatestPrinting   bool       `json:"is_latest_printing" db:"is_latest_printing"`
	Embedding          []float32  `json:"-" db:"embedding"`
	EmbeddingUpdatedAt *time.Time `json:"embedding_updated_at,omitempty" db:"embedding_updated_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// PrintingRecord is one printing as extracted from an upstream catalog page,
// before validation. IDs are kept as strings so unparseable records can be
// skipped instead of failing the batch.
type PrintingRecord struct {
	PrintingID      string
	OracleID        string
	Name            string
	SetCode         string
	CollectorNumber string
	ImageURL        string
	ReleasedAt      time.Time
	SetType         string
}
