package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/cardscan/internal/models"
)

func record(mutate func(*models.PrintingRecord)) models.PrintingRecord {
	rec := models.PrintingRecord{
		PrintingID:      uuid.NewString(),
		OracleID:        uuid.NewString(),
		Name:            "Lightning Bolt",
		SetCode:         "M11",
		CollectorNumber: "149",
		ImageURL:        "https://cards.example/bolt.jpg",
		ReleasedAt:      time.Date(2010, 7, 16, 0, 0, 0, 0, time.UTC),
		SetType:         "core",
	}
	if mutate != nil {
		mutate(&rec)
	}
	return rec
}

func TestValidRecordAccepts(t *testing.T) {
	rec := record(nil)
	parsed, ok := validRecord(rec)
	require.True(t, ok)
	assert.Equal(t, rec.PrintingID, parsed.printingID.String())
	assert.Equal(t, rec.OracleID, parsed.oracleID.String())
	assert.Equal(t, rec, parsed.rec)
}

func TestValidRecordSkips(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.PrintingRecord)
	}{
		{"bad printing id", func(r *models.PrintingRecord) { r.PrintingID = "not-a-uuid" }},
		{"bad oracle id", func(r *models.PrintingRecord) { r.OracleID = "" }},
		{"missing name", func(r *models.PrintingRecord) { r.Name = "" }},
		{"no image source", func(r *models.PrintingRecord) { r.ImageURL = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := validRecord(record(tc.mutate))
			assert.False(t, ok)
		})
	}
}
