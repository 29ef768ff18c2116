package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/cardscan/internal/models"
	"github.com/your-org/cardscan/internal/observability"
	"github.com/your-org/cardscan/internal/storage"
)

// Store is the catalog persistence surface the ingestor needs.
type Store interface {
	UpsertPrintings(ctx context.Context, records []models.PrintingRecord) error
	PrintingsWithoutEmbedding(ctx context.Context, setCode string) ([]storage.PendingEmbedding, error)
	SaveEmbedding(ctx context.Context, printingID uuid.UUID, embedding []float32) error
	SetExists(ctx context.Context, setCode string) (bool, error)
}

// Detector and Embedder mirror the pipeline's extraction stages; the
// ingestor runs them over downloaded catalog images.
type Detector interface {
	DetectAndCrop(raw []byte) []byte
}

type Embedder interface {
	Embed(canonical []byte) ([]float32, bool)
}

// ImageCache keeps downloaded card faces so reconciliation re-runs skip the
// network. Optional.
type ImageCache interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// SeedResult summarises one seeding run.
type SeedResult struct {
	CardsProcessed      int
	EmbeddingsGenerated int
}

// Upstream rate-limit policy: fixed sleeps between pages and between image
// downloads. The upstream is single-tenant and the traffic bursty, so plain
// pacing beats a token bucket here.
const (
	pageDelay  = 100 * time.Millisecond
	imageDelay = 150 * time.Millisecond
)

// Ingestor pulls printings of a set from the upstream catalog, upserts them
// and backfills missing embeddings.
type Ingestor struct {
	client   *Client
	store    Store
	detector Detector
	embedder Embedder
	cache    ImageCache
}

func NewIngestor(client *Client, store Store, detector Detector, embedder Embedder) *Ingestor {
	return &Ingestor{
		client:   client,
		store:    store,
		detector: detector,
		embedder: embedder,
	}
}

// WithImageCache enables the downloaded-image cache.
func (ing *Ingestor) WithImageCache(cache ImageCache) *Ingestor {
	ing.cache = cache
	return ing
}

// SeedSet ingests every printing of a set, then generates embeddings for
// printings that lack one. Idempotent: re-running against unchanged upstream
// data is a no-op. A set unknown upstream (400/404) is a successful no-op.
func (ing *Ingestor) SeedSet(ctx context.Context, setCode string) (SeedResult, error) {
	code := strings.ToLower(strings.TrimSpace(setCode))
	var res SeedResult
	if code == "" {
		return res, fmt.Errorf("empty set code")
	}

	slog.Info("seeding set", "set", code)

	pageURL := ing.client.SearchURL(code)
	for pageURL != "" {
		page, err := ing.client.GetPage(ctx, pageURL)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) &&
				(se.StatusCode == http.StatusBadRequest || se.StatusCode == http.StatusNotFound) {
				slog.Info("set not found upstream", "set", code, "status", se.StatusCode)
				return res, nil
			}
			return res, fmt.Errorf("fetch page for %s: %w", code, err)
		}

		records := make([]models.PrintingRecord, 0, len(page.Data))
		for _, card := range page.Data {
			records = append(records, card.Record())
		}
		if err := ing.store.UpsertPrintings(ctx, records); err != nil {
			return res, fmt.Errorf("upsert %s: %w", code, err)
		}
		res.CardsProcessed += len(records)
		observability.CardsIngested.WithLabelValues(strings.ToUpper(code)).Add(float64(len(records)))

		pageURL = page.NextPage
		if pageURL != "" {
			if err := sleep(ctx, pageDelay); err != nil {
				return res, err
			}
		}
	}

	generated, err := ing.backfillEmbeddings(ctx, code)
	res.EmbeddingsGenerated = generated
	if err != nil {
		return res, err
	}

	slog.Info("set seeded", "set", code,
		"cards_processed", res.CardsProcessed,
		"embeddings_generated", res.EmbeddingsGenerated)
	return res, nil
}

// backfillEmbeddings processes every printing of the set that has an image
// but no embedding, latest printings first. Failures on a single printing
// are isolated: log and move on.
func (ing *Ingestor) backfillEmbeddings(ctx context.Context, setCode string) (int, error) {
	pending, err := ing.store.PrintingsWithoutEmbedding(ctx, setCode)
	if err != nil {
		return 0, fmt.Errorf("list pending embeddings: %w", err)
	}

	generated := 0
	for i, p := range pending {
		if err := ctx.Err(); err != nil {
			return generated, err
		}
		if i > 0 {
			if err := sleep(ctx, imageDelay); err != nil {
				return generated, err
			}
		}

		data, err := ing.fetchImage(ctx, p)
		if err != nil {
			slog.Warn("fetch card image", "printing_id", p.PrintingID, "error", err)
			continue
		}

		canonical := ing.detector.DetectAndCrop(data)
		vec, ok := ing.embedder.Embed(canonical)
		if !ok {
			slog.Warn("embed card image", "printing_id", p.PrintingID)
			continue
		}

		if err := ing.store.SaveEmbedding(ctx, p.PrintingID, vec); err != nil {
			slog.Warn("save embedding", "printing_id", p.PrintingID, "error", err)
			continue
		}
		generated++
		observability.EmbeddingsGenerated.WithLabelValues(strings.ToUpper(setCode)).Inc()
	}
	return generated, nil
}

func (ing *Ingestor) fetchImage(ctx context.Context, p storage.PendingEmbedding) ([]byte, error) {
	cacheKey := "cards/" + p.PrintingID.String() + ".jpg"
	if ing.cache != nil {
		if data, err := ing.cache.GetObject(ctx, cacheKey); err == nil && len(data) > 0 {
			return data, nil
		}
	}

	data, err := ing.client.FetchImage(ctx, p.ImageURL)
	if err != nil {
		return nil, err
	}
	if ing.cache != nil {
		if err := ing.cache.PutObject(ctx, cacheKey, data, "image/jpeg"); err != nil {
			slog.Warn("cache card image", "printing_id", p.PrintingID, "error", err)
		}
	}
	return data, nil
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
