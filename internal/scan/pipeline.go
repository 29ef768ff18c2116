package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/cardscan/internal/models"
	"github.com/your-org/cardscan/internal/observability"
)

// Detector produces the canonical 488x680 crop of a card photograph.
type Detector interface {
	DetectAndCrop(raw []byte) []byte
}

// Embedder computes the art embedding of a canonical card image.
type Embedder interface {
	Embed(canonical []byte) ([]float32, bool)
}

// TitleReader reads the card name from a canonical card image.
type TitleReader interface {
	ReadTitle(canonical []byte) models.OcrResult
}

// Store is the catalog lookup surface the pipeline needs.
type Store interface {
	FindClosest(ctx context.Context, query []float32, topK int) ([]models.VectorSearchResult, error)
	FindByName(ctx context.Context, name string) (*models.VectorSearchResult, error)
}

// SnapshotStore archives canonical crops. Optional.
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// EventPublisher emits scan events to the queue. Optional.
type EventPublisher interface {
	PublishScan(ctx context.Context, ev models.ScanEvent) error
}

// Options tune the pipeline's retrieval stage.
type Options struct {
	// OCRInjectThreshold is the minimum OCR score for a by-name lookup.
	// It is deliberately lower than the fuser's veto threshold: a merely
	// plausible read is enough to attempt a lookup.
	OCRInjectThreshold float64
	TopK               int
}

func DefaultOptions() Options {
	return Options{OCRInjectThreshold: 0.70, TopK: 10}
}

// Pipeline orchestrates one identification:
// detect -> (embed || read title) -> retrieve -> fuse.
type Pipeline struct {
	detector  Detector
	embedder  Embedder
	titles    TitleReader
	store     Store
	fuser     *Fuser
	snapshots SnapshotStore
	events    EventPublisher
	opts      Options
}

func NewPipeline(detector Detector, embedder Embedder, titles TitleReader, store Store, fuser *Fuser, opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = DefaultOptions().TopK
	}
	if opts.OCRInjectThreshold <= 0 {
		opts.OCRInjectThreshold = DefaultOptions().OCRInjectThreshold
	}
	return &Pipeline{
		detector: detector,
		embedder: embedder,
		titles:   titles,
		store:    store,
		fuser:    fuser,
		opts:     opts,
	}
}

// WithSnapshots archives the canonical crop of every identification.
func (p *Pipeline) WithSnapshots(s SnapshotStore) *Pipeline {
	p.snapshots = s
	return p
}

// WithEvents publishes a scan event after every identification.
func (p *Pipeline) WithEvents(e EventPublisher) *Pipeline {
	p.events = e
	return p
}

// Identify runs the full pipeline on raw image bytes. previousAttempt is the
// client's attempt counter; the verdict carries previousAttempt+1. Extractor
// failures degrade to missing data; only storage errors abort.
func (p *Pipeline) Identify(ctx context.Context, raw []byte, previousAttempt int) (models.ScanVerdict, error) {
	attempt := previousAttempt + 1
	started := time.Now()

	stage := time.Now()
	canonical := p.detector.DetectAndCrop(raw)
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(stage).Seconds())

	// Embedding and OCR are independent CPU jobs; run them on their own
	// goroutines and join.
	var (
		wg        sync.WaitGroup
		embedding []float32
		embedOK   bool
		ocr       models.OcrResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		t := time.Now()
		embedding, embedOK = p.embedder.Embed(canonical)
		observability.StageDuration.WithLabelValues("embed").Observe(time.Since(t).Seconds())
	}()
	go func() {
		defer wg.Done()
		t := time.Now()
		ocr = p.titles.ReadTitle(canonical)
		observability.StageDuration.WithLabelValues("ocr").Observe(time.Since(t).Seconds())
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return models.ScanVerdict{}, err
	}

	var hits []models.VectorSearchResult
	if embedOK {
		stage = time.Now()
		var err error
		hits, err = p.store.FindClosest(ctx, embedding, p.opts.TopK)
		observability.StageDuration.WithLabelValues("search").Observe(time.Since(stage).Seconds())
		if err != nil {
			return models.ScanVerdict{}, err
		}
	}

	// OCR injection: a plausible title read becomes a distance-zero hit at
	// the head of the list, so the fuser sees it as ordinary vector input.
	if ocr.Title != "" && ocr.Score >= p.opts.OCRInjectThreshold {
		byName, err := p.store.FindByName(ctx, ocr.Title)
		if err != nil {
			return models.ScanVerdict{}, err
		}
		if byName != nil {
			injected := *byName
			injected.Distance = 0
			hits = append([]models.VectorSearchResult{injected}, hits...)
		}
	}

	stage = time.Now()
	verdict := p.fuser.Decide(hits, ocr, attempt)
	observability.StageDuration.WithLabelValues("fuse").Observe(time.Since(stage).Seconds())

	observability.ScansTotal.WithLabelValues(string(verdict.Status)).Inc()
	p.emit(ctx, verdict, canonical, time.Since(started))

	return verdict, nil
}

// emit archives the canonical crop and publishes the scan event.
// Both are best-effort: a full archive or a flaky queue must not fail a scan.
func (p *Pipeline) emit(ctx context.Context, verdict models.ScanVerdict, canonical []byte, elapsed time.Duration) {
	if p.snapshots == nil && p.events == nil {
		return
	}

	scanID := uuid.New()
	var snapshotKey string
	if p.snapshots != nil {
		snapshotKey = "scans/" + scanID.String() + ".jpg"
		if err := p.snapshots.PutObject(ctx, snapshotKey, canonical, "image/jpeg"); err != nil {
			slog.Warn("archive scan snapshot", "error", err, "scan_id", scanID)
			snapshotKey = ""
		}
	}

	if p.events != nil {
		ev := models.ScanEvent{
			ScanID:           scanID,
			Status:           verdict.Status,
			Confidence:       verdict.Confidence,
			ConfidenceScore:  verdict.ConfidenceScore,
			DetectionMethod:  verdict.DetectionMethod,
			Attempt:          verdict.Attempt,
			Card:             verdict.Card,
			SnapshotKey:      snapshotKey,
			ProcessingTimeMs: elapsed.Milliseconds(),
			Timestamp:        time.Now().UTC(),
		}
		if err := p.events.PublishScan(ctx, ev); err != nil {
			slog.Warn("publish scan event", "error", err, "scan_id", scanID)
		}
	}
}
