package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/cardscan/internal/api"
	"github.com/your-org/cardscan/internal/api/handlers"
	"github.com/your-org/cardscan/internal/api/ws"
	"github.com/your-org/cardscan/internal/catalog"
	"github.com/your-org/cardscan/internal/config"
	"github.com/your-org/cardscan/internal/models"
	"github.com/your-org/cardscan/internal/observability"
	"github.com/your-org/cardscan/internal/queue"
	"github.com/your-org/cardscan/internal/scan"
	"github.com/your-org/cardscan/internal/storage"
	"github.com/your-org/cardscan/internal/vision"
	"github.com/your-org/cardscan/pkg/dto"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting cardscan API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WebSocket hub fed by the scan event stream
	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create scan consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeScans(ctx, "api-scans", func(ctx context.Context, msg jetstream.Msg) error {
		var ev models.ScanEvent
		if err := json.Unmarshal(msg.Data(), &ev); err != nil {
			return err
		}

		evtType := "scan_unresolved"
		if ev.Status == models.StatusConfirmed {
			evtType = "card_confirmed"
		}
		hub.BroadcastEvent(&dto.WSEvent{Type: evtType, Data: ev})
		return nil
	})
	if err != nil {
		slog.Warn("start scan consumer", "error", err)
	}

	// Vision stack. A failed model or OCR init leaves identification
	// unavailable (503) while seeding metadata still works.
	detector := vision.NewDetector()
	upstream := catalog.NewClient(cfg.Catalog)

	var identifyFn handlers.IdentifyFn
	var embedder *vision.Embedder

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed — identification will be unavailable", "error", err)
	} else {
		defer ort.DestroyEnvironment()

		embedder, err = newEmbedder(cfg.Vision)
		if err != nil {
			slog.Warn("embedder init failed — identification will be unavailable", "error", err)
		}
	}

	var titles *vision.TitleReader
	if embedder != nil {
		titles, err = vision.NewTitleReader(cfg.Vision.OCRDataPath)
		if err != nil {
			slog.Warn("ocr init failed — identification will be unavailable", "error", err)
			embedder.Close()
			embedder = nil
		}
	}

	if embedder != nil && titles != nil {
		defer embedder.Close()
		defer titles.Close()

		fuser := scan.NewFuser(scan.Thresholds{
			DistHigh:    cfg.Fuser.DistHigh,
			DistMed:     cfg.Fuser.DistMed,
			DistCutoff:  cfg.Fuser.DistCutoff,
			OCRBlock:    cfg.Fuser.OCRBlock,
			MaxAttempts: cfg.Fuser.MaxAttempts,
		})
		pipeline := scan.NewPipeline(detector, embedder, titles, db, fuser, scan.Options{
			OCRInjectThreshold: cfg.Pipeline.OCRInjectThreshold,
			TopK:               cfg.Pipeline.TopK,
		}).WithSnapshots(minioStore).WithEvents(producer)

		identifyFn = pipeline.Identify
		slog.Info("identification pipeline ready")
	}

	// Ingestion: shared by the seed endpoint and the reconciler. The
	// embedder may be nil, in which case seeding only upserts metadata.
	var ingEmbedder catalog.Embedder
	if embedder != nil {
		ingEmbedder = embedder
	} else {
		ingEmbedder = noEmbedder{}
	}
	ingestor := catalog.NewIngestor(upstream, db, detector, ingEmbedder).WithImageCache(minioStore)

	if cfg.Reconciler.Enabled {
		reconciler := catalog.NewReconciler(upstream, db, ingestor, cfg.Reconciler)
		go reconciler.Run(ctx)
		slog.Info("reconciler started",
			"initial_delay", cfg.Reconciler.InitialDelay,
			"interval", cfg.Reconciler.Interval)
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		Hub:        hub,
		IdentifyFn: identifyFn,
		SeedFn:     ingestor.SeedSet,
		Snapshots:  minioStore,
		Checks: map[string]handlers.Pinger{
			"postgres": db.Ping,
			"minio":    minioStore.Ping,
			"nats":     func(context.Context) error { return producer.Ping() },
		},
		MaxUploadBytes: cfg.Pipeline.MaxUploadBytes,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

func newEmbedder(cfg config.VisionConfig) (*vision.Embedder, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			return nil, fmt.Errorf("set intra_op_threads: %w", err)
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			return nil, fmt.Errorf("set inter_op_threads: %w", err)
		}
	}

	slog.Info("loading embedding model", "path", cfg.ModelPath,
		"intra_op_threads", cfg.IntraOpThreads, "inter_op_threads", cfg.InterOpThreads)
	return vision.NewEmbedder(cfg.ModelPath, opts)
}

// noEmbedder lets metadata seeding proceed without a loaded model.
type noEmbedder struct{}

func (noEmbedder) Embed([]byte) ([]float32, bool) { return nil, false }

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
