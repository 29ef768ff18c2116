package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/cardscan/internal/catalog"
	"github.com/your-org/cardscan/internal/config"
	"github.com/your-org/cardscan/internal/observability"
	"github.com/your-org/cardscan/internal/storage"
	"github.com/your-org/cardscan/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	sets := flag.String("sets", "", "comma-separated set codes to seed (e.g. m11,neo)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	codes := splitSets(*sets)
	if len(codes) == 0 {
		fmt.Fprintln(os.Stderr, "usage: seeder -sets m11,neo [-config configs/config.yaml]")
		os.Exit(2)
	}

	slog.Info("starting cardscan seeder", "sets", codes, "cpu_cores", runtime.NumCPU())

	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	slog.Info("loading embedding model", "path", cfg.Vision.ModelPath)
	embedder, err := vision.NewEmbedder(cfg.Vision.ModelPath, nil)
	if err != nil {
		slog.Error("load embedder", "error", err)
		os.Exit(1)
	}
	defer embedder.Close()

	upstream := catalog.NewClient(cfg.Catalog)
	ingestor := catalog.NewIngestor(upstream, db, vision.NewDetector(), embedder).
		WithImageCache(minioStore)

	// Cancel the run cleanly on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	failed := 0
	for _, code := range codes {
		res, err := ingestor.SeedSet(ctx, code)
		if err != nil {
			if ctx.Err() != nil {
				slog.Warn("seeding interrupted", "set", code)
				os.Exit(1)
			}
			slog.Error("seed set", "set", code, "error", err)
			failed++
			continue
		}
		fmt.Printf("%s: %d cards processed, %d embeddings generated\n",
			strings.ToUpper(code), res.CardsProcessed, res.EmbeddingsGenerated)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func splitSets(raw string) []string {
	var codes []string
	for _, part := range strings.Split(raw, ",") {
		if code := strings.TrimSpace(part); code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
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
