package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/cardscan/internal/api/handlers"
	"github.com/your-org/cardscan/internal/api/ws"
	"github.com/your-org/cardscan/internal/auth"
)

type RouterConfig struct {
	APIKey string
	Hub    *ws.Hub

	// IdentifyFn runs the identification pipeline; nil when the vision
	// stack failed to initialise (identify responds 503).
	IdentifyFn handlers.IdentifyFn
	// SeedFn seeds a set from the upstream catalog.
	SeedFn handlers.SeedFn
	// Snapshots serves archived canonical crops; may be nil.
	Snapshots handlers.SnapshotFetcher
	// Checks are the named readiness probes.
	Checks map[string]handlers.Pinger

	MaxUploadBytes int64
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Scanner endpoints (with auth)
	scannerH := handlers.NewScannerHandler(cfg.IdentifyFn, cfg.SeedFn, cfg.Snapshots, cfg.MaxUploadBytes)

	scanner := r.Group("/scanner")
	scanner.Use(auth.APIKeyMiddleware(cfg.APIKey))
	scanner.POST("/identify", scannerH.IdentifyCard)
	scanner.GET("/seed/:setCode", scannerH.SeedSet)
	scanner.GET("/scans/:scanId/snapshot", scannerH.Snapshot)
	if cfg.Hub != nil {
		scanner.GET("/ws", cfg.Hub.HandleWS)
	}

	return r
}
