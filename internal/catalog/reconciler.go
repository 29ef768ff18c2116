package catalog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/your-org/cardscan/internal/config"
	"github.com/your-org/cardscan/internal/observability"
)

// Pause between consecutive set seedings within a cycle. Sets are always
// seeded sequentially to respect upstream rate limits.
const interSetDelay = 2 * time.Second

// Reconciler periodically discovers sets the catalog does not have yet and
// seeds them. One instance runs as a background task for the process
// lifetime; it honours context cancellation at every wait.
type Reconciler struct {
	client   *Client
	store    Store
	ingestor *Ingestor
	cfg      config.ReconcilerConfig
}

func NewReconciler(client *Client, store Store, ingestor *Ingestor, cfg config.ReconcilerConfig) *Reconciler {
	return &Reconciler{
		client:   client,
		store:    store,
		ingestor: ingestor,
		cfg:      cfg,
	}
}

// Run blocks until ctx is cancelled. The initial grace period lets the
// process settle before the first upstream call.
func (r *Reconciler) Run(ctx context.Context) {
	if err := sleep(ctx, r.cfg.InitialDelay); err != nil {
		return
	}

	for {
		r.cycle(ctx)
		observability.ReconcilerCycles.Inc()

		if err := sleep(ctx, r.cfg.Interval); err != nil {
			return
		}
	}
}

func (r *Reconciler) cycle(ctx context.Context) {
	sets, err := r.client.ListSets(ctx)
	if err != nil {
		slog.Warn("reconciler: list upstream sets", "error", err)
		return
	}

	ignored := make(map[string]bool, len(r.cfg.IgnoredSetTypes))
	for _, t := range r.cfg.IgnoredSetTypes {
		ignored[t] = true
	}

	var missing []string
	for _, s := range sets {
		if ctx.Err() != nil {
			return
		}
		if ignored[s.SetType] {
			continue
		}
		code := strings.ToLower(s.Code)
		exists, err := r.store.SetExists(ctx, code)
		if err != nil {
			slog.Warn("reconciler: set exists check", "set", code, "error", err)
			continue
		}
		if !exists {
			missing = append(missing, code)
		}
	}

	if len(missing) == 0 {
		slog.Info("reconciler: catalog up to date", "upstream_sets", len(sets))
		return
	}
	slog.Info("reconciler: seeding missing sets", "count", len(missing))

	// One failing set must not abort the others.
	for _, code := range missing {
		if _, err := r.ingestor.SeedSet(ctx, code); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("reconciler: seed set", "set", code, "error", err)
		}
		if err := sleep(ctx, interSetDelay); err != nil {
			return
		}
	}
}
