package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/cardscan/internal/config"
	"github.com/your-org/cardscan/internal/models"
)

func TestReconcilerCycleSeedsOnlyMissingPlayableSets(t *testing.T) {
	var mu sync.Mutex
	var searched []string

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sets":
			fmt.Fprint(w, `{"data":[
				{"code":"neo","set_type":"expansion"},
				{"code":"m11","set_type":"core"},
				{"code":"tneo","set_type":"token"},
				{"code":"slp","set_type":"memorabilia"}
			]}`)
		case strings.HasPrefix(r.URL.Path, "/cards/search"):
			mu.Lock()
			searched = append(searched, r.URL.Query().Get("q"))
			mu.Unlock()
			fmt.Fprint(w, `{"data":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	store := newMemStore()
	// m11 is already present; neo is the only playable missing set.
	require.NoError(t, store.UpsertPrintings(context.Background(), []models.PrintingRecord{{
		PrintingID: "00000000-0000-0000-0000-000000000001",
		OracleID:   "10000000-0000-0000-0000-000000000001",
		Name:       "Card 1",
		SetCode:    "M11",
		ImageURL:   "https://cards.example/1.jpg",
	}}))

	client := newTestClient(srv.URL)
	ingestor := NewIngestor(client, store, passDetector{}, fixedEmbedder{})
	rec := NewReconciler(client, store, ingestor, config.ReconcilerConfig{
		IgnoredSetTypes: []string{"memorabilia", "token", "minigame", "funny"},
	})

	rec.cycle(context.Background())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"e:neo"}, searched)
}

func TestReconcilerCycleStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"code":"neo","set_type":"expansion"}]}`)
	}))
	defer srv.Close()

	store := newMemStore()
	client := newTestClient(srv.URL)
	ingestor := NewIngestor(client, store, passDetector{}, fixedEmbedder{})
	rec := NewReconciler(client, store, ingestor, config.ReconcilerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec.cycle(ctx) // must return promptly without panicking
}
