package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/cardscan/internal/config"
	"github.com/your-org/cardscan/internal/models"
)

// EmbeddingDim is the dimension of the printing embedding column.
const EmbeddingDim = 512

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const hitColumns = `p.oracle_id, p.id, o.name, p.set_code, p.collector_number,
	COALESCE(p.image_url, ''), p.released_at`

// FindClosest returns up to topK printings with a stored embedding, ordered
// by ascending cosine distance to the query vector.
func (s *PostgresStore) FindClosest(ctx context.Context, query []float32, topK int) ([]models.VectorSearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := pgvector.NewVector(query)

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, p.embedding <=> $1 AS distance
		FROM printings p
		JOIN oracle_cards o ON o.id = p.oracle_id
		WHERE p.embedding IS NOT NULL
		ORDER BY p.embedding <=> $1
		LIMIT $2`, hitColumns), vec, topK)
	if err != nil {
		return nil, fmt.Errorf("find closest: %w", err)
	}
	defer rows.Close()

	var hits []models.VectorSearchResult
	for rows.Next() {
		var h models.VectorSearchResult
		if err := rows.Scan(&h.OracleID, &h.PrintingID, &h.Name, &h.SetCode,
			&h.CollectorNumber, &h.ImageURL, &h.ReleasedAt, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// FindByName looks up an oracle card by name (case-insensitive exact match,
// then prefix match for names of at least 4 characters) and returns it paired
// with its latest printing at distance 0. Returns nil when nothing matches.
func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.VectorSearchResult, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	byNameQuery := fmt.Sprintf(`
		SELECT %s
		FROM oracle_cards o
		JOIN printings p ON p.oracle_id = o.id AND p.is_latest_printing
		WHERE lower(o.name) = lower($1)
		LIMIT 1`, hitColumns)

	h := &models.VectorSearchResult{}
	err := s.pool.QueryRow(ctx, byNameQuery, name).Scan(
		&h.OracleID, &h.PrintingID, &h.Name, &h.SetCode,
		&h.CollectorNumber, &h.ImageURL, &h.ReleasedAt)
	if err == nil {
		return h, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("find by name: %w", err)
	}
	if len(name) < 4 {
		return nil, nil
	}

	prefixQuery := fmt.Sprintf(`
		SELECT %s
		FROM oracle_cards o
		JOIN printings p ON p.oracle_id = o.id AND p.is_latest_printing
		WHERE lower(o.name) LIKE lower($1) || '%%'
		ORDER BY o.name
		LIMIT 1`, hitColumns)

	err = s.pool.QueryRow(ctx, prefixQuery, name).Scan(
		&h.OracleID, &h.PrintingID, &h.Name, &h.SetCode,
		&h.CollectorNumber, &h.ImageURL, &h.ReleasedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find by name prefix: %w", err)
	}
	return h, nil
}

// SetExists reports whether at least one printing of the given set is stored.
func (s *PostgresStore) SetExists(ctx context.Context, setCode string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM printings WHERE set_code = upper($1))`,
		setCode).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("set exists: %w", err)
	}
	return exists, nil
}

// parsedRecord is a PrintingRecord that survived validation.
type parsedRecord struct {
	printingID uuid.UUID
	oracleID   uuid.UUID
	rec        models.PrintingRecord
}

// validRecord parses and validates an upstream record. Records with
// unparseable identifiers, an empty name, or no image source are skipped.
func validRecord(rec models.PrintingRecord) (parsedRecord, bool) {
	printingID, err := uuid.Parse(rec.PrintingID)
	if err != nil {
		return parsedRecord{}, false
	}
	oracleID, err := uuid.Parse(rec.OracleID)
	if err != nil {
		return parsedRecord{}, false
	}
	if rec.Name == "" || rec.ImageURL == "" {
		return parsedRecord{}, false
	}
	return parsedRecord{printingID: printingID, oracleID: oracleID, rec: rec}, true
}

// UpsertPrintings inserts or refreshes a batch of printings and their oracle
// cards, recomputing the latest-printing flag per oracle after each record.
// Embeddings are never touched. The whole batch runs in one transaction so
// readers never observe an oracle with zero or two latest printings.
func (s *PostgresStore) UpsertPrintings(ctx context.Context, records []models.PrintingRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, raw := range records {
		pr, ok := validRecord(raw)
		if !ok {
			continue
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO oracle_cards (id, name)
			VALUES ($1, $2)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, updated_at = now()
			WHERE oracle_cards.name IS DISTINCT FROM EXCLUDED.name`,
			pr.oracleID, pr.rec.Name)
		if err != nil {
			return fmt.Errorf("upsert oracle %s: %w", pr.oracleID, err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO printings (id, oracle_id, set_code, collector_number, image_url, released_at, set_type)
			VALUES ($1, $2, upper($3), $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE
			SET set_code = EXCLUDED.set_code,
			    collector_number = EXCLUDED.collector_number,
			    image_url = EXCLUDED.image_url,
			    released_at = EXCLUDED.released_at,
			    set_type = EXCLUDED.set_type,
			    updated_at = now()
			WHERE (printings.set_code, printings.collector_number, printings.image_url,
			       printings.released_at, printings.set_type)
			      IS DISTINCT FROM
			      (EXCLUDED.set_code, EXCLUDED.collector_number, EXCLUDED.image_url,
			       EXCLUDED.released_at, EXCLUDED.set_type)`,
			pr.printingID, pr.oracleID, pr.rec.SetCode, pr.rec.CollectorNumber,
			pr.rec.ImageURL, pr.rec.ReleasedAt.UTC(), pr.rec.SetType)
		if err != nil {
			return fmt.Errorf("upsert printing %s: %w", pr.printingID, err)
		}

		_, err = tx.Exec(ctx, `
			WITH ranked AS (
				SELECT id, row_number() OVER (ORDER BY released_at DESC, id ASC) AS rn
				FROM printings
				WHERE oracle_id = $1
			)
			UPDATE printings p
			SET is_latest_printing = (ranked.rn = 1)
			FROM ranked
			WHERE p.id = ranked.id
			  AND p.is_latest_printing IS DISTINCT FROM (ranked.rn = 1)`,
			pr.oracleID)
		if err != nil {
			return fmt.Errorf("recompute latest for oracle %s: %w", pr.oracleID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// SaveEmbedding writes a printing's embedding and stamps the update time.
func (s *PostgresStore) SaveEmbedding(ctx context.Context, printingID uuid.UUID, embedding []float32) error {
	if len(embedding) != EmbeddingDim {
		return fmt.Errorf("embedding dimension %d, want %d", len(embedding), EmbeddingDim)
	}
	vec := pgvector.NewVector(embedding)
	tag, err := s.pool.Exec(ctx, `
		UPDATE printings
		SET embedding = $2, embedding_updated_at = now(), updated_at = now()
		WHERE id = $1`, printingID, vec)
	if err != nil {
		return fmt.Errorf("save embedding %s: %w", printingID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("printing %s not found", printingID)
	}
	return nil
}

// PendingEmbedding is a printing awaiting embedding generation.
type PendingEmbedding struct {
	PrintingID uuid.UUID
	ImageURL   string
}

// PrintingsWithoutEmbedding lists printings that have an image but no
// embedding yet, latest printings first. An empty setCode means all sets.
func (s *PostgresStore) PrintingsWithoutEmbedding(ctx context.Context, setCode string) ([]PendingEmbedding, error) {
	query := `
		SELECT id, image_url
		FROM printings
		WHERE embedding IS NULL AND image_url IS NOT NULL`
	args := []interface{}{}
	if setCode != "" {
		query += ` AND set_code = upper($1)`
		args = append(args, setCode)
	}
	query += ` ORDER BY is_latest_printing DESC, released_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("printings without embedding: %w", err)
	}
	defer rows.Close()

	var pending []PendingEmbedding
	for rows.Next() {
		var p PendingEmbedding
		if err := rows.Scan(&p.PrintingID, &p.ImageURL); err != nil {
			return nil, fmt.Errorf("scan pending embedding: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
