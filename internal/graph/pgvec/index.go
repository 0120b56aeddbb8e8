// Package pgvec serves the community vector index from PostgreSQL+pgvector
// as an alternative to the graph database's native index.
package pgvec

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/rs/zerolog/log"

	"github.com/graphmem/graphmem/internal/graph"
)

// Config holds connection settings for the pgvector index.
type Config struct {
	DSN   string // PostgreSQL connection string
	Table string // table holding community embeddings, default "communities"
}

const defaultTable = "communities"

// Index is a pgvector-backed graph.VectorSearcher over a table shaped as
// (id, name, summary, member_count, embedding vector). The graph database
// remains the source of truth; this table is a synced read replica of the
// community embeddings.
type Index struct {
	pool  *pgxpool.Pool
	table string
}

// NewIndex connects to PostgreSQL and registers the pgvector types on every
// pooled connection.
func NewIndex(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgvector DSN is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse pgvector DSN: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &graph.BackendError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &graph.BackendError{Op: "connect", Err: err}
	}

	log.Info().Str("table", table).Msg("Community vector index served by pgvector")
	return &Index{pool: pool, table: table}, nil
}

// VectorQuery returns the k nearest communities by cosine distance. The
// index argument is accepted for interface compatibility; the table is fixed
// at construction.
func (i *Index) VectorQuery(ctx context.Context, index string, k int, vector []float32) ([]graph.ScoredNode, error) {
	if k <= 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, name, summary, member_count, embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance
		LIMIT $2`, i.table)

	rows, err := i.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, &graph.BackendError{Op: "vector query", Err: err}
	}
	defer rows.Close()

	var hits []graph.ScoredNode
	for rows.Next() {
		var (
			id          string
			name        string
			summary     string
			memberCount int64
			distance    float64
		)
		if err := rows.Scan(&id, &name, &summary, &memberCount, &distance); err != nil {
			return nil, &graph.BackendError{Op: "vector query", Err: err}
		}
		hits = append(hits, graph.ScoredNode{
			Node: graph.Node{
				Labels: []string{"Community"},
				Props: map[string]any{
					"id":          id,
					"name":        name,
					"summary":     summary,
					"memberCount": memberCount,
				},
			},
			Score: distanceToSimilarity(distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &graph.BackendError{Op: "vector query", Err: err}
	}
	return hits, nil
}

// Close releases the connection pool.
func (i *Index) Close() {
	i.pool.Close()
}

// distanceToSimilarity converts cosine distance [0,2] to similarity [0,1].
func distanceToSimilarity(distance float64) float64 {
	similarity := 1.0 - distance
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}

// Compile-time check: Index must satisfy graph.VectorSearcher.
var _ graph.VectorSearcher = (*Index)(nil)
