// Package neo4j implements the graph.Store contract over the Neo4j bolt
// protocol.
package neo4j

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
	"github.com/rs/zerolog/log"

	"github.com/graphmem/graphmem/internal/graph"
)

// Config holds connection settings for a Neo4j backend.
type Config struct {
	URI      string // e.g. bolt://localhost:7687
	Username string
	Password string
	Database string // empty means the server default
}

// Client is a Neo4j-backed graph.Store. Sessions are opened per call; the
// underlying driver pools connections.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewClient connects to the configured Neo4j server and verifies
// reachability before returning.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j URI is required")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, &graph.BackendError{Op: "connect", Err: err}
	}

	log.Info().Str("uri", cfg.URI).Str("database", cfg.Database).Msg("Connected to Neo4j")
	return &Client{driver: driver, database: cfg.Database}, nil
}

// RunQuery executes a parameterized Cypher query in a read session and
// materializes every record as a graph.Row.
func (c *Client) RunQuery(ctx context.Context, query string, params map[string]any) ([]graph.Row, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, &graph.BackendError{Op: "query", Err: err}
	}

	var rows []graph.Row
	for result.Next(ctx) {
		record := result.Record()
		row := make(graph.Row, len(record.Keys))
		for _, key := range record.Keys {
			value, _ := record.Get(key)
			row[key] = normalizeValue(value)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, &graph.BackendError{Op: "query", Err: err}
	}
	return rows, nil
}

// VectorQuery runs an ANN lookup against a native Neo4j vector index via
// db.index.vector.queryNodes.
func (c *Client) VectorQuery(ctx context.Context, index string, k int, vector []float32) ([]graph.ScoredNode, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.database,
	})
	defer session.Close(ctx)

	// The driver expects float64 parameters for LIST<FLOAT>.
	embedding := make([]float64, len(vector))
	for i, v := range vector {
		embedding[i] = float64(v)
	}

	result, err := session.Run(ctx,
		`CALL db.index.vector.queryNodes($index, $k, $embedding)
		 YIELD node, score
		 RETURN node, score`,
		map[string]any{
			"index":     index,
			"k":         k,
			"embedding": embedding,
		})
	if err != nil {
		return nil, &graph.BackendError{Op: "vector query", Err: err}
	}

	var hits []graph.ScoredNode
	for result.Next(ctx) {
		record := result.Record()
		nodeValue, _ := record.Get("node")
		scoreValue, _ := record.Get("score")

		node, ok := nodeValue.(dbtype.Node)
		if !ok {
			continue
		}
		score, _ := scoreValue.(float64)

		props := make(map[string]any, len(node.Props))
		for k, v := range node.Props {
			props[k] = normalizeValue(v)
		}
		hits = append(hits, graph.ScoredNode{
			Node:  graph.Node{Labels: node.Labels, Props: props},
			Score: score,
		})
	}
	if err := result.Err(); err != nil {
		return nil, &graph.BackendError{Op: "vector query", Err: err}
	}
	return hits, nil
}

// Ping verifies the server is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return &graph.BackendError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the driver's connection pool.
func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// normalizeValue maps driver-specific types onto the plain values the rest
// of the code works with.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case dbtype.Node:
		props := make(map[string]any, len(x.Props))
		for k, pv := range x.Props {
			props[k] = normalizeValue(pv)
		}
		return props
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// Compile-time check: Client must satisfy graph.Store.
var _ graph.Store = (*Client)(nil)
