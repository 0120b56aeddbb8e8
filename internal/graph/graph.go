// Package graph defines the contract to the external graph database.
// Implementations live in subpackages (neo4j, falkor, pgvec); callers only
// see parameterized Cypher rows and scored vector-index hits.
package graph

import (
	"context"
	"fmt"
)

// Row is one result row of a parameterized graph query, keyed by the
// column aliases of the RETURN clause.
type Row map[string]any

// Node is a backend-agnostic view of a graph node.
type Node struct {
	Props  map[string]any
	Labels []string
}

// ScoredNode is a vector-index hit: a node plus its similarity score.
type ScoredNode struct {
	Node  Node
	Score float64
}

// Querier runs parameterized Cypher queries. Each call is a single
// independent round trip; no cross-call ordering contract.
type Querier interface {
	RunQuery(ctx context.Context, query string, params map[string]any) ([]Row, error)
}

// VectorSearcher runs approximate nearest-neighbor lookups against a named
// vector index and returns up to k scored nodes in index order.
type VectorSearcher interface {
	VectorQuery(ctx context.Context, index string, k int, vector []float32) ([]ScoredNode, error)
}

// Store is the full query backend: Cypher plus vector lookups.
type Store interface {
	Querier
	VectorSearcher
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// SplitStore composes a Querier with a separately-hosted VectorSearcher,
// e.g. a FalkorDB/Neo4j graph paired with a pgvector community index.
type SplitStore struct {
	Graph  Store
	Vector VectorSearcher
}

// NewSplitStore returns a Store whose vector lookups are served by vec while
// all Cypher traffic still goes to g.
func NewSplitStore(g Store, vec VectorSearcher) *SplitStore {
	return &SplitStore{Graph: g, Vector: vec}
}

func (s *SplitStore) RunQuery(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	return s.Graph.RunQuery(ctx, query, params)
}

func (s *SplitStore) VectorQuery(ctx context.Context, index string, k int, vector []float32) ([]ScoredNode, error) {
	return s.Vector.VectorQuery(ctx, index, k, vector)
}

func (s *SplitStore) Ping(ctx context.Context) error {
	return s.Graph.Ping(ctx)
}

func (s *SplitStore) Close(ctx context.Context) error {
	return s.Graph.Close(ctx)
}

// AsString converts a row value to string, tolerating missing values.
func (r Row) AsString(key string) string {
	if v, ok := r[key].(string); ok {
		return v
	}
	return ""
}

// AsInt converts a row value to int64 across the numeric types the drivers
// hand back.
func (r Row) AsInt(key string) int64 {
	switch v := r[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	}
	return 0
}

// AsFloat converts a row value to float64.
func (r Row) AsFloat(key string) float64 {
	switch v := r[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// AsBool converts a row value to bool.
func (r Row) AsBool(key string) bool {
	if v, ok := r[key].(bool); ok {
		return v
	}
	return false
}

// AsStrings converts a row value holding a list into a string slice.
func (r Row) AsStrings(key string) []string {
	switch v := r[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PropString reads a string property off a node.
func (n Node) PropString(key string) string {
	if v, ok := n.Props[key].(string); ok {
		return v
	}
	return ""
}

// PropInt reads an integer property off a node.
func (n Node) PropInt(key string) int64 {
	return Row(n.Props).AsInt(key)
}

// BackendError wraps a failed round trip to the graph database so callers
// can tell a backend failure (retry-safe) from bad input (not retryable).
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("graph backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
