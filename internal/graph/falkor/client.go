// Package falkor implements the graph.Store contract over FalkorDB, a
// Cypher-compatible graph database spoken over the Redis protocol. The
// client library predates the FalkorDB rename and still identifies itself
// as redisgraph; the wire protocol is the same.
package falkor

import (
	"context"
	"fmt"
	"time"

	rg "github.com/falkordb/falkordb-go"
	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"

	"github.com/graphmem/graphmem/internal/graph"
)

const (
	dialTimeout = 5 * time.Second
	maxIdle     = 3
	idleTimeout = 240 * time.Second
)

// Config holds connection settings for a FalkorDB backend.
type Config struct {
	Addr     string // host:port of the FalkorDB server
	Username string
	Password string
	Graph    string // graph key to select
}

// Client is a FalkorDB-backed graph.Store. Connections come from a redigo
// pool; the graph handle is rebound to a fresh connection per call because
// the client library ties each handle to a single connection.
type Client struct {
	pool *redis.Pool
	name string
}

// NewClient builds the connection pool and verifies the server answers a
// trivial query before returning.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("falkordb address is required")
	}
	if cfg.Graph == "" {
		return nil, fmt.Errorf("falkordb graph name is required")
	}

	pool := &redis.Pool{
		MaxIdle:     maxIdle,
		IdleTimeout: idleTimeout,
		Dial: func() (redis.Conn, error) {
			opts := []redis.DialOption{redis.DialConnectTimeout(dialTimeout)}
			if cfg.Username != "" {
				opts = append(opts, redis.DialUsername(cfg.Username))
			}
			if cfg.Password != "" {
				opts = append(opts, redis.DialPassword(cfg.Password))
			}
			return redis.Dial("tcp", cfg.Addr, opts...)
		},
	}

	c := &Client{pool: pool, name: cfg.Graph}
	if err := c.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().Str("addr", cfg.Addr).Str("graph", cfg.Graph).Msg("Connected to FalkorDB")
	return c, nil
}

// RunQuery executes a parameterized Cypher query and materializes every
// record as a graph.Row.
func (c *Client) RunQuery(ctx context.Context, query string, params map[string]any) ([]graph.Row, error) {
	result, err := c.run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	var rows []graph.Row
	for result.Next() {
		record := result.Record()
		keys := record.Keys()
		row := make(graph.Row, len(keys))
		for i, key := range keys {
			row[key] = normalizeValue(record.GetByIndex(i))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// VectorQuery runs an ANN lookup against a FalkorDB vector index via
// db.idx.vector.queryNodes.
func (c *Client) VectorQuery(ctx context.Context, index string, k int, vector []float32) ([]graph.ScoredNode, error) {
	embedding := make([]any, len(vector))
	for i, v := range vector {
		embedding[i] = float64(v)
	}

	// FalkorDB addresses vector indexes by label and attribute; the index
	// name is "<Label>.<attribute>".
	label, attribute := splitIndexName(index)
	result, err := c.run(ctx,
		`CALL db.idx.vector.queryNodes($label, $attribute, $k, vecf32($embedding))
		 YIELD node, score
		 RETURN node, score`,
		map[string]any{
			"label":     label,
			"attribute": attribute,
			"k":         k,
			"embedding": embedding,
		})
	if err != nil {
		return nil, err
	}

	var hits []graph.ScoredNode
	for result.Next() {
		record := result.Record()
		node, ok := record.GetByIndex(0).(*rg.Node)
		if !ok {
			continue
		}
		score := graph.Row{"s": record.GetByIndex(1)}.AsFloat("s")
		hits = append(hits, graph.ScoredNode{Node: asNode(node), Score: score})
	}
	return hits, nil
}

// run draws a connection, binds a graph handle to it, and executes one
// query. Results are fully materialized by the library, so the connection
// can be returned to the pool on exit.
func (c *Client) run(ctx context.Context, query string, params map[string]any) (*rg.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn := c.pool.Get()
	defer conn.Close()
	g := rg.GraphNew(c.name, conn)

	var (
		result *rg.QueryResult
		err    error
	)
	if len(params) == 0 {
		result, err = g.Query(query)
	} else {
		result, err = g.ParameterizedQuery(query, toParams(params))
	}
	if err != nil {
		return nil, &graph.BackendError{Op: "query", Err: err}
	}
	return result, nil
}

// Ping checks liveness with a trivial read query.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.RunQuery(ctx, "RETURN 1", nil)
	return err
}

// Close releases the connection pool.
func (c *Client) Close(ctx context.Context) error {
	return c.pool.Close()
}

// splitIndexName splits "Community.embedding" into label and attribute,
// defaulting the attribute to "embedding".
func splitIndexName(index string) (string, string) {
	for i := 0; i < len(index); i++ {
		if index[i] == '.' {
			return index[:i], index[i+1:]
		}
	}
	return index, "embedding"
}

// toParams widens typed slices to the []any shape the client library knows
// how to serialize into a CYPHER params header.
func toParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for key, value := range params {
		switch x := value.(type) {
		case []string:
			s := make([]any, len(x))
			for i, item := range x {
				s[i] = item
			}
			out[key] = s
		case []float64:
			s := make([]any, len(x))
			for i, item := range x {
				s[i] = item
			}
			out[key] = s
		case []float32:
			s := make([]any, len(x))
			for i, item := range x {
				s[i] = float64(item)
			}
			out[key] = s
		default:
			out[key] = value
		}
	}
	return out
}

// asNode maps a client node onto the backend-agnostic shape. The library
// carries a single label per node.
func asNode(n *rg.Node) graph.Node {
	props := make(map[string]any, len(n.Properties))
	for k, v := range n.Properties {
		props[k] = normalizeValue(v)
	}
	var labels []string
	if n.Label != "" {
		labels = []string{n.Label}
	}
	return graph.Node{Labels: labels, Props: props}
}

// normalizeValue maps client-specific types onto plain values.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case *rg.Node:
		return asNode(x).Props
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
