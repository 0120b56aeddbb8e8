package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/graphmem/graphmem/internal/graph"
	"github.com/graphmem/graphmem/internal/search"
)

// RegisterSearchTools wires the retrieval tools into a registry.
func RegisterSearchTools(r *Registry, global *search.GlobalEngine, local *search.LocalEngine, store graph.Querier) {
	r.Register(globalSearchTool(global))
	r.Register(localSearchTool(local))
	r.Register(searchNodesTool(store))
	r.Register(graphOverviewTool(store))
}

func globalSearchTool(engine *search.GlobalEngine) ToolDefinition {
	return ToolDefinition{
		Tool: Tool{
			Name:        "global_search",
			Description: "Search knowledge communities by semantic similarity to a free-text query. Returns ranked community summaries.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Free-text query to match against community summaries",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of communities to return (default 5, max 20)",
					},
					"min_similarity": map[string]any{
						"type":        "number",
						"description": "Similarity threshold in [0,1] (default 0.6; 0 disables the threshold)",
					},
				},
				"required": []string{"query"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var params search.GlobalParams
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid global_search arguments: %w", err)
			}
			result, err := engine.Search(ctx, params)
			if err != nil {
				return "", err
			}
			return marshalResult(result)
		},
	}
}

func localSearchTool(engine *search.LocalEngine) ToolDefinition {
	return ToolDefinition{
		Tool: Tool{
			Name:        "local_search",
			Description: "Explore the graph neighborhood around a named entity: direct relations, optional two-hop context, and recent observations.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"entity_name": map[string]any{
						"type":        "string",
						"description": "Entity name or alias, matched case-insensitively",
					},
					"depth": map[string]any{
						"type":        "integer",
						"description": "Traversal depth, 1 or 2 (default 2)",
					},
					"hop_limit": map[string]any{
						"type":        "integer",
						"description": "Maximum direct neighbors (default 25)",
					},
					"two_hop_limit": map[string]any{
						"type":        "integer",
						"description": "Maximum two-hop neighbors (default 25)",
					},
					"observation_limit": map[string]any{
						"type":        "integer",
						"description": "Maximum observations on the center entity (default 10)",
					},
				},
				"required": []string{"entity_name"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var params search.LocalParams
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid local_search arguments: %w", err)
			}
			result, err := engine.Search(ctx, params)
			if err != nil {
				return "", err
			}
			return marshalResult(result)
		},
	}
}

type searchNodesArgs struct {
	Names []string `json:"names"`
}

type nodeMatch struct {
	Name       string   `json:"name"`
	EntityType string   `json:"entity_type,omitempty"`
	Aliases    []string `json:"aliases,omitempty"`
	Found      bool     `json:"found"`
}

// searchNodesTool resolves a batch of entity names or aliases in one call.
// Unresolved names are reported rather than failing the batch.
func searchNodesTool(store graph.Querier) ToolDefinition {
	return ToolDefinition{
		Tool: Tool{
			Name:        "search_nodes",
			Description: "Resolve a batch of entity names or aliases to graph nodes. Reports which names matched and which did not.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"names": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Entity names or aliases to resolve",
					},
				},
				"required": []string{"names"},
			},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var params searchNodesArgs
			if err := json.Unmarshal(args, &params); err != nil {
				return "", fmt.Errorf("invalid search_nodes arguments: %w", err)
			}
			if len(params.Names) == 0 {
				return "", fmt.Errorf("%w: names must not be empty", search.ErrValidation)
			}

			matches := make([]nodeMatch, 0, len(params.Names))
			for _, name := range params.Names {
				match, err := resolveNode(ctx, store, name)
				if err != nil {
					return "", err
				}
				matches = append(matches, match)
			}
			return marshalResult(map[string]any{"matches": matches})
		},
	}
}

func resolveNode(ctx context.Context, store graph.Querier, name string) (nodeMatch, error) {
	const query = `
MATCH (e:Entity)
WHERE toLower(e.name) = toLower($name)
   OR ANY(a IN coalesce(e.aliases, []) WHERE toLower(a) = toLower($name))
RETURN e.name AS name, e.type AS entity_type, coalesce(e.aliases, []) AS aliases
LIMIT 1`

	rows, err := store.RunQuery(ctx, query, map[string]any{"name": strings.TrimSpace(name)})
	if err != nil {
		return nodeMatch{}, fmt.Errorf("resolving %q: %w", name, err)
	}
	if len(rows) == 0 {
		return nodeMatch{Name: name, Found: false}, nil
	}
	row := rows[0]
	return nodeMatch{
		Name:       row.AsString("name"),
		EntityType: row.AsString("entity_type"),
		Aliases:    row.AsStrings("aliases"),
		Found:      true,
	}, nil
}

// graphOverviewTool summarizes graph shape: node counts per label and
// relationship counts per type.
func graphOverviewTool(store graph.Querier) ToolDefinition {
	return ToolDefinition{
		Tool: Tool{
			Name:        "graph_overview",
			Description: "Summarize the knowledge graph: node counts per label and relationship counts per type.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		Handler: func(ctx context.Context, _ json.RawMessage) (string, error) {
			labelRows, err := store.RunQuery(ctx,
				`MATCH (n) UNWIND labels(n) AS label RETURN label, count(*) AS count ORDER BY count DESC`, nil)
			if err != nil {
				return "", fmt.Errorf("counting labels: %w", err)
			}
			relRows, err := store.RunQuery(ctx,
				`MATCH ()-[r]->() RETURN type(r) AS type, count(*) AS count ORDER BY count DESC`, nil)
			if err != nil {
				return "", fmt.Errorf("counting relationships: %w", err)
			}

			labels := make(map[string]int64, len(labelRows))
			for _, row := range labelRows {
				labels[row.AsString("label")] = row.AsInt("count")
			}
			relations := make(map[string]int64, len(relRows))
			for _, row := range relRows {
				relations[row.AsString("type")] = row.AsInt("count")
			}
			return marshalResult(map[string]any{
				"node_labels":        labels,
				"relationship_types": relations,
			})
		},
	}
}

func marshalResult(v any) (string, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding tool result: %w", err)
	}
	return string(payload), nil
}
