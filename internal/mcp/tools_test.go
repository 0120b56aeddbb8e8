package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmem/graphmem/internal/graph"
)

// lookupQuerier answers entity resolution queries from a fixed set and
// counts per category from a fixed overview.
type lookupQuerier struct {
	entities map[string]graph.Row // lowercased name or alias -> row
}

func (q *lookupQuerier) RunQuery(ctx context.Context, query string, params map[string]any) ([]graph.Row, error) {
	switch {
	case strings.Contains(query, "UNWIND labels"):
		return []graph.Row{
			{"label": "Entity", "count": int64(120)},
			{"label": "Community", "count": int64(14)},
		}, nil
	case strings.Contains(query, "type(r)"):
		return []graph.Row{
			{"type": "WORKS_AT", "count": int64(40)},
		}, nil
	default:
		name, _ := params["name"].(string)
		if row, ok := q.entities[strings.ToLower(strings.TrimSpace(name))]; ok {
			return []graph.Row{row}, nil
		}
		return nil, nil
	}
}

func testLookupQuerier() *lookupQuerier {
	acme := graph.Row{"name": "Acme Corp", "entity_type": "Organization", "aliases": []any{"ACME"}}
	return &lookupQuerier{entities: map[string]graph.Row{
		"acme corp": acme,
		"acme":      acme,
	}}
}

func TestSearchNodesTool(t *testing.T) {
	def := searchNodesTool(testLookupQuerier())

	out, err := def.Handler(context.Background(), json.RawMessage(`{"names":["Acme Corp","Ghost Entity"]}`))
	require.NoError(t, err)

	var result struct {
		Matches []nodeMatch `json:"matches"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Matches, 2)

	assert.True(t, result.Matches[0].Found)
	assert.Equal(t, "Acme Corp", result.Matches[0].Name)
	assert.Equal(t, "Organization", result.Matches[0].EntityType)

	assert.False(t, result.Matches[1].Found)
	assert.Equal(t, "Ghost Entity", result.Matches[1].Name)
}

func TestSearchNodesToolRejectsEmptyBatch(t *testing.T) {
	def := searchNodesTool(testLookupQuerier())
	_, err := def.Handler(context.Background(), json.RawMessage(`{"names":[]}`))
	require.Error(t, err)
}

func TestGraphOverviewTool(t *testing.T) {
	def := graphOverviewTool(testLookupQuerier())

	out, err := def.Handler(context.Background(), nil)
	require.NoError(t, err)

	var result struct {
		NodeLabels        map[string]int64 `json:"node_labels"`
		RelationshipTypes map[string]int64 `json:"relationship_types"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.EqualValues(t, 120, result.NodeLabels["Entity"])
	assert.EqualValues(t, 14, result.NodeLabels["Community"])
	assert.EqualValues(t, 40, result.RelationshipTypes["WORKS_AT"])
}
