package falkor

import (
	"testing"

	rg "github.com/falkordb/falkordb-go"
	"github.com/stretchr/testify/assert"
)

func TestSplitIndexName(t *testing.T) {
	tests := []struct {
		name      string
		index     string
		label     string
		attribute string
	}{
		{
			name:      "label and attribute",
			index:     "Community.embedding",
			label:     "Community",
			attribute: "embedding",
		},
		{
			name:      "bare label defaults attribute",
			index:     "Community",
			label:     "Community",
			attribute: "embedding",
		},
		{
			name:      "custom attribute",
			index:     "Entity.vector",
			label:     "Entity",
			attribute: "vector",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			label, attribute := splitIndexName(tt.index)
			assert.Equal(t, tt.label, label)
			assert.Equal(t, tt.attribute, attribute)
		})
	}
}

func TestToParams(t *testing.T) {
	out := toParams(map[string]any{
		"names":     []string{"alpha", "beta"},
		"embedding": []float32{0.5, 0.25},
		"weights":   []float64{1.5, 2.5},
		"k":         10,
		"label":     "Community",
	})

	assert.Equal(t, []any{"alpha", "beta"}, out["names"])
	assert.Equal(t, []any{0.5, 0.25}, out["embedding"])
	assert.Equal(t, []any{1.5, 2.5}, out["weights"])
	assert.Equal(t, 10, out["k"])
	assert.Equal(t, "Community", out["label"])
}

func TestAsNode(t *testing.T) {
	node := &rg.Node{
		Label: "Community",
		Properties: map[string]any{
			"name":        "payments",
			"memberCount": int64(7),
		},
	}

	got := asNode(node)
	assert.Equal(t, []string{"Community"}, got.Labels)
	assert.Equal(t, "payments", got.Props["name"])
	assert.Equal(t, int64(7), got.Props["memberCount"])
}

func TestAsNodeWithoutLabel(t *testing.T) {
	got := asNode(&rg.Node{Properties: map[string]any{}})
	assert.Empty(t, got.Labels)
}

func TestNormalizeValue(t *testing.T) {
	node := &rg.Node{
		Label:      "Entity",
		Properties: map[string]any{"name": "Acme Corp"},
	}

	normalized := normalizeValue(node)
	props, ok := normalized.(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "Acme Corp", props["name"])

	list := normalizeValue([]any{node, "plain", int64(3)})
	items, ok := list.([]any)
	assert.True(t, ok)
	assert.Len(t, items, 3)
	first, ok := items[0].(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "Acme Corp", first["name"])
	assert.Equal(t, "plain", items[1])

	assert.Equal(t, int64(42), normalizeValue(int64(42)))
	assert.Nil(t, normalizeValue(nil))
}
