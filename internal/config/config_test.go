package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "neo4j", cfg.GraphBackend)
	assert.Equal(t, "graph", cfg.VectorBackend)
	assert.Equal(t, DefaultVectorIndex, cfg.VectorIndex)
	assert.Equal(t, 10, cfg.OverscanFactor)
	assert.Equal(t, 3, cfg.MinMemberCount)
	assert.InDelta(t, 0.6, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, DefaultEmbeddingModel, cfg.EmbeddingModel)
	assert.Equal(t, 1536, cfg.EmbeddingDims)
	assert.Equal(t, 128, cfg.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
}

func TestApplySettings(t *testing.T) {
	cfg := Default()
	applySettings(cfg, map[string]interface{}{
		"GRAPHMEM_PORT":            float64(9999),
		"GRAPHMEM_GRAPH_BACKEND":   "FalkorDB",
		"GRAPHMEM_VECTOR_BACKEND":  "pgvector",
		"GRAPHMEM_POSTGRES_DSN":    "postgres://localhost/graphmem",
		"GRAPHMEM_OVERSCAN_FACTOR": float64(20),
		"GRAPHMEM_MIN_SIMILARITY":  0.75,
		"GRAPHMEM_SESSION_TIMEOUT": "10m",
		"GRAPHMEM_RETRY_AFTER":     "5s",
		"GRAPHMEM_MAX_SESSIONS":    float64(4),
	})

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, "falkordb", cfg.GraphBackend)
	assert.Equal(t, "pgvector", cfg.VectorBackend)
	assert.Equal(t, "postgres://localhost/graphmem", cfg.PostgresDSN)
	assert.Equal(t, 20, cfg.OverscanFactor)
	assert.InDelta(t, 0.75, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Second, cfg.RetryAfter)
	assert.Equal(t, 4, cfg.MaxSessions)
}

func TestApplySettingsIgnoresInvalidValues(t *testing.T) {
	cfg := Default()
	applySettings(cfg, map[string]interface{}{
		"GRAPHMEM_PORT":            float64(-1),
		"GRAPHMEM_MIN_SIMILARITY":  1.5,
		"GRAPHMEM_SESSION_TIMEOUT": "not a duration",
		"GRAPHMEM_OVERSCAN_FACTOR": float64(0),
	})

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.InDelta(t, 0.6, cfg.MinSimilarity, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 10, cfg.OverscanFactor)
}

func TestEnvOverridesWin(t *testing.T) {
	t.Setenv("GRAPHMEM_PORT", "7777")
	t.Setenv("GRAPHMEM_GRAPH_BACKEND", "falkordb")
	t.Setenv("GRAPHMEM_MAX_HEAP_BYTES", "2097152")
	t.Setenv("GRAPHMEM_SWEEP_INTERVAL", "30s")
	t.Setenv("GRAPHMEM_RETRY_AFTER", "45s")
	t.Setenv("GRAPHMEM_EMBEDDING_API_KEY", "sk-test")

	cfg := Default()
	applyEnv(cfg)

	assert.Equal(t, 7777, cfg.Port)
	assert.Equal(t, "falkordb", cfg.GraphBackend)
	assert.EqualValues(t, 2097152, cfg.MaxHeapBytes)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 45*time.Second, cfg.RetryAfter)
	assert.Equal(t, "sk-test", cfg.EmbeddingAPIKey)
}

func TestEmbeddingKeyFallsBackToOpenAIEnv(t *testing.T) {
	t.Setenv("GRAPHMEM_EMBEDDING_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg := Default()
	applyEnv(cfg)
	require.Equal(t, "sk-openai", cfg.EmbeddingAPIKey)
}

func TestEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("GRAPHMEM_PORT", "not a number")
	t.Setenv("GRAPHMEM_SESSION_TIMEOUT", "forever")

	cfg := Default()
	applyEnv(cfg)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
}
