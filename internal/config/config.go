// Package config provides configuration management for graphmem.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultPort is the default HTTP port for the SSE server.
	DefaultPort = 38888

	// DefaultEmbeddingModel is the embedding model used when none is set.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultVectorIndex names the vector index over community summaries.
	// Backends with label/attribute indexes parse it as "Label.attribute".
	DefaultVectorIndex = "Community.embedding"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	Port      int    `json:"port"`
	AuthToken string `json:"auth_token"`

	// Graph backend: "neo4j" or "falkordb".
	GraphBackend string `json:"graph_backend"`

	// Vector backend: "graph" (native vector index) or "pgvector".
	VectorBackend string `json:"vector_backend"`

	// Neo4j settings
	Neo4jURI      string `json:"neo4j_uri"`
	Neo4jUsername string `json:"neo4j_username"`
	Neo4jPassword string `json:"neo4j_password"`
	Neo4jDatabase string `json:"neo4j_database"`

	// FalkorDB settings
	FalkorAddr     string `json:"falkor_addr"`
	FalkorUsername string `json:"falkor_username"`
	FalkorPassword string `json:"falkor_password"`
	FalkorGraph    string `json:"falkor_graph"`

	// pgvector settings (used when vector_backend is "pgvector")
	PostgresDSN   string `json:"postgres_dsn"`
	PgvectorTable string `json:"pgvector_table"`

	// Search settings
	VectorIndex    string  `json:"vector_index"`
	OverscanFactor int     `json:"overscan_factor"`
	MinMemberCount int     `json:"min_member_count"`
	MinSimilarity  float64 `json:"min_similarity"`

	// Embedding settings
	EmbeddingModel   string `json:"embedding_model"`
	EmbeddingAPIKey  string `json:"embedding_api_key"`
	EmbeddingBaseURL string `json:"embedding_base_url"`
	EmbeddingDims    int    `json:"embedding_dims"`

	// Embedding cache: in-process unless a Redis address is set.
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"redis_password"`
	CacheTTL      time.Duration `json:"cache_ttl"`

	// Session settings
	MaxSessions    int           `json:"max_sessions"`
	MaxHeapBytes   uint64        `json:"max_heap_bytes"`
	SessionTimeout time.Duration `json:"session_timeout"`
	SweepInterval  time.Duration `json:"sweep_interval"`
	RetryAfter     time.Duration `json:"retry_after"`
}

// DataDir returns the data directory path (~/.graphmem).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".graphmem")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "GRAPHMEM_PORT": 38888,
  "GRAPHMEM_GRAPH_BACKEND": "neo4j",
  "GRAPHMEM_NEO4J_URI": "bolt://localhost:7687",
  "GRAPHMEM_NEO4J_USERNAME": "neo4j",
  "GRAPHMEM_EMBEDDING_MODEL": "text-embedding-3-small"
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Port:           DefaultPort,
		GraphBackend:   "neo4j",
		VectorBackend:  "graph",
		Neo4jURI:       "bolt://localhost:7687",
		Neo4jUsername:  "neo4j",
		Neo4jDatabase:  "neo4j",
		FalkorAddr:     "localhost:6379",
		FalkorGraph:    "graphmem",
		PgvectorTable:  "communities",
		VectorIndex:    DefaultVectorIndex,
		OverscanFactor: 10,
		MinMemberCount: 3,
		MinSimilarity:  0.6,
		EmbeddingModel: DefaultEmbeddingModel,
		EmbeddingDims:  1536,
		CacheTTL:       24 * time.Hour,
		MaxSessions:    128,
		MaxHeapBytes:   1 << 30, // 1 GiB
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  time.Minute,
		RetryAfter:     30 * time.Second,
	}
}

// Load loads configuration from the settings file, merging with defaults,
// then applies environment overrides. Environment variables win.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		var settings map[string]interface{}
		if err := json.Unmarshal(data, &settings); err == nil {
			applySettings(cfg, settings)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applySettings(cfg *Config, settings map[string]interface{}) {
	if v, ok := settings["GRAPHMEM_PORT"].(float64); ok && v > 0 {
		cfg.Port = int(v)
	}
	if v, ok := settings["GRAPHMEM_AUTH_TOKEN"].(string); ok {
		cfg.AuthToken = v
	}
	if v, ok := settings["GRAPHMEM_GRAPH_BACKEND"].(string); ok && v != "" {
		cfg.GraphBackend = strings.ToLower(v)
	}
	if v, ok := settings["GRAPHMEM_VECTOR_BACKEND"].(string); ok && v != "" {
		cfg.VectorBackend = strings.ToLower(v)
	}
	if v, ok := settings["GRAPHMEM_NEO4J_URI"].(string); ok && v != "" {
		cfg.Neo4jURI = v
	}
	if v, ok := settings["GRAPHMEM_NEO4J_USERNAME"].(string); ok && v != "" {
		cfg.Neo4jUsername = v
	}
	if v, ok := settings["GRAPHMEM_NEO4J_PASSWORD"].(string); ok {
		cfg.Neo4jPassword = v
	}
	if v, ok := settings["GRAPHMEM_NEO4J_DATABASE"].(string); ok && v != "" {
		cfg.Neo4jDatabase = v
	}
	if v, ok := settings["GRAPHMEM_FALKOR_ADDR"].(string); ok && v != "" {
		cfg.FalkorAddr = v
	}
	if v, ok := settings["GRAPHMEM_FALKOR_USERNAME"].(string); ok {
		cfg.FalkorUsername = v
	}
	if v, ok := settings["GRAPHMEM_FALKOR_PASSWORD"].(string); ok {
		cfg.FalkorPassword = v
	}
	if v, ok := settings["GRAPHMEM_FALKOR_GRAPH"].(string); ok && v != "" {
		cfg.FalkorGraph = v
	}
	if v, ok := settings["GRAPHMEM_POSTGRES_DSN"].(string); ok {
		cfg.PostgresDSN = v
	}
	if v, ok := settings["GRAPHMEM_PGVECTOR_TABLE"].(string); ok && v != "" {
		cfg.PgvectorTable = v
	}
	if v, ok := settings["GRAPHMEM_VECTOR_INDEX"].(string); ok && v != "" {
		cfg.VectorIndex = v
	}
	if v, ok := settings["GRAPHMEM_OVERSCAN_FACTOR"].(float64); ok && v > 0 {
		cfg.OverscanFactor = int(v)
	}
	if v, ok := settings["GRAPHMEM_MIN_MEMBER_COUNT"].(float64); ok && v >= 0 {
		cfg.MinMemberCount = int(v)
	}
	if v, ok := settings["GRAPHMEM_MIN_SIMILARITY"].(float64); ok && v >= 0 && v <= 1 {
		cfg.MinSimilarity = v
	}
	if v, ok := settings["GRAPHMEM_EMBEDDING_MODEL"].(string); ok && v != "" {
		cfg.EmbeddingModel = v
	}
	if v, ok := settings["GRAPHMEM_EMBEDDING_API_KEY"].(string); ok {
		cfg.EmbeddingAPIKey = v
	}
	if v, ok := settings["GRAPHMEM_EMBEDDING_BASE_URL"].(string); ok {
		cfg.EmbeddingBaseURL = v
	}
	if v, ok := settings["GRAPHMEM_EMBEDDING_DIMS"].(float64); ok && v > 0 {
		cfg.EmbeddingDims = int(v)
	}
	if v, ok := settings["GRAPHMEM_REDIS_ADDR"].(string); ok {
		cfg.RedisAddr = v
	}
	if v, ok := settings["GRAPHMEM_REDIS_PASSWORD"].(string); ok {
		cfg.RedisPassword = v
	}
	if v, ok := settings["GRAPHMEM_MAX_SESSIONS"].(float64); ok && v > 0 {
		cfg.MaxSessions = int(v)
	}
	if v, ok := settings["GRAPHMEM_MAX_HEAP_BYTES"].(float64); ok && v > 0 {
		cfg.MaxHeapBytes = uint64(v)
	}
	if v, ok := settings["GRAPHMEM_SESSION_TIMEOUT"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SessionTimeout = d
		}
	}
	if v, ok := settings["GRAPHMEM_SWEEP_INTERVAL"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
	if v, ok := settings["GRAPHMEM_RETRY_AFTER"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.RetryAfter = d
		}
	}
	if v, ok := settings["GRAPHMEM_CACHE_TTL"].(string); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CacheTTL = d
		}
	}
}

func applyEnv(cfg *Config) {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envDur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			}
		}
	}

	envInt("GRAPHMEM_PORT", &cfg.Port)
	envStr("GRAPHMEM_AUTH_TOKEN", &cfg.AuthToken)
	envStr("GRAPHMEM_GRAPH_BACKEND", &cfg.GraphBackend)
	envStr("GRAPHMEM_VECTOR_BACKEND", &cfg.VectorBackend)
	envStr("GRAPHMEM_NEO4J_URI", &cfg.Neo4jURI)
	envStr("GRAPHMEM_NEO4J_USERNAME", &cfg.Neo4jUsername)
	envStr("GRAPHMEM_NEO4J_PASSWORD", &cfg.Neo4jPassword)
	envStr("GRAPHMEM_NEO4J_DATABASE", &cfg.Neo4jDatabase)
	envStr("GRAPHMEM_FALKOR_ADDR", &cfg.FalkorAddr)
	envStr("GRAPHMEM_FALKOR_USERNAME", &cfg.FalkorUsername)
	envStr("GRAPHMEM_FALKOR_PASSWORD", &cfg.FalkorPassword)
	envStr("GRAPHMEM_FALKOR_GRAPH", &cfg.FalkorGraph)
	envStr("GRAPHMEM_POSTGRES_DSN", &cfg.PostgresDSN)
	envStr("GRAPHMEM_PGVECTOR_TABLE", &cfg.PgvectorTable)
	envStr("GRAPHMEM_VECTOR_INDEX", &cfg.VectorIndex)
	envInt("GRAPHMEM_OVERSCAN_FACTOR", &cfg.OverscanFactor)
	envInt("GRAPHMEM_MIN_MEMBER_COUNT", &cfg.MinMemberCount)
	if v := os.Getenv("GRAPHMEM_MIN_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.MinSimilarity = f
		}
	}
	envStr("GRAPHMEM_EMBEDDING_MODEL", &cfg.EmbeddingModel)
	envStr("GRAPHMEM_EMBEDDING_API_KEY", &cfg.EmbeddingAPIKey)
	envStr("GRAPHMEM_EMBEDDING_BASE_URL", &cfg.EmbeddingBaseURL)
	envInt("GRAPHMEM_EMBEDDING_DIMS", &cfg.EmbeddingDims)
	envStr("GRAPHMEM_REDIS_ADDR", &cfg.RedisAddr)
	envStr("GRAPHMEM_REDIS_PASSWORD", &cfg.RedisPassword)
	envInt("GRAPHMEM_MAX_SESSIONS", &cfg.MaxSessions)
	if v := os.Getenv("GRAPHMEM_MAX_HEAP_BYTES"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.MaxHeapBytes = n
		}
	}
	envDur("GRAPHMEM_SESSION_TIMEOUT", &cfg.SessionTimeout)
	envDur("GRAPHMEM_SWEEP_INTERVAL", &cfg.SweepInterval)
	envDur("GRAPHMEM_RETRY_AFTER", &cfg.RetryAfter)
	envDur("GRAPHMEM_CACHE_TTL", &cfg.CacheTTL)

	// Fall back to the conventional key if no explicit embedding key is set.
	if cfg.EmbeddingAPIKey == "" {
		cfg.EmbeddingAPIKey = os.Getenv("OPENAI_API_KEY")
	}
}
