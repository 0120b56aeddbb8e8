// Package main provides the graphmem stdio entry point. It speaks
// newline-delimited JSON-RPC on stdin/stdout for clients that spawn the
// server as a subprocess.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/graphmem/graphmem/internal/config"
	"github.com/graphmem/graphmem/internal/embedding"
	"github.com/graphmem/graphmem/internal/graph"
	"github.com/graphmem/graphmem/internal/graph/falkor"
	"github.com/graphmem/graphmem/internal/graph/neo4j"
	"github.com/graphmem/graphmem/internal/graph/pgvec"
	"github.com/graphmem/graphmem/internal/mcp"
	"github.com/graphmem/graphmem/internal/search"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Stdout carries the protocol; all logging goes to stderr.
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	if err := config.EnsureAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure data directories")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load config, using defaults")
		cfg = config.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to graph backend")
	}
	defer store.Close(context.Background())

	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDims,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize embedding provider")
	}

	var cache embedding.Cache
	if cfg.RedisAddr != "" {
		cache = embedding.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
	} else {
		cache = embedding.NewMemoryCache(0)
	}
	embedSvc := embedding.NewService(provider, cache)

	globalEngine := search.NewGlobalEngine(store, embedSvc, search.GlobalConfig{
		IndexName:      cfg.VectorIndex,
		OverscanFactor: cfg.OverscanFactor,
		MinMemberCount: int64(cfg.MinMemberCount),
		MinSimilarity:  cfg.MinSimilarity,
	})
	localEngine := search.NewLocalEngine(store)

	registry := mcp.NewRegistry()
	mcp.RegisterSearchTools(registry, globalEngine, localEngine, store)

	server := mcp.NewServer(registry, "graphmem", Version)
	if err := server.ServeStdio(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Stdio server error")
	}
}

func buildStore(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	var base graph.Store
	switch cfg.GraphBackend {
	case "falkordb":
		client, err := falkor.NewClient(falkor.Config{
			Addr:     cfg.FalkorAddr,
			Username: cfg.FalkorUsername,
			Password: cfg.FalkorPassword,
			Graph:    cfg.FalkorGraph,
		})
		if err != nil {
			return nil, err
		}
		base = client
	default:
		client, err := neo4j.NewClient(ctx, neo4j.Config{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		})
		if err != nil {
			return nil, err
		}
		base = client
	}

	if cfg.VectorBackend == "pgvector" {
		index, err := pgvec.NewIndex(ctx, pgvec.Config{DSN: cfg.PostgresDSN, Table: cfg.PgvectorTable})
		if err != nil {
			return nil, err
		}
		return graph.NewSplitStore(base, index), nil
	}
	return base, nil
}
