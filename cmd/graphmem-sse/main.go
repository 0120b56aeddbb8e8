// Package main provides the graphmem SSE server entry point.
package main

import (
	"context"
	"crypto/subtle"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
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
	"github.com/graphmem/graphmem/internal/watcher"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	portFlag := flag.Int("port", 0, "HTTP port (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
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
	if *portFlag > 0 {
		cfg.Port = *portFlag
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("Shutting down graphmem SSE server")
		cancel()
	}()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to graph backend")
	}
	defer store.Close(context.Background())

	embedSvc, err := buildEmbedding(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize embedding service")
	}

	globalEngine := search.NewGlobalEngine(store, embedSvc, search.GlobalConfig{
		IndexName:      cfg.VectorIndex,
		OverscanFactor: cfg.OverscanFactor,
		MinMemberCount: int64(cfg.MinMemberCount),
		MinSimilarity:  cfg.MinSimilarity,
	})
	localEngine := search.NewLocalEngine(store)

	registry := mcp.NewRegistry()
	mcp.RegisterSearchTools(registry, globalEngine, localEngine, store)

	sessions := mcp.NewSessionRegistry(mcp.SessionRegistryConfig{
		MaxSessions:    cfg.MaxSessions,
		MaxHeapBytes:   cfg.MaxHeapBytes,
		SessionTimeout: cfg.SessionTimeout,
		SweepInterval:  cfg.SweepInterval,
		RetryAfter:     cfg.RetryAfter,
	})
	defer sessions.Close()

	server := mcp.NewServer(registry, "graphmem", Version)
	sseHandler := mcp.NewSSEHandler(server, sessions)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	if cfg.AuthToken != "" {
		router.Use(tokenAuthMiddleware(cfg.AuthToken))
	}
	router.Get("/sse", sseHandler.HandleSSE)
	router.Post("/message", sseHandler.HandleMessage)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "graph backend unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	startSettingsWatcher(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.ListenAndServe()
	}()

	log.Info().
		Int("port", cfg.Port).
		Str("graphBackend", cfg.GraphBackend).
		Str("vectorBackend", cfg.VectorBackend).
		Bool("tokenAuthEnabled", cfg.AuthToken != "").
		Msg("Starting graphmem SSE server")

	select {
	case err := <-httpErrCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("SSE server error")
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("SSE server shutdown failed")
		}
	}
}

// buildStore assembles the graph store from config: a Cypher backend, and
// optionally a pgvector read replica for the community embeddings.
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
	case "neo4j", "":
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
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.GraphBackend)
	}

	if cfg.VectorBackend == "pgvector" {
		index, err := pgvec.NewIndex(ctx, pgvec.Config{
			DSN:   cfg.PostgresDSN,
			Table: cfg.PgvectorTable,
		})
		if err != nil {
			return nil, fmt.Errorf("pgvector index: %w", err)
		}
		log.Info().Str("table", cfg.PgvectorTable).Msg("Vector search served by pgvector")
		return graph.NewSplitStore(base, index), nil
	}
	return base, nil
}

func buildEmbedding(cfg *config.Config) (*embedding.Service, error) {
	provider, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		BaseURL:    cfg.EmbeddingBaseURL,
		APIKey:     cfg.EmbeddingAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDims,
	})
	if err != nil {
		return nil, err
	}

	var cache embedding.Cache
	if cfg.RedisAddr != "" {
		cache = embedding.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.CacheTTL)
		log.Info().Str("addr", cfg.RedisAddr).Msg("Embedding cache backed by Redis")
	} else {
		cache = embedding.NewMemoryCache(0)
	}
	return embedding.NewService(provider, cache), nil
}

func tokenAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Auth-Token")
			if provided == "" {
				if auth := r.Header.Get("Authorization"); len(auth) >= 7 && auth[:7] == "Bearer " {
					provided = auth[7:]
				}
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// startSettingsWatcher exits the process when settings change so the
// supervisor restarts it with fresh backends.
func startSettingsWatcher(ctx context.Context) {
	path := config.SettingsPath()
	w, err := watcher.New(path, func() {
		log.Warn().Str("path", path).Msg("Settings changed, exiting for restart")
		time.Sleep(100 * time.Millisecond)
		os.Exit(0)
	})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create settings watcher")
		return
	}
	go w.Run(ctx)
	log.Info().Str("path", path).Msg("Settings watcher started")
}
