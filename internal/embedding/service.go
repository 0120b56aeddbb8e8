// Package embedding provides text embedding generation for graph retrieval.
// A Provider does the actual model round trip; Service adds caching,
// duplicate-call coalescing, and dimension checks on top.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Provider generates embeddings for text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// Cache stores computed embeddings keyed by content hash. Implementations
// must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Put(ctx context.Context, key string, vector []float32)
}

// Service wraps a Provider with an injected Cache and request coalescing.
// It is constructed once and shared; there is no package-level state.
type Service struct {
	provider Provider
	cache    Cache
	group    singleflight.Group
}

// NewService creates an embedding service. cache may be nil to disable
// caching.
func NewService(provider Provider, cache Cache) *Service {
	return &Service{provider: provider, cache: cache}
}

// Dimensions returns the fixed embedding width of the underlying provider.
func (s *Service) Dimensions() int {
	return s.provider.Dimensions()
}

// Embed returns the embedding for text. Identical concurrent requests share
// one provider round trip.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("embed: text is empty")
	}

	key := cacheKey(s.provider.Name(), text)
	if s.cache != nil {
		if vec, ok := s.cache.Get(ctx, key); ok {
			return vec, nil
		}
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		vec, err := s.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(vec) != s.provider.Dimensions() {
			return nil, fmt.Errorf("embed: got %d dimensions, provider advertises %d", len(vec), s.provider.Dimensions())
		}
		if s.cache != nil {
			s.cache.Put(ctx, key, vec)
		}
		return vec, nil
	})
	if err != nil {
		log.Debug().Err(err).Str("provider", s.provider.Name()).Msg("Embedding request failed")
		return nil, err
	}
	return result.([]float32), nil
}

// cacheKey hashes the provider name and text so cache entries survive only
// within one model's vector space.
func cacheKey(model, text string) string {
	h := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(h[:])
}
