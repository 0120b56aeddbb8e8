package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/graphmem/graphmem/internal/graph"
)

// Global search configuration defaults.
const (
	// DefaultOverscanFactor is how many candidates to request from the
	// vector index per requested result. Community nodes are overwhelmingly
	// single-member artifacts that the structural filter discards, and the
	// index ranks before that filter runs. Empirically tuned; override per
	// deployment through config.
	DefaultOverscanFactor = 10

	// DefaultMinMemberCount filters out degenerate communities.
	DefaultMinMemberCount = 3

	// DefaultGlobalLimit is the result count when the caller omits one.
	DefaultGlobalLimit = 5

	// DefaultMinSimilarity is the similarity threshold when the caller
	// omits one.
	DefaultMinSimilarity = 0.6

	// relaxationFactor is applied to the similarity threshold on the first
	// retry when the initial filter yields nothing.
	relaxationFactor = 0.8

	// rawFallbackCount is how many candidates to return when even the
	// relaxed threshold yields nothing.
	rawFallbackCount = 3

	maxGlobalLimit = 20
)

// GlobalParams are the inputs of a community search. MinSimilarity is a
// pointer so that an explicit 0.0 (no threshold) stays distinguishable
// from an omitted field.
type GlobalParams struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	MinSimilarity *float64 `json:"min_similarity"`
}

// Embedder is the slice of the embedding service global search needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// GlobalConfig tunes the community search engine.
type GlobalConfig struct {
	IndexName      string // vector index over community summaries
	OverscanFactor int
	MinMemberCount int64
	MinSimilarity  float64 // threshold applied when a request omits one
}

// GlobalEngine retrieves communities whose summaries are semantically close
// to a free-text query.
type GlobalEngine struct {
	store    graph.Store
	embedder Embedder
	cfg      GlobalConfig
}

// NewGlobalEngine creates a community search engine. Zero config fields
// fall back to defaults.
func NewGlobalEngine(store graph.Store, embedder Embedder, cfg GlobalConfig) *GlobalEngine {
	if cfg.IndexName == "" {
		cfg.IndexName = "community_summary"
	}
	if cfg.OverscanFactor <= 0 {
		cfg.OverscanFactor = DefaultOverscanFactor
	}
	if cfg.MinMemberCount <= 0 {
		cfg.MinMemberCount = DefaultMinMemberCount
	}
	if cfg.MinSimilarity <= 0 || cfg.MinSimilarity > 1 {
		cfg.MinSimilarity = DefaultMinSimilarity
	}
	return &GlobalEngine{store: store, embedder: embedder, cfg: cfg}
}

// Search runs the full community retrieval pipeline: embed, over-scanned
// vector lookup, structural filter, cascading threshold relaxation.
func (e *GlobalEngine) Search(ctx context.Context, params GlobalParams) (*GlobalResult, error) {
	start := time.Now()

	params = params.withDefaults()
	if params.MinSimilarity == nil {
		threshold := e.cfg.MinSimilarity
		params.MinSimilarity = &threshold
	}
	if err := params.validate(); err != nil {
		return nil, err
	}

	embedStart := time.Now()
	vector, err := e.embedder.Embed(ctx, params.Query)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if len(vector) != e.embedder.Dimensions() {
		return nil, &EmbeddingError{Err: fmt.Errorf("embedding width %d does not match index width %d", len(vector), e.embedder.Dimensions())}
	}
	embedMS := msSince(embedStart)

	searchStart := time.Now()
	hits, err := e.store.VectorQuery(ctx, e.cfg.IndexName, params.Limit*e.cfg.OverscanFactor, vector)
	if err != nil {
		return nil, err
	}
	searchMS := msSince(searchStart)

	candidates := make([]Community, 0, len(hits))
	for _, hit := range hits {
		memberCount := hit.Node.PropInt("memberCount")
		if memberCount == 0 {
			memberCount = hit.Node.PropInt("member_count")
		}
		candidates = append(candidates, Community{
			ID:          hit.Node.PropString("id"),
			Name:        hit.Node.PropString("name"),
			Summary:     hit.Node.PropString("summary"),
			MemberCount: memberCount,
			Score:       hit.Score,
		})
	}

	communities := e.selectCommunities(candidates, params)

	result := &GlobalResult{
		Query:       params.Query,
		Communities: communities,
		Timing: Timing{
			EmbedMS:  embedMS,
			SearchMS: searchMS,
			TotalMS:  msSince(start),
		},
	}
	if len(communities) == 0 {
		result.Communities = []Community{}
		result.Message = "No relevant communities found for this query."
	}
	return result, nil
}

// selectCommunities applies the structural filter and the cascading
// threshold relaxation, then ranks by descending similarity. Ties keep the
// order the vector index returned.
func (e *GlobalEngine) selectCommunities(candidates []Community, params GlobalParams) []Community {
	structural := make([]Community, 0, len(candidates))
	for _, c := range candidates {
		if c.MemberCount >= e.cfg.MinMemberCount {
			structural = append(structural, c)
		}
	}

	minSim := *params.MinSimilarity
	selected := filterByScore(structural, minSim)
	if len(selected) == 0 && minSim > 0 {
		relaxed := minSim * relaxationFactor
		log.Debug().
			Float64("minSimilarity", minSim).
			Float64("relaxed", relaxed).
			Msg("No communities above threshold, relaxing")
		selected = filterByScore(structural, relaxed)
	}
	if len(selected) == 0 {
		// Last resort: best structurally-valid candidates regardless of
		// similarity threshold.
		selected = structural
		if len(selected) > rawFallbackCount {
			selected = selected[:rawFallbackCount]
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Score > selected[j].Score
	})
	if len(selected) > params.Limit {
		selected = selected[:params.Limit]
	}
	return selected
}

func (p GlobalParams) withDefaults() GlobalParams {
	if p.Limit == 0 {
		p.Limit = DefaultGlobalLimit
	}
	return p
}

func (p GlobalParams) validate() error {
	if p.Query == "" {
		return fmt.Errorf("%w: query must not be empty", ErrValidation)
	}
	if p.Limit < 1 || p.Limit > maxGlobalLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrValidation, maxGlobalLimit, p.Limit)
	}
	if p.MinSimilarity != nil && (*p.MinSimilarity < 0 || *p.MinSimilarity > 1) {
		return fmt.Errorf("%w: min_similarity must be between 0.0 and 1.0, got %v", ErrValidation, *p.MinSimilarity)
	}
	return nil
}

func filterByScore(communities []Community, minScore float64) []Community {
	out := make([]Community, 0, len(communities))
	for _, c := range communities {
		if c.Score >= minScore {
			out = append(out, c)
		}
	}
	return out
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}
