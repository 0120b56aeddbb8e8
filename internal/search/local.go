package search

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/graphmem/graphmem/internal/graph"
)

// Local search limits.
const (
	DefaultHopLimit         = 25
	DefaultTwoHopLimit      = 25
	DefaultObservationLimit = 10

	maxSuggestions         = 5
	observedNeighborCount  = 5
	neighborObservationCap = 3
)

// infrastructureLabels are node types excluded from neighborhood traversal
// so that only domain entities appear: temporal bookkeeping, conversation
// plumbing, and observation nodes (which are attached separately).
var infrastructureLabels = []string{
	"Session", "Message", "Summary", "Observation", "Temporal", "Date",
}

// LocalParams are the inputs of an entity neighborhood search.
type LocalParams struct {
	EntityName       string `json:"entity_name"`
	Depth            int    `json:"depth"`
	HopLimit         int    `json:"hop_limit"`
	TwoHopLimit      int    `json:"two_hop_limit"`
	ObservationLimit int    `json:"observation_limit"`
}

// LocalEngine explores the graph neighborhood around a named entity.
type LocalEngine struct {
	store graph.Querier
}

// NewLocalEngine creates an entity neighborhood search engine.
func NewLocalEngine(store graph.Querier) *LocalEngine {
	return &LocalEngine{store: store}
}

// Search resolves an entity and assembles its 1-hop (and optionally 2-hop)
// neighborhood with bounded observation sets. A missing entity yields a
// not-found result with suggestions, never an error. Two-hop traversal and
// observation gathering degrade to partial results on failure.
func (e *LocalEngine) Search(ctx context.Context, params LocalParams) (*LocalResult, error) {
	start := time.Now()

	params = params.withDefaults()
	if err := params.validate(); err != nil {
		return nil, err
	}

	center, err := e.resolveEntity(ctx, params.EntityName)
	if err != nil {
		return nil, err
	}
	if center == nil {
		suggestions, err := e.suggestEntities(ctx, params.EntityName)
		if err != nil {
			return nil, err
		}
		return &LocalResult{
			Neighbors:   []Neighbor{},
			ErrorType:   "entity_not_found",
			Suggestions: suggestions,
			Message:     fmt.Sprintf("No entity named %q found.", params.EntityName),
			Timing:      Timing{SearchMS: msSince(start), TotalMS: msSince(start)},
		}, nil
	}

	neighbors, err := e.oneHop(ctx, center.Name, params.HopLimit)
	if err != nil {
		return nil, err
	}

	var twoHop []TwoHopNeighbor
	if params.Depth == 2 && len(neighbors) > 0 {
		twoHop, err = e.twoHop(ctx, center.Name, params.TwoHopLimit)
		if err != nil {
			// Degrade to 1-hop-only results.
			log.Warn().Err(err).Str("entity", center.Name).Msg("Two-hop traversal failed, returning 1-hop only")
			twoHop = nil
		}
	}

	e.attachObservations(ctx, center, neighbors, params.ObservationLimit)

	result := &LocalResult{
		Center:         center,
		Neighbors:      neighbors,
		TwoHop:         twoHop,
		TotalNeighbors: len(neighbors),
		TotalTwoHop:    len(twoHop),
		Timing:         Timing{SearchMS: msSince(start), TotalMS: msSince(start)},
	}
	if len(neighbors) == 0 {
		result.Message = fmt.Sprintf("Entity %q has no connected domain entities.", center.Name)
	}
	return result, nil
}

// resolveEntity finds an entity by case-insensitive exact match on name or
// any alias. Returns nil on miss.
func (e *LocalEngine) resolveEntity(ctx context.Context, name string) (*EntityView, error) {
	rows, err := e.store.RunQuery(ctx, `
		MATCH (e:Entity)
		WHERE toLower(e.name) = toLower($name)
		   OR any(alias IN coalesce(e.aliases, []) WHERE toLower(alias) = toLower($name))
		RETURN e.name AS name, e.type AS type, coalesce(e.aliases, []) AS aliases
		LIMIT 1`,
		map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	return &EntityView{
		Name:         row.AsString("name"),
		Type:         row.AsString("type"),
		Aliases:      row.AsStrings("aliases"),
		Observations: []Observation{},
	}, nil
}

// suggestEntities runs a fuzzy contains search over names and aliases for
// the not-found path.
func (e *LocalEngine) suggestEntities(ctx context.Context, name string) ([]string, error) {
	rows, err := e.store.RunQuery(ctx, `
		MATCH (e:Entity)
		WHERE toLower(e.name) CONTAINS toLower($name)
		   OR any(alias IN coalesce(e.aliases, []) WHERE toLower(alias) CONTAINS toLower($name))
		RETURN DISTINCT e.name AS name
		LIMIT $limit`,
		map[string]any{"name": name, "limit": maxSuggestions})
	if err != nil {
		return nil, err
	}
	suggestions := make([]string, 0, len(rows))
	for _, row := range rows {
		suggestions = append(suggestions, row.AsString("name"))
	}
	return suggestions, nil
}

// oneHop fetches directly connected domain entities with relationship type
// and direction relative to the center.
func (e *LocalEngine) oneHop(ctx context.Context, name string, limit int) ([]Neighbor, error) {
	rows, err := e.store.RunQuery(ctx, `
		MATCH (c:Entity {name: $name})-[r]-(n)
		WHERE NOT any(l IN labels(n) WHERE l IN $excluded)
		RETURN DISTINCT n.name AS name, coalesce(n.type, head(labels(n))) AS type,
		       type(r) AS relType, startNode(r) = c AS outgoing
		LIMIT $limit`,
		map[string]any{"name": name, "excluded": infrastructureLabels, "limit": limit})
	if err != nil {
		return nil, err
	}

	neighbors := make([]Neighbor, 0, len(rows))
	for _, row := range rows {
		direction := "incoming"
		if row.AsBool("outgoing") {
			direction = "outgoing"
		}
		neighbors = append(neighbors, Neighbor{
			Name:         row.AsString("name"),
			Type:         row.AsString("type"),
			RelationType: row.AsString("relType"),
			Direction:    direction,
		})
	}
	return neighbors, nil
}

// twoHop fetches nodes reachable through one intermediate neighbor,
// excluding infrastructure on both steps, the center itself, and anything
// already directly connected to the center.
func (e *LocalEngine) twoHop(ctx context.Context, name string, limit int) ([]TwoHopNeighbor, error) {
	rows, err := e.store.RunQuery(ctx, `
		MATCH (c:Entity {name: $name})-[r1]-(m)-[r2]-(n)
		WHERE n <> c
		  AND NOT any(l IN labels(m) WHERE l IN $excluded)
		  AND NOT any(l IN labels(n) WHERE l IN $excluded)
		  AND NOT (c)--(n)
		RETURN DISTINCT n.name AS name, m.name AS via,
		       type(r1) AS firstRel, type(r2) AS secondRel
		LIMIT $limit`,
		map[string]any{"name": name, "excluded": infrastructureLabels, "limit": limit})
	if err != nil {
		return nil, err
	}

	twoHop := make([]TwoHopNeighbor, 0, len(rows))
	for _, row := range rows {
		twoHop = append(twoHop, TwoHopNeighbor{
			Name:           row.AsString("name"),
			Via:            row.AsString("via"),
			FirstRelation:  row.AsString("firstRel"),
			SecondRelation: row.AsString("secondRel"),
		})
	}
	return twoHop, nil
}

// attachObservations loads observations for the center and the first few
// neighbors, newest first, capped per entity. Failure degrades to empty
// observation lists.
func (e *LocalEngine) attachObservations(ctx context.Context, center *EntityView, neighbors []Neighbor, centerCap int) {
	names := []string{center.Name}
	for i := 0; i < len(neighbors) && i < observedNeighborCount; i++ {
		names = append(names, neighbors[i].Name)
	}

	rows, err := e.store.RunQuery(ctx, `
		MATCH (e:Entity)-[:HAS_OBSERVATION]->(o:Observation)
		WHERE e.name IN $names
		RETURN e.name AS entity, o.content AS content, o.created_at AS createdAt,
		       o.theme AS theme, o.importance AS importance
		ORDER BY o.created_at DESC`,
		map[string]any{"names": names})
	if err != nil {
		log.Warn().Err(err).Str("entity", center.Name).Msg("Observation gathering failed, returning entities without observations")
		return
	}

	byEntity := make(map[string][]Observation, len(names))
	for _, row := range rows {
		entity := row.AsString("entity")
		byEntity[entity] = append(byEntity[entity], Observation{
			Content:    row.AsString("content"),
			CreatedAt:  timestampString(row["createdAt"]),
			Theme:      row.AsString("theme"),
			Importance: row.AsFloat("importance"),
		})
	}

	center.Observations = capObservations(byEntity[center.Name], centerCap)
	for i := range neighbors {
		if i >= observedNeighborCount {
			break
		}
		neighbors[i].Observations = capObservations(byEntity[neighbors[i].Name], neighborObservationCap)
	}
}

func capObservations(observations []Observation, limit int) []Observation {
	if observations == nil {
		return []Observation{}
	}
	if len(observations) > limit {
		return observations[:limit]
	}
	return observations
}

// timestampString renders whatever the backend stored for created_at.
func timestampString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatInt(int64(x), 10)
	}
	return ""
}

func (p LocalParams) withDefaults() LocalParams {
	if p.Depth == 0 {
		p.Depth = 2
	}
	if p.HopLimit <= 0 {
		p.HopLimit = DefaultHopLimit
	}
	if p.TwoHopLimit <= 0 {
		p.TwoHopLimit = DefaultTwoHopLimit
	}
	if p.ObservationLimit <= 0 {
		p.ObservationLimit = DefaultObservationLimit
	}
	return p
}

func (p LocalParams) validate() error {
	if p.EntityName == "" {
		return fmt.Errorf("%w: entity_name must not be empty", ErrValidation)
	}
	if p.Depth != 1 && p.Depth != 2 {
		return fmt.Errorf("%w: depth must be 1 or 2, got %d", ErrValidation, p.Depth)
	}
	return nil
}
