// Package search implements the two graph retrieval strategies: community
// (global) search over summarized clusters and entity neighborhood (local)
// search around a named center.
package search

import (
	"errors"
	"fmt"

	"github.com/graphmem/graphmem/internal/graph"
)

// ErrValidation marks input-validation failures. These are reported before
// any backend call and are never worth retrying unchanged.
var ErrValidation = errors.New("invalid input")

// EmbeddingError wraps a failed embedding round trip so callers can
// distinguish it from graph backend failures.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// IsBackendError reports whether err was a graph database round-trip
// failure, which is safe for the caller to retry.
func IsBackendError(err error) bool {
	var be *graph.BackendError
	return errors.As(err, &be)
}

// Timing carries per-stage latencies in milliseconds. Never persisted;
// returned with every search response.
type Timing struct {
	EmbedMS  float64 `json:"embed_ms,omitempty"`
	SearchMS float64 `json:"search_ms"`
	TotalMS  float64 `json:"total_ms"`
}

// Community is a read-only projection of a community node: a precomputed
// cluster of related entities with a synthesized summary.
type Community struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Summary     string  `json:"summary"`
	MemberCount int64   `json:"member_count"`
	Score       float64 `json:"score"`
}

// GlobalResult is the response of a community search. An empty Communities
// slice with a Message is a successful outcome, not an error.
type GlobalResult struct {
	Query       string      `json:"query"`
	Communities []Community `json:"communities"`
	Message     string      `json:"message,omitempty"`
	Timing      Timing      `json:"timing"`
}

// Observation is a read-only fact attached to an entity, newest first.
type Observation struct {
	Content    string  `json:"content"`
	CreatedAt  string  `json:"created_at,omitempty"`
	Theme      string  `json:"theme,omitempty"`
	Importance float64 `json:"importance,omitempty"`
}

// EntityView is the center entity of a local search with its observations.
type EntityView struct {
	Name         string        `json:"name"`
	Type         string        `json:"type,omitempty"`
	Aliases      []string      `json:"aliases,omitempty"`
	Observations []Observation `json:"observations"`
}

// Neighbor is a 1-hop neighbor with the relationship that connects it to
// the center. Direction is "outgoing" or "incoming" relative to the center.
type Neighbor struct {
	Name         string        `json:"name"`
	Type         string        `json:"type,omitempty"`
	RelationType string        `json:"relation_type"`
	Direction    string        `json:"direction"`
	Observations []Observation `json:"observations,omitempty"`
}

// TwoHopNeighbor is a node reached through one intermediate neighbor, with
// the two-relationship path that reached it.
type TwoHopNeighbor struct {
	Name           string `json:"name"`
	Via            string `json:"via"`
	FirstRelation  string `json:"first_relation"`
	SecondRelation string `json:"second_relation"`
}

// LocalResult is the response of an entity neighborhood search. A missing
// entity is reported through ErrorType/Suggestions, never as an error.
type LocalResult struct {
	Center         *EntityView      `json:"center,omitempty"`
	Neighbors      []Neighbor       `json:"neighbors"`
	TwoHop         []TwoHopNeighbor `json:"two_hop_neighbors,omitempty"`
	TotalNeighbors int              `json:"total_neighbors"`
	TotalTwoHop    int              `json:"total_two_hop"`
	Message        string           `json:"message,omitempty"`
	ErrorType      string           `json:"error_type,omitempty"`
	Suggestions    []string         `json:"suggestions,omitempty"`
	Timing         Timing           `json:"timing"`
}
