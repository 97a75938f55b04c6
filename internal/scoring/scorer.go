// Package scoring turns claim features into a trust score.
//
// Each model kind is a Scorer. The Orchestrator runs every registered scorer
// concurrently under its own timeout and circuit breaker, and the Aggregator
// combines whatever responded into one 0-100 trust score. A scorer that times
// out, errors, returns an out-of-range value, or sits behind an open breaker
// is simply absent from the aggregate.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"careverify/internal/claims/models"
)

// Kind names a scorer. Values match the keys stored on ScoringResult.SubScores.
type Kind string

const (
	KindFraud              Kind = models.ScorerFraud
	KindApproval           Kind = models.ScorerApproval
	KindIsolationAnomaly   Kind = models.ScorerIsolationAnomaly
	KindAutoencoderAnomaly Kind = models.ScorerAutoencoderAnomaly
	KindTextInconsistency  Kind = models.ScorerTextInconsistency
)

// ErrNoInput is returned by a scorer that has nothing to judge, e.g. no
// extracted text. The orchestrator counts it as unavailable.
var ErrNoInput = errors.New("scorer has no input")

// SubScore is one scorer's output. Value is in [0,1].
type SubScore struct {
	Value             float64
	Explanation       string
	FeatureImportance map[string]float64
}

// Scorer is one model kind.
type Scorer interface {
	Kind() Kind
	Score(ctx context.Context, f Features) (SubScore, error)
}

func validate(kind Kind, s SubScore) error {
	if math.IsNaN(s.Value) || s.Value < 0 || s.Value > 1 {
		return fmt.Errorf("scorer %s returned %v, outside [0,1]", kind, s.Value)
	}
	return nil
}

// Registry holds the scorers the orchestrator fans out to.
type Registry struct {
	mu      sync.RWMutex
	scorers map[Kind]Scorer
}

func NewRegistry() *Registry {
	return &Registry{scorers: make(map[Kind]Scorer)}
}

// Register adds or replaces the scorer for its kind.
func (r *Registry) Register(s Scorer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorers[s.Kind()] = s
}

func (r *Registry) Get(kind Kind) (Scorer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scorers[kind]
	return s, ok
}

// Kinds lists registered kinds in a stable order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.scorers))
	for k := range r.scorers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) all() []Scorer {
	kinds := r.Kinds()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Scorer, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, r.scorers[k])
	}
	return out
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc struct {
	K  Kind
	Fn func(ctx context.Context, f Features) (SubScore, error)
}

func (s ScorerFunc) Kind() Kind { return s.K }

func (s ScorerFunc) Score(ctx context.Context, f Features) (SubScore, error) {
	return s.Fn(ctx, f)
}
