package models

import (
	"sort"
	"time"
)

// WeightVector maps feature names to bounded heuristic weights.
type WeightVector map[string]float64

// DefaultWeights returns the built-in starting vector on the normalised [-0.5, 0.5] scale.
func DefaultWeights() WeightVector {
	return WeightVector{
		"hype_language":      -0.30,
		"policy_demand":      0.15,
		"logical_rigor":      0.25,
		"data_support":       0.20,
		"uncertainty":        -0.15,
		"source_credibility": 0.15,
	}
}

// Clone returns an independent copy.
func (w WeightVector) Clone() WeightVector {
	out := make(WeightVector, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Features returns the feature names in sorted order.
func (w WeightVector) Features() []string {
	names := make([]string, 0, len(w))
	for k := range w {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether both vectors hold the same features and weights.
func (w WeightVector) Equal(other WeightVector) bool {
	if len(w) != len(other) {
		return false
	}
	for k, v := range w {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// WeightSnapshot is an immutable committed version of the weight vector.
// Version 0 denotes the built-in defaults, which are never persisted.
type WeightSnapshot struct {
	Version   int64        `json:"version" yaml:"version"`
	Weights   WeightVector `json:"weights" yaml:"weights"`
	CreatedAt time.Time    `json:"created_at" yaml:"created_at"`
	Reason    string       `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// DefaultSnapshot returns the version-0 snapshot holding DefaultWeights.
func DefaultSnapshot() WeightSnapshot {
	return WeightSnapshot{Weights: DefaultWeights(), Reason: "defaults"}
}

// FeatureChange records one weight movement within an evolution cycle.
type FeatureChange struct {
	Feature     string  `json:"feature"`
	OldWeight   float64 `json:"old_weight"`
	NewWeight   float64 `json:"new_weight"`
	SampleCount int     `json:"sample_count"`
}

// EvolutionRecord is one append-only entry of the evolution audit log.
type EvolutionRecord struct {
	ID        int64           `json:"id"`
	EvolvedAt time.Time       `json:"evolved_at"`
	BatchSize int             `json:"batch_size"`
	Reason    string          `json:"reason"`
	Changes   []FeatureChange `json:"changes"`
}
