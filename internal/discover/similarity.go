package discover

import (
	"fmt"
	"math"
	"strings"
)

// Similarity scores how alike two documents' structures are, from 0
// (disjoint) to 1 (identical).
type Similarity interface {
	Similarity(a, b PathSet) float64
}

// Jaccard is |A ∩ B| / |A ∪ B|. Two empty sets are identical.
type Jaccard struct{}

func (Jaccard) Similarity(a, b PathSet) float64 {
	return weighted(a, b, func(string) float64 { return 1 })
}

// WeightedJaccard is Jaccard with each path weighted by DepthDecay^depth,
// so differences near the root count more.
type WeightedJaccard struct {
	DepthDecay float64
}

// DefaultDepthDecay halves a path's weight a little over every three levels.
const DefaultDepthDecay = 0.8

func (w WeightedJaccard) Similarity(a, b PathSet) float64 {
	decay := w.DepthDecay
	if decay <= 0 {
		decay = DefaultDepthDecay
	}
	return weighted(a, b, func(p string) float64 { return math.Pow(decay, float64(depth(p))) })
}

// Exact is 1 for identical path sets and 0 otherwise.
type Exact struct{}

func (Exact) Similarity(a, b PathSet) float64 {
	if len(a) != len(b) {
		return 0
	}
	for p := range a {
		if _, ok := b[p]; !ok {
			return 0
		}
	}
	return 1
}

func weighted(a, b PathSet, weight func(string) float64) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	var inter, union float64
	for p := range a {
		w := weight(p)
		union += w
		if _, ok := b[p]; ok {
			inter += w
		}
	}
	for p := range b {
		if _, ok := a[p]; !ok {
			union += weight(p)
		}
	}
	if union == 0 {
		return 1
	}
	return inter / union
}

// ParseSimilarity maps "jaccard", "weighted" and "exact" to a Similarity.
func ParseSimilarity(name string) (Similarity, error) {
	switch strings.ToLower(name) {
	case "", "jaccard":
		return Jaccard{}, nil
	case "weighted", "weighted-jaccard":
		return WeightedJaccard{DepthDecay: DefaultDepthDecay}, nil
	case "exact":
		return Exact{}, nil
	default:
		return nil, fmt.Errorf("unknown similarity %q (use jaccard, weighted or exact)", name)
	}
}
