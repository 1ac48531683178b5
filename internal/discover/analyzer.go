package discover

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/pkg/models"
)

// Options bound the automatic search for splitter candidates.
type Options struct {
	// MaxCardinality skips fields with more distinct values than this.
	MaxCardinality int
	// MinCoverage is the fraction of documents that must carry the field.
	MinCoverage float64
	// MaxDepth skips fields nested deeper than this many keys.
	MaxDepth int
}

// DefaultOptions returns cardinality 50, coverage 0.5 and depth 3.
func DefaultOptions() Options {
	return Options{MaxCardinality: 50, MinCoverage: 0.5, MaxDepth: 3}
}

// noBetweenPairs stands in for the between-group similarity when there is
// only one group, so a lone group scores high rather than dividing by zero.
const noBetweenPairs = 0.001

// SplitterResult evaluates one candidate split path.
type SplitterResult struct {
	Field string `json:"field"`
	// Score is WithinSimilarity / BetweenSimilarity; higher splits better.
	Score             float64        `json:"score"`
	DistinctValues    int            `json:"distinct_values"`
	Coverage          float64        `json:"coverage"`
	ValueCounts       map[string]int `json:"value_counts"`
	WithinSimilarity  float64        `json:"within_similarity"`
	BetweenSimilarity float64        `json:"between_similarity"`
}

// StructureSummary describes the documents sharing one splitter value.
type StructureSummary struct {
	Value string `json:"value"`
	Count int    `json:"count"`
	// Paths is every path seen in the group, Common those in all of it.
	Paths  []string `json:"paths"`
	Common []string `json:"common"`
	// Unique are the paths no other group has.
	Unique []string `json:"unique"`
}

// Analyzer ranks splitter candidates over a document sample.
type Analyzer struct {
	similarity Similarity
	logger     zerolog.Logger
}

// NewAnalyzer returns an Analyzer; a nil similarity means Jaccard.
func NewAnalyzer(similarity Similarity, logger zerolog.Logger) *Analyzer {
	if similarity == nil {
		similarity = Jaccard{}
	}
	return &Analyzer{
		similarity: similarity,
		logger:     logger.With().Str("component", "discover").Logger(),
	}
}

// sample holds the documents with their extracted path sets.
type sample struct {
	docs  []models.Value
	paths []PathSet
}

func newSample(docs []models.Value) *sample {
	s := &sample{docs: docs, paths: make([]PathSet, len(docs))}
	for i, d := range docs {
		s.paths[i] = Paths(d)
	}
	return s
}

// FindSplitters evaluates every shallow scalar field that passes opts and
// returns the positive scores, best first.
func (a *Analyzer) FindSplitters(docs []models.Value, opts Options) []SplitterResult {
	if len(docs) == 0 {
		return nil
	}
	s := newSample(docs)
	candidates := s.candidates(opts)
	a.logger.Debug().Int("documents", len(docs)).Int("candidates", len(candidates)).Msg("Evaluating splitter candidates")

	results := make([]SplitterResult, 0, len(candidates))
	for _, field := range candidates {
		r := a.evaluate(s, field, fieldKey(field))
		if r.Score > 0 {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// Evaluate scores a given split path. Several fields form a composite key
// and are reported joined with "+".
func (a *Analyzer) Evaluate(docs []models.Value, fields ...string) SplitterResult {
	s := newSample(docs)
	if len(fields) == 1 {
		return a.evaluate(s, fields[0], fieldKey(fields[0]))
	}
	return a.evaluate(s, strings.Join(fields, "+"), compositeKey(fields))
}

// keyFunc returns the grouping value of a document, or false when the
// document has none.
type keyFunc func(doc models.Value) (string, bool)

func fieldKey(field string) keyFunc {
	return func(doc models.Value) (string, bool) {
		v, ok := ValueAt(doc, field)
		if !ok {
			return "", false
		}
		return v.Text(), true
	}
}

// compositeKey is present for every document; missing parts render as null.
func compositeKey(fields []string) keyFunc {
	return func(doc models.Value) (string, bool) {
		parts := make([]string, len(fields))
		for i, f := range fields {
			if v, ok := ValueAt(doc, f); ok {
				parts[i] = v.Text()
			} else {
				parts[i] = "null"
			}
		}
		return strings.Join(parts, "|"), true
	}
}

func (s *sample) candidates(opts Options) []string {
	seen := make(map[string]struct{})
	for _, ps := range s.paths {
		for p := range ps {
			if strings.Contains(p, "[]") || strings.Count(p, ".")+1 > opts.MaxDepth {
				continue
			}
			seen[p] = struct{}{}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []string
	for _, p := range paths {
		present := 0
		distinct := make(map[string]struct{})
		for _, doc := range s.docs {
			if v, ok := ValueAt(doc, p); ok {
				present++
				distinct[v.Text()] = struct{}{}
			}
		}
		if float64(present)/float64(len(s.docs)) < opts.MinCoverage {
			continue
		}
		if len(distinct) > opts.MaxCardinality || len(distinct) < 2 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// group indexes documents by key, with values in first-appearance order.
type group struct {
	order   []string
	members map[string][]int
	present int
}

func (s *sample) group(key keyFunc) group {
	g := group{members: make(map[string][]int)}
	for i, doc := range s.docs {
		k, ok := key(doc)
		if !ok {
			continue
		}
		if _, seen := g.members[k]; !seen {
			g.order = append(g.order, k)
		}
		g.members[k] = append(g.members[k], i)
		g.present++
	}
	return g
}

func (a *Analyzer) evaluate(s *sample, field string, key keyFunc) SplitterResult {
	g := s.group(key)
	r := SplitterResult{
		Field:          field,
		DistinctValues: len(g.order),
		ValueCounts:    make(map[string]int, len(g.order)),
	}
	if len(s.docs) > 0 {
		r.Coverage = float64(g.present) / float64(len(s.docs))
	}
	for _, k := range g.order {
		r.ValueCounts[k] = len(g.members[k])
	}

	// every pair inside each group
	var within float64
	pairs := 0
	for _, k := range g.order {
		idx := g.members[k]
		for i := 0; i < len(idx); i++ {
			for j := i + 1; j < len(idx); j++ {
				within += a.similarity.Similarity(s.paths[idx[i]], s.paths[idx[j]])
				pairs++
			}
		}
	}
	r.WithinSimilarity = 1
	if pairs > 0 {
		r.WithinSimilarity = within / float64(pairs)
	}

	// the first document of each group against every other group's first
	var between float64
	pairs = 0
	for i := 0; i < len(g.order); i++ {
		for j := i + 1; j < len(g.order); j++ {
			first, second := g.members[g.order[i]][0], g.members[g.order[j]][0]
			between += a.similarity.Similarity(s.paths[first], s.paths[second])
			pairs++
		}
	}
	r.BetweenSimilarity = noBetweenPairs
	if pairs > 0 {
		r.BetweenSimilarity = between / float64(pairs)
	}

	if r.BetweenSimilarity > 0 {
		r.Score = r.WithinSimilarity / r.BetweenSimilarity
	} else {
		r.Score = r.WithinSimilarity
	}
	return r
}

// StructureByValue summarizes the documents of each value of splitter,
// largest group first.
func (a *Analyzer) StructureByValue(docs []models.Value, splitter string) []StructureSummary {
	s := newSample(docs)
	g := s.group(fieldKey(splitter))

	unions := make(map[string]PathSet, len(g.order))
	for _, k := range g.order {
		union := make(PathSet)
		for _, i := range g.members[k] {
			for p := range s.paths[i] {
				union[p] = struct{}{}
			}
		}
		unions[k] = union
	}

	out := make([]StructureSummary, 0, len(g.order))
	for _, k := range g.order {
		idx := g.members[k]
		common := make(PathSet)
		for p := range s.paths[idx[0]] {
			inAll := true
			for _, i := range idx[1:] {
				if _, ok := s.paths[i][p]; !ok {
					inAll = false
					break
				}
			}
			if inAll {
				common[p] = struct{}{}
			}
		}
		unique := make(PathSet)
		for p := range unions[k] {
			shared := false
			for _, other := range g.order {
				if other == k {
					continue
				}
				if _, ok := unions[other][p]; ok {
					shared = true
					break
				}
			}
			if !shared {
				unique[p] = struct{}{}
			}
		}
		out = append(out, StructureSummary{
			Value:  k,
			Count:  len(idx),
			Paths:  unions[k].Sorted(),
			Common: common.Sorted(),
			Unique: unique.Sorted(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

// Describe renders a text report: totals, the top candidates and the
// structure under the chosen splitter (the best one unless splitter names
// another candidate).
func (a *Analyzer) Describe(docs []models.Value, splitter string, topN int, opts Options) string {
	if len(docs) == 0 {
		return "No documents to analyze."
	}

	all := make(PathSet)
	for _, d := range docs {
		for p := range Paths(d) {
			all[p] = struct{}{}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Documents analyzed: %d\n", len(docs))
	fmt.Fprintf(&b, "Unique paths: %d\n\n", len(all))

	results := a.FindSplitters(docs, opts)
	if len(results) == 0 {
		b.WriteString("No candidate splitters found.")
		return b.String()
	}

	b.WriteString("Candidate splitters:\n")
	for i, r := range results {
		if i == topN {
			break
		}
		marker := ""
		if i == 0 {
			marker = " <- recommended"
		}
		fmt.Fprintf(&b, "  %s (%d values, score: %.2f)%s\n", r.Field, r.DistinctValues, r.Score, marker)
	}
	b.WriteString("\n")

	best := results[0].Field
	for _, r := range results {
		if r.Field == splitter {
			best = splitter
			break
		}
	}
	fmt.Fprintf(&b, "Structure by %s:\n", best)
	summaries := a.StructureByValue(docs, best)
	for i, sum := range summaries {
		sample := "(same as others)"
		if n := len(sum.Unique); n > 0 {
			sample = strings.Join(sum.Unique[:min(n, 3)], ", ")
			if n > 3 {
				sample += fmt.Sprintf(" (+%d more)", n-3)
			}
		}
		fmt.Fprintf(&b, "  %q (%d docs): %s", sum.Value, sum.Count, sample)
		if i < len(summaries)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
