package discover

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/rowhouse/pkg/models"
)

func pathSet(paths ...string) PathSet {
	s := make(PathSet, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

func TestPaths(t *testing.T) {
	doc := models.MustParseJSON(`{
		"header": {"action": "A"},
		"items": [{"sku": "x"}, {"sku": "y", "qty": 1}],
		"tags": ["a", "b"],
		"empty": [],
		"nested": [[1, 2]],
		"mixed": [1, {"a": 2}],
		"obj": {},
		"n": null
	}`)

	assert.Equal(t, []string{
		"empty[]",
		"header.action",
		"items[].qty",
		"items[].sku",
		"mixed[]",
		"mixed[].a",
		"n",
		"nested[][]",
		"tags[]",
	}, Paths(doc).Sorted())
}

func TestValueAt(t *testing.T) {
	doc := models.MustParseJSON(`{"header": {"action": "A", "n": null}, "items": [{"sku": "x"}]}`)

	v, ok := ValueAt(doc, "header.action")
	require.True(t, ok)
	assert.Equal(t, "A", v.Text())

	_, ok = ValueAt(doc, "items[].sku")
	assert.False(t, ok, "arrays are not traversed")
	_, ok = ValueAt(doc, "header.n")
	assert.False(t, ok, "null is absent")
	_, ok = ValueAt(doc, "header.missing")
	assert.False(t, ok)
	_, ok = ValueAt(doc, "header.action.deeper")
	assert.False(t, ok)
}

func TestSimilarity(t *testing.T) {
	a := pathSet("a", "b")
	b := pathSet("a", "c")

	assert.InDelta(t, 1.0/3.0, Jaccard{}.Similarity(a, b), 1e-9)
	assert.Equal(t, 1.0, Jaccard{}.Similarity(PathSet{}, PathSet{}))
	assert.Equal(t, 0.0, Jaccard{}.Similarity(a, PathSet{}))

	// "a" weighs 1, "b.c" weighs 0.8
	w := WeightedJaccard{DepthDecay: 0.8}
	assert.InDelta(t, 1.0/1.8, w.Similarity(pathSet("a", "b.c"), pathSet("a")), 1e-9)
	assert.InDelta(t, 1.0/1.8, WeightedJaccard{}.Similarity(pathSet("a", "b.c"), pathSet("a")), 1e-9)
	assert.InDelta(t, 0.64/1.64, w.Similarity(pathSet("x[].y", "z"), pathSet("x[].y")), 1e-9)

	assert.Equal(t, 1.0, Exact{}.Similarity(pathSet("a", "b"), pathSet("b", "a")))
	assert.Equal(t, 0.0, Exact{}.Similarity(a, b))
}

func TestParseSimilarity(t *testing.T) {
	for name, want := range map[string]Similarity{
		"":         Jaccard{},
		"jaccard":  Jaccard{},
		"Weighted": WeightedJaccard{DepthDecay: DefaultDepthDecay},
		"exact":    Exact{},
	} {
		got, err := ParseSimilarity(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseSimilarity("cosine")
	assert.Error(t, err)
}

func sampleDocs() []models.Value {
	return []models.Value{
		models.MustParseJSON(`{"type": "order", "id": 1, "items": [{"sku": "a"}]}`),
		models.MustParseJSON(`{"type": "order", "id": 2, "items": [{"sku": "b"}]}`),
		models.MustParseJSON(`{"type": "user", "id": 3, "user": {"name": "x"}}`),
		models.MustParseJSON(`{"type": "user", "id": 4, "user": {"name": "y"}}`),
	}
}

func TestFindSplitters(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())
	results := a.FindSplitters(sampleDocs(), DefaultOptions())
	require.Len(t, results, 3)

	best := results[0]
	assert.Equal(t, "type", best.Field)
	assert.InDelta(t, 2.0, best.Score, 1e-9)
	assert.Equal(t, 2, best.DistinctValues)
	assert.Equal(t, 1.0, best.Coverage)
	assert.Equal(t, map[string]int{"order": 2, "user": 2}, best.ValueCounts)
	assert.Equal(t, 1.0, best.WithinSimilarity)
	assert.InDelta(t, 0.5, best.BetweenSimilarity, 1e-9)

	// every id is its own group
	assert.Equal(t, "id", results[1].Field)
	assert.InDelta(t, 1.5, results[1].Score, 1e-9)

	// only the user documents carry a name
	assert.Equal(t, "user.name", results[2].Field)
	assert.Equal(t, 0.5, results[2].Coverage)
}

func TestFindSplittersFilters(t *testing.T) {
	a := NewAnalyzer(Jaccard{}, zerolog.Nop())

	results := a.FindSplitters(sampleDocs(), Options{MaxCardinality: 3, MinCoverage: 0.75, MaxDepth: 3})
	require.Len(t, results, 1)
	assert.Equal(t, "type", results[0].Field)

	results = a.FindSplitters(sampleDocs(), Options{MaxCardinality: 50, MinCoverage: 0.5, MaxDepth: 1})
	for _, r := range results {
		assert.NotEqual(t, "user.name", r.Field)
	}

	assert.Empty(t, a.FindSplitters(nil, DefaultOptions()))

	same := []models.Value{
		models.MustParseJSON(`{"type": "a"}`),
		models.MustParseJSON(`{"type": "a"}`),
	}
	assert.Empty(t, a.FindSplitters(same, DefaultOptions()), "a single value cannot split")
}

func TestEvaluateComposite(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())
	r := a.Evaluate(sampleDocs(), "type", "user.name")

	assert.Equal(t, "type+user.name", r.Field)
	assert.Equal(t, 3, r.DistinctValues)
	assert.Equal(t, 1.0, r.Coverage)
	assert.Equal(t, map[string]int{"order|null": 2, "user|x": 1, "user|y": 1}, r.ValueCounts)

	single := a.Evaluate(sampleDocs(), "type")
	assert.Equal(t, "type", single.Field)
	assert.InDelta(t, 2.0, single.Score, 1e-9)
}

func TestStructureByValue(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())
	docs := append(sampleDocs(), models.MustParseJSON(`{"type": "order", "id": 5, "items": [], "note": "gift"}`))

	summaries := a.StructureByValue(docs, "type")
	require.Len(t, summaries, 2)

	order := summaries[0]
	assert.Equal(t, "order", order.Value)
	assert.Equal(t, 3, order.Count)
	assert.Equal(t, []string{"id", "items[]", "items[].sku", "note", "type"}, order.Paths)
	assert.Equal(t, []string{"id", "type"}, order.Common)
	assert.Equal(t, []string{"items[]", "items[].sku", "note"}, order.Unique)

	user := summaries[1]
	assert.Equal(t, 2, user.Count)
	assert.Equal(t, []string{"user.name"}, user.Unique)
}

func TestDescribe(t *testing.T) {
	a := NewAnalyzer(nil, zerolog.Nop())

	out := a.Describe(sampleDocs(), "", 5, DefaultOptions())
	assert.Contains(t, out, "Documents analyzed: 4")
	assert.Contains(t, out, "Unique paths: 4")
	assert.Contains(t, out, "type (2 values, score: 2.00) <- recommended")
	assert.Contains(t, out, "Structure by type:")
	assert.Contains(t, out, `"order" (2 docs): items[].sku`)
	assert.Contains(t, out, `"user" (2 docs): user.name`)

	out = a.Describe(sampleDocs(), "user.name", 1, DefaultOptions())
	assert.Contains(t, out, "Structure by user.name:")
	assert.NotContains(t, out, "  id (")

	assert.Equal(t, "No documents to analyze.", a.Describe(nil, "", 5, DefaultOptions()))

	one := []models.Value{models.MustParseJSON(`{"type": "a"}`)}
	assert.Contains(t, a.Describe(one, "", 5, DefaultOptions()), "No candidate splitters found.")
}
