package processor

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

var meta = assemble.Metadata{
	Source:       "test/2024/01/15/00/test.json.gz",
	LastModified: "2024-01-15T00:00:00Z",
}

func boolPtr(b bool) *bool { return &b }

func newProcessor(t *testing.T, tables mapping.Config, coerce bool) *Processor {
	t.Helper()
	p, err := New(Config{SplitPath: []string{"header", "action"}, DefaultCoerce: coerce}, tables, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func docs(texts ...string) []models.Value {
	out := make([]models.Value, len(texts))
	for i, s := range texts {
		out[i] = models.MustParseJSON(s)
	}
	return out
}

func TestDifferentActionsSplitCorrectly(t *testing.T) {
	p := newProcessor(t, mapping.Config{
		"ActionA": {TableName: "table_a", Fields: []mapping.Field{
			{Source: "header.action", Alias: "action", Type: "string"},
			{Source: "data.valueA", Alias: "value_a", Type: "string"},
		}},
		"ActionB": {TableName: "table_b", Fields: []mapping.Field{
			{Source: "header.action", Alias: "action", Type: "string"},
			{Source: "data.valueB", Alias: "value_b", Type: "string"},
		}},
	}, false)

	res, err := p.Process(docs(
		`{"header": {"action": "ActionA"}, "data": {"valueA": "from_a"}}`,
		`{"header": {"action": "ActionB"}, "data": {"valueB": "from_b"}}`,
		`{"header": {"action": "ActionA"}, "data": {"valueA": "from_a_2"}}`,
		`{"header": {"action": "ActionC"}}`,
		`{"nothing": true}`,
	), meta)
	require.NoError(t, err)

	assert.Equal(t, []string{"ActionA", "ActionB"}, res.Order)
	assert.Equal(t, 2, res.Tables["ActionA"].NumRows())
	assert.Equal(t, 1, res.Tables["ActionB"].NumRows())
	assert.Equal(t, "table_a", res.Tables["ActionA"].Name)
	assert.Equal(t, 5, res.Documents)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Unmapped)
	assert.Equal(t, 3, res.Rows())

	col, _ := res.Tables["ActionA"].Column("value_a")
	assert.Equal(t, "from_a_2", col.Value(1))
}

func TestCurrencyCoercionGlobal(t *testing.T) {
	p := newProcessor(t, mapping.Config{
		"TestAction": {TableName: "test_coerce", Fields: []mapping.Field{
			{Source: "header.action", Alias: "action", Type: "string"},
			{Source: "data.price", Alias: "price", Type: "float"},
			{Source: "data.cost", Alias: "cost", Type: "float"},
			{Source: "data.rate", Alias: "rate", Type: "float"},
			{Source: "data.units", Alias: "units", Type: "integer"},
			{Source: "data.active", Alias: "active", Type: "boolean"},
			{Source: "data.when", Alias: "when", Type: "timestamp"},
		}},
	}, true)

	res, err := p.Process(docs(`{
		"header": {"action": "TestAction"},
		"data": {"price": "$1,234.56", "cost": "€50.00", "rate": "25%", "units": "1,000,000",
			"active": "yes", "when": "01/15/2024"}
	}`), meta)
	require.NoError(t, err)
	row := res.Tables["TestAction"].Row(0)

	assert.InDelta(t, 1234.56, row["price"], 1e-9)
	assert.InDelta(t, 50.0, row["cost"], 1e-9)
	assert.InDelta(t, 0.25, row["rate"], 1e-12)
	assert.Equal(t, int64(1000000), row["units"])
	assert.Equal(t, true, row["active"])
	assert.NotNil(t, row["when"])
}

func TestCurrencyCoercionPerField(t *testing.T) {
	p := newProcessor(t, mapping.Config{
		"TestAction": {TableName: "test_coerce", Fields: []mapping.Field{
			{Source: "header.action", Alias: "action", Type: "string"},
			{Source: "data.price", Alias: "price", Type: "float", Coerce: boolPtr(true)},
			{Source: "data.quantity", Alias: "quantity", Type: "integer"},
			{Source: "data.total", Alias: "total", Type: "float"},
		}},
	}, false)

	res, err := p.Process(docs(`{
		"header": {"action": "TestAction"},
		"data": {"price": "$99.99", "quantity": 5, "total": "$5"}
	}`), meta)
	require.NoError(t, err)
	tbl := res.Tables["TestAction"]
	row := tbl.Row(0)

	assert.InDelta(t, 99.99, row["price"], 1e-9)
	assert.Equal(t, int64(5), row["quantity"])
	assert.Nil(t, row["total"], "strict columns do not strip currency")
	assert.Equal(t, []string{"Column 'total': Cannot convert $5 to float"}, tbl.Diagnostics.Errors)
}

func TestProcessRequiresMetadata(t *testing.T) {
	p := newProcessor(t, mapping.Config{
		"A": {TableName: "a", Fields: []mapping.Field{{Source: "header.action", Alias: "action"}}},
	}, false)
	_, err := p.Process(docs(`{"header": {"action": "A"}}`), assemble.Metadata{})
	assert.True(t, errors.Is(err, assemble.ErrMissingMetadata))
}

func TestNewRejectsReservedAlias(t *testing.T) {
	_, err := New(Config{SplitPath: []string{"type"}}, mapping.Config{
		"A": {TableName: "a", Fields: []mapping.Field{{Source: "x", Alias: assemble.DefaultSourceColumn}}},
	}, zerolog.Nop())
	assert.True(t, errors.Is(err, mapping.ErrReservedAlias))

	_, err = New(Config{}, mapping.Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	p := newProcessor(t, mapping.Config{
		"A": {TableName: "a", Fields: []mapping.Field{{Source: "header.action", Alias: "action"}}},
	}, false)
	b := p.Split(docs(`{"header": {"action": "A"}}`, `{"header": {"action": "B"}}`))
	assert.Equal(t, []string{"A", "B"}, b.Order)
	assert.Equal(t, 1, p.Mapping().Len())
}
