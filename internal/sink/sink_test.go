package sink

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/columnar"
	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/internal/storage"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

const inputKey = "test/2024/01/15/00/test.json.gz"

func eventsTable(t *testing.T) *assemble.Table {
	t.Helper()
	tbl, err := mapping.CompileTable("UserLogin", mapping.TableConfig{
		TableName: "logins",
		Fields: []mapping.Field{
			{Source: "header.user", Alias: "user", Type: "string"},
			{Source: "body.attempts", Alias: "attempts", Type: "integer"},
			{Source: "body.ok", Alias: "ok", Type: "boolean"},
		},
	}, mapping.CompileOptions{DefaultCoerce: true})
	require.NoError(t, err)

	docs := []models.Value{
		models.MustParseJSON(`{"header": {"user": "ana"}, "body": {"attempts": 1, "ok": true}}`),
		models.MustParseJSON(`{"header": {"user": "bo"}, "body": {"attempts": "3", "ok": "no"}}`),
	}
	out, err := assemble.New(assemble.Options{}).Assemble(docs, tbl, assemble.Metadata{
		Source: inputKey, LastModified: "2024-01-15T00:00:00Z",
	})
	require.NoError(t, err)
	return out
}

func TestFormatOutputKey(t *testing.T) {
	tests := []struct {
		key, table, want string
	}{
		{inputKey, "orders", "processed/orders/load_date=2024-01-15/test.parquet"},
		{"raw/2024/02/29/13/batch-7.json", "t", "processed/t/load_date=2024-02-29/batch-7.parquet"},
		{"short/x.json.gz", "t", "processed/t/load_date=unknown/x.parquet"},
		{"a/b/c/d.json.gz", "t", "processed/t/load_date=unknown/d.parquet"},
		{"raw/2024/01/15/00/events.msgpack.gz", "t", "processed/t/load_date=2024-01-15/events.parquet"},
		{"raw/2024/01/15/00/events.ndjson", "t", "processed/t/load_date=2024-01-15/events.parquet"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatOutputKey(tt.key, tt.table), tt.key)
	}
}

func TestFormatKeyTemplate(t *testing.T) {
	got := FormatKey("out/{discriminator}/{run_id}/{date}/{table}-{file}", KeyFields{
		Table: "logins", Discriminator: "UserLogin", RunID: "r1", InputKey: inputKey,
	})
	assert.Equal(t, "out/UserLogin/r1/2024-01-15/logins-test.parquet", got)
	assert.Equal(t, FormatOutputKey(inputKey, "x"), FormatKey("", KeyFields{Table: "x", InputKey: inputKey}))
}

func TestParquetSinkWritesObject(t *testing.T) {
	backend, err := storage.NewLocalBackend(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	writer, err := columnar.NewArrowWriter(columnar.DefaultOptions(), zerolog.Nop())
	require.NoError(t, err)

	s := NewParquetSink(backend, writer, "", zerolog.Nop())
	key, err := s.Write(context.Background(), TableBatch{RunID: "r", SourceKey: inputKey, Table: eventsTable(t)})
	require.NoError(t, err)
	assert.Equal(t, "processed/logins/load_date=2024-01-15/test.parquet", key)

	data, err := backend.Read(context.Background(), key)
	require.NoError(t, err)
	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(context.Background(), bytes.NewReader(data),
		parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, int64(2), tbl.NumRows())
	assert.Equal(t, "user", tbl.Schema().Field(0).Name)
}

type fakeCopier struct {
	execs  []string
	ident  pgx.Identifier
	cols   []string
	rows   [][]any
	copyFn func() error
}

func (f *fakeCopier) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeCopier) CopyFrom(ctx context.Context, ident pgx.Identifier, cols []string, src pgx.CopyFromSource) (int64, error) {
	if f.copyFn != nil {
		if err := f.copyFn(); err != nil {
			return 0, err
		}
	}
	f.ident, f.cols = ident, cols
	for src.Next() {
		vals, err := src.Values()
		if err != nil {
			return 0, err
		}
		f.rows = append(f.rows, vals)
	}
	return int64(len(f.rows)), src.Err()
}

func TestPostgresSinkCopiesRows(t *testing.T) {
	fake := &fakeCopier{}
	s := newPostgresSink(fake, PostgresConfig{Schema: "etl", CreateTables: true}, zerolog.Nop())
	table := eventsTable(t)

	loc, err := s.Write(context.Background(), TableBatch{Table: table})
	require.NoError(t, err)
	assert.Equal(t, `"etl"."logins"`, loc)
	assert.Equal(t, pgx.Identifier{"etl", "logins"}, fake.ident)
	assert.Equal(t, []string{"user", "attempts", "ok", assemble.DefaultSourceColumn, assemble.DefaultModifiedColumn}, fake.cols)
	require.Len(t, fake.rows, 2)
	assert.Equal(t, "bo", fake.rows[1][0])
	assert.Equal(t, int64(3), fake.rows[1][1])
	assert.Equal(t, false, fake.rows[1][2])
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), fake.rows[0][4])

	require.Len(t, fake.execs, 1)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "etl"."logins" ("user" TEXT, "attempts" BIGINT, "ok" BOOLEAN, "s3_source_path" TEXT, "s3_last_modified_utc" TIMESTAMPTZ)`, fake.execs[0])

	// DDL runs once per table
	fake.rows = nil
	_, err = s.Write(context.Background(), TableBatch{Table: table})
	require.NoError(t, err)
	assert.Len(t, fake.execs, 1)
}

func TestPostgresSinkCopyError(t *testing.T) {
	fake := &fakeCopier{copyFn: func() error { return errors.New("relation does not exist") }}
	s := newPostgresSink(fake, PostgresConfig{}, zerolog.Nop())
	_, err := s.Write(context.Background(), TableBatch{Table: eventsTable(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"public"."logins"`)
	assert.Empty(t, fake.execs)
}

func TestClickHouseStatements(t *testing.T) {
	table := eventsTable(t)
	q := quoteCH("db") + "." + quoteCH(table.Name)
	assert.Equal(t, "INSERT INTO `db`.`logins` (`user`, `attempts`, `ok`, `s3_source_path`, `s3_last_modified_utc`)", clickhouseInsert(q, table))

	ddl := clickhouseDDL(q, table)
	assert.True(t, strings.HasPrefix(ddl, "CREATE TABLE IF NOT EXISTS `db`.`logins` (`user` Nullable(String), `attempts` Nullable(Int64)"))
	assert.Contains(t, ddl, "`s3_last_modified_utc` Nullable(DateTime64(6, 'UTC'))")
	assert.True(t, strings.HasSuffix(ddl, "ENGINE = MergeTree ORDER BY tuple()"))
	assert.Equal(t, "`we\\`ird`", quoteCH("we`ird"))
}

type recordingSink struct {
	name string
	err  error
	got  []TableBatch
}

func (r *recordingSink) Name() string { return r.name }
func (r *recordingSink) Write(ctx context.Context, b TableBatch) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.got = append(r.got, b)
	return r.name + ":" + b.Table.Name, nil
}
func (r *recordingSink) Close() error { return nil }

func TestMulti(t *testing.T) {
	a, b := &recordingSink{name: "a"}, &recordingSink{name: "b"}
	m := Multi{a, b}
	loc, err := m.Write(context.Background(), TableBatch{Table: eventsTable(t)})
	require.NoError(t, err)
	assert.Equal(t, "a:logins,b:logins", loc)
	assert.Equal(t, "a,b", m.Name())

	b.err = errors.New("down")
	_, err = m.Write(context.Background(), TableBatch{Table: eventsTable(t)})
	assert.ErrorContains(t, err, "sink b: down")

	_, err = Multi{}.Write(context.Background(), TableBatch{})
	assert.ErrorIs(t, err, ErrNoSinks)
	assert.NoError(t, m.Close())
}
