package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/mapping"
)

// PostgresConfig configures the PostgreSQL sink.
type PostgresConfig struct {
	DSN          string
	Schema       string
	CreateTables bool
	MaxConns     int32
}

// pgConn is the subset of *pgxpool.Pool the sink uses.
type pgConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// PostgresSink loads tables with COPY FROM.
type PostgresSink struct {
	conn   pgConn
	pool   *pgxpool.Pool
	schema string
	create bool
	logger zerolog.Logger

	created sync.Map // qualified table name -> struct{}
}

// NewPostgresSink connects a pool and verifies it with a ping.
func NewPostgresSink(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresSink, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := newPostgresSink(pool, cfg, logger)
	s.pool = pool
	s.logger.Info().Str("host", poolCfg.ConnConfig.Host).Str("schema", s.schema).Msg("Connected to PostgreSQL")
	return s, nil
}

func newPostgresSink(conn pgConn, cfg PostgresConfig, logger zerolog.Logger) *PostgresSink {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &PostgresSink{
		conn:   conn,
		schema: schema,
		create: cfg.CreateTables,
		logger: logger.With().Str("component", "postgres-sink").Logger(),
	}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, b TableBatch) (string, error) {
	ident := pgx.Identifier{s.schema, b.Table.Name}
	qualified := ident.Sanitize()

	if s.create {
		if _, done := s.created.Load(qualified); !done {
			if _, err := s.conn.Exec(ctx, postgresDDL(ident, b.Table)); err != nil {
				return "", fmt.Errorf("failed to create table %s: %w", qualified, err)
			}
			s.created.Store(qualified, struct{}{})
		}
	}

	n, err := s.conn.CopyFrom(ctx, ident, b.Table.Names(), &tableRows{table: b.Table, row: -1})
	if err != nil {
		return "", fmt.Errorf("copy into %s failed: %w", qualified, err)
	}
	s.logger.Info().Str("table", qualified).Int64("rows", n).Msg("Copied rows into PostgreSQL")
	return qualified, nil
}

func (s *PostgresSink) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func postgresType(t mapping.Type) string {
	switch t {
	case mapping.TypeInteger:
		return "BIGINT"
	case mapping.TypeFloat:
		return "DOUBLE PRECISION"
	case mapping.TypeBoolean:
		return "BOOLEAN"
	case mapping.TypeTimestamp, mapping.TypeDate:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func postgresDDL(ident pgx.Identifier, t *assemble.Table) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = pgx.Identifier{c.Name}.Sanitize() + " " + postgresType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", ident.Sanitize(), strings.Join(cols, ", "))
}

// tableRows adapts an assembled table to pgx.CopyFromSource.
type tableRows struct {
	table *assemble.Table
	row   int
}

func (r *tableRows) Next() bool {
	r.row++
	return r.row < r.table.NumRows()
}

func (r *tableRows) Values() ([]any, error) {
	vals := make([]any, len(r.table.Columns))
	for i, c := range r.table.Columns {
		vals[i] = c.Value(r.row)
	}
	return vals, nil
}

func (r *tableRows) Err() error { return nil }
