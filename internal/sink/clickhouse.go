package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/internal/assemble"
	"github.com/basekick-labs/rowhouse/internal/mapping"
)

// ClickHouseConfig configures the ClickHouse sink.
type ClickHouseConfig struct {
	Addr         []string
	Database     string
	Username     string
	Password     string
	CreateTables bool
	DialTimeout  time.Duration
}

// chConn is the subset of driver.Conn the sink uses.
type chConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
	Close() error
}

// ClickHouseSink inserts tables over the native protocol in one batch per
// table.
type ClickHouseSink struct {
	conn     chConn
	database string
	create   bool
	logger   zerolog.Logger

	created sync.Map
}

// NewClickHouseSink opens a native connection and pings it.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig, logger zerolog.Logger) (*ClickHouseSink, error) {
	if len(cfg.Addr) == 0 {
		cfg.Addr = []string{"localhost:9000"}
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	s := newClickHouseSink(conn, cfg, logger)
	s.logger.Info().Strs("addr", cfg.Addr).Str("database", cfg.Database).Msg("Connected to ClickHouse")
	return s, nil
}

func newClickHouseSink(conn chConn, cfg ClickHouseConfig, logger zerolog.Logger) *ClickHouseSink {
	db := cfg.Database
	if db == "" {
		db = "default"
	}
	return &ClickHouseSink{
		conn:     conn,
		database: db,
		create:   cfg.CreateTables,
		logger:   logger.With().Str("component", "clickhouse-sink").Logger(),
	}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, b TableBatch) (string, error) {
	qualified := quoteCH(s.database) + "." + quoteCH(b.Table.Name)

	if s.create {
		if _, done := s.created.Load(qualified); !done {
			if err := s.conn.Exec(ctx, clickhouseDDL(qualified, b.Table)); err != nil {
				return "", fmt.Errorf("failed to create table %s: %w", qualified, err)
			}
			s.created.Store(qualified, struct{}{})
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, clickhouseInsert(qualified, b.Table))
	if err != nil {
		return "", fmt.Errorf("failed to prepare batch for %s: %w", qualified, err)
	}
	vals := make([]any, len(b.Table.Columns))
	for i := 0; i < b.Table.NumRows(); i++ {
		for j, c := range b.Table.Columns {
			vals[j] = c.Value(i)
		}
		if err := batch.Append(vals...); err != nil {
			_ = batch.Abort()
			return "", fmt.Errorf("failed to append row %d to %s: %w", i, qualified, err)
		}
	}
	if err := batch.Send(); err != nil {
		return "", fmt.Errorf("failed to send batch to %s: %w", qualified, err)
	}

	s.logger.Info().Str("table", qualified).Int("rows", b.Table.NumRows()).Msg("Inserted rows into ClickHouse")
	return qualified, nil
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}

func quoteCH(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}

func clickhouseType(t mapping.Type) string {
	switch t {
	case mapping.TypeInteger:
		return "Nullable(Int64)"
	case mapping.TypeFloat:
		return "Nullable(Float64)"
	case mapping.TypeBoolean:
		return "Nullable(Bool)"
	case mapping.TypeTimestamp, mapping.TypeDate:
		return "Nullable(DateTime64(6, 'UTC'))"
	default:
		return "Nullable(String)"
	}
}

func clickhouseDDL(qualified string, t *assemble.Table) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteCH(c.Name) + " " + clickhouseType(c.Type)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY tuple()",
		qualified, strings.Join(cols, ", "))
}

func clickhouseInsert(qualified string, t *assemble.Table) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteCH(c.Name)
	}
	return fmt.Sprintf("INSERT INTO %s (%s)", qualified, strings.Join(cols, ", "))
}
