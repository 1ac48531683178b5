package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/basekick-labs/rowhouse/internal/coerce"
	"github.com/basekick-labs/rowhouse/internal/columnar"
	"github.com/basekick-labs/rowhouse/internal/config"
	"github.com/basekick-labs/rowhouse/internal/decode"
	"github.com/basekick-labs/rowhouse/internal/ledger"
	"github.com/basekick-labs/rowhouse/internal/logger"
	"github.com/basekick-labs/rowhouse/internal/mapping"
	"github.com/basekick-labs/rowhouse/internal/metrics"
	"github.com/basekick-labs/rowhouse/internal/pipeline"
	"github.com/basekick-labs/rowhouse/internal/processor"
	"github.com/basekick-labs/rowhouse/internal/sink"
	"github.com/basekick-labs/rowhouse/internal/storage"
)

// components is everything a processing run needs.
type components struct {
	input     storage.Backend
	output    storage.Backend // nil unless Parquet output is enabled
	decoder   *decode.Decoder
	processor *processor.Processor
	sinks     sink.Multi
	ledger    *ledger.Ledger
	pipeline  *pipeline.Pipeline
}

func storageConfig(sc config.StorageConfig) storage.Config {
	cfg := storage.Config{
		Type:      sc.Backend,
		LocalPath: sc.LocalPath,
		S3: storage.S3Config{
			Bucket:    sc.S3Bucket,
			Region:    sc.S3Region,
			Endpoint:  sc.S3Endpoint,
			AccessKey: sc.S3AccessKey,
			SecretKey: sc.S3SecretKey,
			UseSSL:    sc.S3UseSSL,
			PathStyle: sc.S3PathStyle,
		},
		Azure: storage.AzureBlobConfig{
			ConnectionString:   sc.AzureConnectionString,
			AccountName:        sc.AzureAccountName,
			AccountKey:         sc.AzureAccountKey,
			SASToken:           sc.AzureSASToken,
			UseManagedIdentity: sc.AzureUseManagedIdentity,
			ContainerName:      sc.AzureContainer,
			Endpoint:           sc.AzureEndpoint,
		},
	}
	if sc.Resilient {
		rc := storage.DefaultResilientConfig()
		if sc.MaxRetries > 0 {
			rc.MaxRetries = sc.MaxRetries
		}
		if sc.MaxFailures > 0 {
			rc.MaxFailures = sc.MaxFailures
		}
		if sc.BreakerTimeout > 0 {
			rc.Timeout = time.Duration(sc.BreakerTimeout) * time.Second
		}
		cfg.Resilience = rc
	}
	return cfg
}

// buildProcessor loads the table mapping and compiles the processor.
func buildProcessor(cfg *config.Config) (*processor.Processor, error) {
	tables, err := mapping.LoadFile(cfg.Processor.MappingFile)
	if err != nil {
		return nil, err
	}
	opts := coerce.DefaultOptions()
	opts.AllowNegative = cfg.Processor.AllowNegative
	return processor.New(processor.Config{
		SplitPath:        cfg.Processor.SplitPath,
		DefaultCoerce:    cfg.Processor.DefaultCoerce,
		SourceColumn:     cfg.Processor.SourceColumn,
		ModifiedColumn:   cfg.Processor.ModifiedColumn,
		Coerce:           opts,
		NormalizeAliases: cfg.Processor.NormalizeAliases,
	}, tables, logger.Get("processor"))
}

// build wires storage, sinks, ledger and pipeline. On error everything
// opened so far is closed.
func build(ctx context.Context, cfg *config.Config) (*components, error) {
	c := &components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	format, err := decode.ParseFormat(cfg.Processor.Format)
	if err != nil {
		return nil, err
	}
	if c.processor, err = buildProcessor(cfg); err != nil {
		return nil, err
	}
	c.decoder = decode.NewDecoder(cfg.Processor.MaxObjectSize, logger.Get("decoder"))

	if c.input, err = storage.Open(storageConfig(cfg.Storage), logger.Get("storage")); err != nil {
		return nil, fmt.Errorf("failed to open input storage: %w", err)
	}
	log.Info().Str("backend", c.input.Type()).Msg("Input storage initialized")

	if cfg.Output.Parquet {
		if c.output, err = storage.Open(storageConfig(cfg.Output.StorageConfig), logger.Get("output-storage")); err != nil {
			return nil, fmt.Errorf("failed to open output storage: %w", err)
		}
		writer, err := columnar.NewArrowWriter(columnar.Options{
			Compression:     cfg.Parquet.Compression,
			UseDictionary:   cfg.Parquet.UseDictionary,
			WriteStatistics: cfg.Parquet.WriteStatistics,
			DataPageVersion: cfg.Parquet.DataPageVersion,
		}, logger.Get("columnar"))
		if err != nil {
			return nil, err
		}
		c.sinks = append(c.sinks, sink.NewParquetSink(c.output, writer, cfg.Output.KeyTemplate, logger.Get("parquet-sink")))
		log.Info().
			Str("backend", c.output.Type()).
			Str("compression", cfg.Parquet.Compression).
			Msg("Parquet output initialized")
	}

	if cfg.Postgres.Enabled {
		pg, err := sink.NewPostgresSink(ctx, sink.PostgresConfig{
			DSN:          cfg.Postgres.DSN,
			Schema:       cfg.Postgres.Schema,
			CreateTables: cfg.Postgres.CreateTables,
			MaxConns:     int32(cfg.Postgres.MaxConns),
		}, logger.Get("postgres-sink"))
		if err != nil {
			return nil, err
		}
		c.sinks = append(c.sinks, pg)
	}

	if cfg.ClickHouse.Enabled {
		ch, err := sink.NewClickHouseSink(ctx, sink.ClickHouseConfig{
			Addr:         cfg.ClickHouse.Addr,
			Database:     cfg.ClickHouse.Database,
			Username:     cfg.ClickHouse.Username,
			Password:     cfg.ClickHouse.Password,
			CreateTables: cfg.ClickHouse.CreateTables,
			DialTimeout:  time.Duration(cfg.ClickHouse.DialTimeoutSeconds) * time.Second,
		}, logger.Get("clickhouse-sink"))
		if err != nil {
			return nil, err
		}
		c.sinks = append(c.sinks, ch)
	}
	if len(c.sinks) == 0 {
		return nil, sink.ErrNoSinks
	}

	if cfg.Ledger.Enabled {
		if c.ledger, err = ledger.Open(cfg.Ledger.Path, logger.Get("ledger")); err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.Ledger.Path).Msg("Ledger initialized")
	}

	c.pipeline, err = pipeline.New(pipeline.Config{
		Workers:  cfg.Processor.Workers,
		Format:   format,
		SkipSeen: cfg.Processor.SkipSeen && c.ledger != nil,
	}, pipeline.Deps{
		Input:     c.input,
		Decoder:   c.decoder,
		Processor: c.processor,
		Sink:      c.sinks,
		Ledger:    c.ledger,
		Metrics:   metrics.Get(),
	}, logger.Get("pipeline"))
	if err != nil {
		return nil, err
	}
	ok = true
	return c, nil
}

// Close releases sinks, ledger and storage in that order.
func (c *components) Close() error {
	var errs []error
	if len(c.sinks) > 0 {
		errs = append(errs, c.sinks.Close())
	}
	if c.ledger != nil {
		errs = append(errs, c.ledger.Close())
	}
	if c.output != nil {
		errs = append(errs, c.output.Close())
	}
	if c.input != nil {
		errs = append(errs, c.input.Close())
	}
	return errors.Join(errs...)
}
