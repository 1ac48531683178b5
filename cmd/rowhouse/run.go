package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/basekick-labs/rowhouse/internal/pipeline"
)

func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	prefix := fs.String("prefix", "", "process every object under this input prefix")
	event := fs.String("event", "", "process the objects named by a storage event file (- for stdin)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	keys := fs.Args()

	sources := 0
	for _, set := range []bool{*prefix != "", *event != "", len(keys) > 0} {
		if set {
			sources++
		}
	}
	if sources != 1 {
		fmt.Fprintln(os.Stderr, "run needs exactly one of --prefix, --event or object keys")
		return 2
	}

	var payload []byte
	if *event != "" {
		var err error
		if payload, err = readInput(*event); err != nil {
			fmt.Fprintf(os.Stderr, "failed to read event: %v\n", err)
			return 1
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("Error releasing resources")
		}
	}()

	var results []*pipeline.ObjectResult
	switch {
	case *prefix != "":
		results, err = c.pipeline.ProcessPrefix(ctx, *prefix)
	case *event != "":
		results, err = c.pipeline.ProcessEvent(ctx, payload)
	default:
		results, err = c.pipeline.ProcessObjects(ctx, keys)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(results); encErr != nil {
			log.Error().Err(encErr).Msg("Failed to encode results")
			return 1
		}
	} else {
		logResults(results)
	}

	if err != nil {
		log.Error().Err(err).Msg("Run failed")
		return 1
	}
	return 0
}

func logResults(results []*pipeline.ObjectResult) {
	var rows, failed, skipped int
	for _, r := range results {
		switch {
		case r.Skipped:
			skipped++
			log.Info().Str("key", r.Key).Msg("Skipped, already processed")
			continue
		case r.Error != "":
			failed++
			log.Error().Str("key", r.Key).Str("error", r.Error).Msg("Object failed")
			continue
		}
		for _, t := range r.Tables {
			rows += t.Rows
			ev := log.Info()
			if t.Error != "" {
				ev = log.Error().Str("error", t.Error)
			}
			ev.Str("key", r.Key).
				Str("table", t.Table).
				Int("rows", t.Rows).
				Int("warnings", t.Warnings).
				Str("output", t.Output).
				Msg("Table written")
		}
	}
	log.Info().
		Int("objects", len(results)).
		Int("skipped", skipped).
		Int("failed", failed).
		Int("rows", rows).
		Msg("Run complete")
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
