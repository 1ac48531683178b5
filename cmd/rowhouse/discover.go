package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/basekick-labs/rowhouse/internal/config"
	"github.com/basekick-labs/rowhouse/internal/decode"
	"github.com/basekick-labs/rowhouse/internal/discover"
	"github.com/basekick-labs/rowhouse/internal/logger"
	"github.com/basekick-labs/rowhouse/pkg/models"
)

// discoverReport is the --json output.
type discoverReport struct {
	Documents  int                         `json:"documents"`
	Candidates []discover.SplitterResult   `json:"candidates"`
	Splitter   string                      `json:"splitter,omitempty"`
	Structure  []discover.StructureSummary `json:"structure,omitempty"`
}

func discoverCommand(args []string) int {
	defaults := discover.DefaultOptions()
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	split := fs.String("split", "", "evaluate this split path (comma-separated for a composite key)")
	top := fs.Int("top", 5, "number of candidates to list")
	similarity := fs.String("similarity", "jaccard", "structure similarity: jaccard, weighted or exact")
	maxCard := fs.Int("max-cardinality", defaults.MaxCardinality, "skip fields with more distinct values")
	minCov := fs.Float64("min-coverage", defaults.MinCoverage, "fraction of documents that must carry a field")
	maxDepth := fs.Int("max-depth", defaults.MaxDepth, "skip fields nested deeper than this")
	format := fs.String("format", "auto", "input format: auto, json or msgpack")
	maxSize := fs.String("max-size", "512MB", "largest input file accepted")
	limit := fs.Int("limit", 0, "analyze at most this many documents (0 for all)")
	asJSON := fs.Bool("json", false, "print results as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "discover needs at least one sample file (- for stdin)")
		return 2
	}

	logger.Setup("warn", "console")

	sim, err := discover.ParseSimilarity(*similarity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	forced, err := decode.ParseFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	size, err := config.ParseSize(*maxSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --max-size: %v\n", err)
		return 2
	}

	decoder := decode.NewDecoder(size, logger.Get("decoder"))
	var docs []models.Value
	for _, path := range fs.Args() {
		data, err := readInput(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", path, err)
			return 1
		}
		f := forced
		if f == decode.FormatAuto {
			f = decode.FormatForKey(path)
		}
		parsed, err := decoder.DecodeBytes(data, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to decode %s: %v\n", path, err)
			return 1
		}
		docs = append(docs, parsed...)
	}
	if *limit > 0 && len(docs) > *limit {
		docs = docs[:*limit]
	}

	opts := discover.Options{MaxCardinality: *maxCard, MinCoverage: *minCov, MaxDepth: *maxDepth}
	analyzer := discover.NewAnalyzer(sim, logger.Get("discover"))

	var fields []string
	if *split != "" {
		for _, f := range strings.Split(*split, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}

	if !*asJSON {
		switch len(fields) {
		case 0:
			fmt.Println(analyzer.Describe(docs, "", *top, opts))
		case 1:
			fmt.Println(analyzer.Describe(docs, fields[0], *top, opts))
			printEvaluation(analyzer.Evaluate(docs, fields...))
		default:
			printEvaluation(analyzer.Evaluate(docs, fields...))
		}
		return 0
	}

	report := discoverReport{Documents: len(docs)}
	candidates := analyzer.FindSplitters(docs, opts)
	if len(candidates) > *top {
		candidates = candidates[:*top]
	}
	report.Candidates = candidates
	switch {
	case len(fields) > 1:
		report.Candidates = append([]discover.SplitterResult{analyzer.Evaluate(docs, fields...)}, candidates...)
	case len(fields) == 1:
		report.Splitter = fields[0]
	case len(candidates) > 0:
		report.Splitter = candidates[0].Field
	}
	if report.Splitter != "" {
		report.Structure = analyzer.StructureByValue(docs, report.Splitter)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		return 1
	}
	return 0
}

func printEvaluation(r discover.SplitterResult) {
	fmt.Printf("\nSplit %s: %d values, coverage %.0f%%, score %.2f (within %.2f, between %.3f)\n",
		r.Field, r.DistinctValues, r.Coverage*100, r.Score, r.WithinSimilarity, r.BetweenSimilarity)
}
