// Package router groups documents by the discriminator value found at a
// fixed path, so each group can be mapped to its own table.
package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/basekick-labs/rowhouse/pkg/models"
)

// ErrUnresolvable is reported for documents whose discriminator is missing
// or not a scalar.
var ErrUnresolvable = errors.New("discriminator not found")

// Router splits document batches.
type Router struct {
	path   []string
	logger zerolog.Logger
}

// New returns a Router following path, e.g. ["header", "action"].
func New(path []string, logger zerolog.Logger) (*Router, error) {
	if len(path) == 0 {
		return nil, errors.New("split path is empty")
	}
	for _, p := range path {
		if p == "" {
			return nil, fmt.Errorf("split path %q has an empty segment", strings.Join(path, "."))
		}
	}
	return &Router{
		path:   append([]string(nil), path...),
		logger: logger.With().Str("component", "router").Logger(),
	}, nil
}

// ParsePath splits a dotted split path.
func ParsePath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// Path returns the configured split path.
func (r *Router) Path() []string { return r.path }

// Discriminator returns the routing value of doc. Strings are used as-is,
// numbers as their literal and booleans as true/false.
func (r *Router) Discriminator(doc models.Value) (string, error) {
	cur := doc
	for _, key := range r.path {
		next, ok := cur.Get(key)
		if !ok {
			return "", fmt.Errorf("%w: missing %q", ErrUnresolvable, key)
		}
		cur = next
	}
	switch cur.Kind() {
	case models.KindString, models.KindNumber, models.KindBool:
		return cur.Text(), nil
	default:
		return "", fmt.Errorf("%w: value is %s", ErrUnresolvable, cur.Kind())
	}
}

// Batch is the result of Split.
type Batch struct {
	// Groups holds documents per discriminator value, in input order.
	Groups map[string][]models.Value
	// Order lists discriminator values by first appearance.
	Order []string
	// Dropped counts documents without a usable discriminator.
	Dropped int
}

// Split groups docs by discriminator. Documents that cannot be routed are
// logged and dropped.
func (r *Router) Split(docs []models.Value) Batch {
	b := Batch{Groups: make(map[string][]models.Value)}
	for i, doc := range docs {
		key, err := r.Discriminator(doc)
		if err != nil {
			b.Dropped++
			r.logger.Error().Err(err).Int("index", i).Str("split_path", strings.Join(r.path, ".")).
				Msg("Split path not found in message")
			continue
		}
		if _, seen := b.Groups[key]; !seen {
			b.Order = append(b.Order, key)
		}
		b.Groups[key] = append(b.Groups[key], doc)
	}
	return b
}
