// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search finds stored messages similar to a query. An empty
// result list is a normal outcome: it is how a novel question is
// represented. Search never returns an error; failures degrade to an
// empty Outcome flagged Degraded.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/retry"
	"github.com/pdiddy/recall-engine/internal/vectorstore"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// Query holds the search parameters.
type Query struct {
	Text          string
	Room          string
	Type          types.MessageType
	Limit         int
	MinSimilarity float64

	// AnyTypeFallback repeats the search without the Type filter when the
	// typed search yields nothing.
	AnyTypeFallback bool

	ExcludeIDs []string
}

// IsEmpty reports whether the query has no searchable text.
func (q Query) IsEmpty() bool {
	return strings.TrimSpace(q.Text) == ""
}

// Outcome is the result of one search.
type Outcome struct {
	// Results are ordered by similarity descending; every score is at
	// least the query's MinSimilarity.
	Results []types.SearchResult

	// Degraded is set when the embedding or the vector query failed, so
	// an empty Results says nothing about history.
	Degraded bool

	// Cause is the failure behind Degraded.
	Cause error

	// Fallback is set when results came from the untyped retry.
	Fallback bool
}

// ErrEmbedding and ErrQuery classify Outcome.Cause.
var (
	ErrEmbedding = errors.New("query embedding failed")
	ErrQuery     = errors.New("vector query failed")
)

// Options configures an Engine.
type Options struct {
	// FetchFactor multiplies Limit to size the vector store fetch. Values
	// below 1 fetch exactly Limit.
	FetchFactor int

	// EmbedPolicy and StorePolicy bound the embedding call and the vector
	// query respectively.
	EmbedPolicy retry.Policy
	StorePolicy retry.Policy
}

// Engine combines an Embedder and a vector Store.
type Engine struct {
	embedder capability.Embedder
	store    vectorstore.Store
	opts     Options
	log      *logger.Logger
}

func NewEngine(embedder capability.Embedder, store vectorstore.Store, opts Options, log *logger.Logger) *Engine {
	return &Engine{embedder: embedder, store: store, opts: opts, log: logger.OrNop(log).With("service", "SearchEngine")}
}

// Search embeds q.Text and runs SearchVector.
func (e *Engine) Search(ctx context.Context, q Query) Outcome {
	if q.IsEmpty() || q.Limit <= 0 {
		return Outcome{}
	}
	vec, err := retry.Do(ctx, e.opts.EmbedPolicy, func(ctx context.Context) ([]float32, error) {
		v, err := e.embedder.Embed(ctx, q.Text)
		if err != nil && !capability.IsRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return v, err
	})
	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("embedder returned an empty vector")
	}
	if err != nil {
		e.log.Warn("search degraded: embedding failed", "room", q.Room, "error", err)
		return Outcome{Degraded: true, Cause: fmt.Errorf("%w: %w", ErrEmbedding, err)}
	}
	return e.SearchVector(ctx, vec, q)
}

// SearchVector searches with a precomputed query vector. q.Text is not
// used.
func (e *Engine) SearchVector(ctx context.Context, vec []float32, q Query) Outcome {
	if len(vec) == 0 || q.Limit <= 0 {
		return Outcome{}
	}
	start := time.Now()

	out := e.run(ctx, vec, q)
	if len(out.Results) == 0 && !out.Degraded && q.AnyTypeFallback && q.Type != "" {
		untyped := q
		untyped.Type = ""
		out = e.run(ctx, vec, untyped)
		out.Fallback = len(out.Results) > 0
	}

	e.log.Debug("search complete",
		"room", q.Room,
		"type", q.Type,
		"results", len(out.Results),
		"fallback", out.Fallback,
		"degraded", out.Degraded,
		"elapsed", time.Since(start),
	)
	return out
}

func (e *Engine) run(ctx context.Context, vec []float32, q Query) Outcome {
	filter := vectorstore.Filter{Room: q.Room, Type: q.Type, ExcludeIDs: q.ExcludeIDs}
	fetch := types.FetchSize(q.Limit, e.opts.FetchFactor)

	candidates, err := retry.Do(ctx, e.opts.StorePolicy, func(ctx context.Context) ([]types.SearchResult, error) {
		rs, err := e.store.Query(ctx, vec, filter, fetch)
		if vectorstore.IsPermanent(err) {
			return nil, retry.Permanent(err)
		}
		return rs, err
	})
	if err != nil {
		e.log.Warn("search degraded: vector query failed", "room", q.Room, "error", err)
		return Outcome{Degraded: true, Cause: fmt.Errorf("%w: %w", ErrQuery, err)}
	}
	return Outcome{Results: Rank(candidates, q.MinSimilarity, q.Limit)}
}

// Rank drops results below minSimilarity, orders the rest by similarity
// descending (newest first on ties), and keeps at most limit.
func Rank(results []types.SearchResult, minSimilarity float64, limit int) []types.SearchResult {
	kept := make([]types.SearchResult, 0, len(results))
	for _, r := range results {
		if r.SimilarityScore >= minSimilarity {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].SimilarityScore != kept[j].SimilarityScore {
			return kept[i].SimilarityScore > kept[j].SimilarityScore
		}
		return kept[i].Timestamp.After(kept[j].Timestamp)
	})
	if limit > 0 && len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
