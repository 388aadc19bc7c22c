// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/retry"
	"github.com/pdiddy/recall-engine/internal/vectorstore"
	"github.com/pdiddy/recall-engine/pkg/types"
)

var (
	t0         = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	fastPolicy = retry.Policy{Retries: 1, BaseDelay: time.Millisecond}
)

// mockStore records queries and returns canned results per message type.
type mockStore struct {
	byType  map[types.MessageType][]types.SearchResult
	err     error
	calls   int
	filters []vectorstore.Filter
	limits  []int
}

func (m *mockStore) Store(context.Context, types.StoredMessage) error { return nil }
func (m *mockStore) GetByID(context.Context, string) (types.StoredMessage, error) {
	return types.StoredMessage{}, vectorstore.ErrNotFound
}
func (m *mockStore) Close() error { return nil }

func (m *mockStore) Query(_ context.Context, _ []float32, f vectorstore.Filter, limit int) ([]types.SearchResult, error) {
	m.calls++
	m.filters = append(m.filters, f)
	m.limits = append(m.limits, limit)
	if m.err != nil {
		return nil, m.err
	}
	return append([]types.SearchResult(nil), m.byType[f.Type]...), nil
}

func sr(id string, score float64, minutes int) types.SearchResult {
	return types.SearchResult{
		StoredMessage:   types.StoredMessage{ID: id, Timestamp: t0.Add(time.Duration(minutes) * time.Minute)},
		SimilarityScore: score,
	}
}

func resultIDs(rs []types.SearchResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func staticEmbedder(calls *int) capability.Embedder {
	return capability.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		*calls++
		return []float32{1, 0}, nil
	})
}

func newEngine(e capability.Embedder, s vectorstore.Store) *Engine {
	return NewEngine(e, s, Options{FetchFactor: 3, EmbedPolicy: fastPolicy, StorePolicy: fastPolicy}, nil)
}

func TestRank(t *testing.T) {
	in := []types.SearchResult{
		sr("low", 0.7, 0),
		sr("mid-old", 0.8, 0),
		sr("top", 0.95, 0),
		sr("mid-new", 0.8, 9),
		sr("edge", 0.75, 0),
	}
	got := Rank(in, 0.75, 10)
	assert.Equal(t, []string{"top", "mid-new", "mid-old", "edge"}, resultIDs(got))

	for _, r := range got {
		assert.GreaterOrEqual(t, r.SimilarityScore, 0.75)
	}
	for i := 0; i+1 < len(got); i++ {
		assert.GreaterOrEqual(t, got[i].SimilarityScore, got[i+1].SimilarityScore)
	}

	assert.Equal(t, []string{"top", "mid-new"}, resultIDs(Rank(in, 0.75, 2)))
	assert.Empty(t, Rank(in, 0.99, 5))
	assert.Empty(t, Rank(nil, 0.5, 5))
}

func TestSearch(t *testing.T) {
	var embeds int
	store := &mockStore{byType: map[types.MessageType][]types.SearchResult{
		types.MessageAnswer: {sr("a", 0.76, 0), sr("b", 0.9, 0), sr("c", 0.5, 0)},
	}}
	e := newEngine(staticEmbedder(&embeds), store)

	out := e.Search(context.Background(), Query{Text: "how to hash?", Room: "Techline", Type: types.MessageAnswer, Limit: 5, MinSimilarity: 0.75})
	assert.False(t, out.Degraded)
	assert.Equal(t, []string{"b", "a"}, resultIDs(out.Results))
	assert.Equal(t, 1, embeds)
	assert.Equal(t, []int{15}, store.limits, "fetch size is limit times fetch factor")
	assert.Equal(t, vectorstore.Filter{Room: "Techline", Type: types.MessageAnswer}, store.filters[0])
}

func TestSearch_FetchSize(t *testing.T) {
	tests := []struct {
		name   string
		factor int
		limit  int
	}{
		{name: "factor three", factor: 3, limit: 5},
		{name: "unset factor fetches limit", factor: 0, limit: 5},
		{name: "negative factor fetches limit", factor: -1, limit: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var embeds int
			store := &mockStore{byType: map[types.MessageType][]types.SearchResult{}}
			e := NewEngine(staticEmbedder(&embeds), store,
				Options{FetchFactor: tt.factor, EmbedPolicy: fastPolicy, StorePolicy: fastPolicy}, nil)

			e.Search(context.Background(), Query{Text: "q", Room: "Techline", Type: types.MessageAnswer, Limit: tt.limit})
			assert.Equal(t, []int{types.FetchSize(tt.limit, tt.factor)}, store.limits)
			assert.GreaterOrEqual(t, store.limits[0], tt.limit)
		})
	}
}

func TestSearch_EmptyInput(t *testing.T) {
	var embeds int
	store := &mockStore{}
	e := newEngine(staticEmbedder(&embeds), store)

	out := e.Search(context.Background(), Query{Text: "  ", Room: "Techline", Limit: 5})
	assert.Empty(t, out.Results)
	assert.False(t, out.Degraded)
	assert.Zero(t, embeds)
	assert.Zero(t, store.calls)

	out = e.SearchVector(context.Background(), nil, Query{Room: "Techline", Limit: 5})
	assert.Empty(t, out.Results)
	assert.Zero(t, store.calls)
}

func TestSearch_EmbeddingFailureDegrades(t *testing.T) {
	var calls int
	emb := capability.EmbedderFunc(func(context.Context, string) ([]float32, error) {
		calls++
		return nil, errors.New("timeout")
	})
	store := &mockStore{}
	out := newEngine(emb, store).Search(context.Background(), Query{Text: "q", Room: "Techline", Limit: 5})

	assert.Empty(t, out.Results)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Cause, ErrEmbedding)
	assert.Equal(t, 2, calls, "one retry")
	assert.Zero(t, store.calls)
}

func TestSearch_QueryFailureDegrades(t *testing.T) {
	var embeds int
	store := &mockStore{err: errors.New("connection reset")}
	out := newEngine(staticEmbedder(&embeds), store).Search(context.Background(),
		Query{Text: "q", Room: "Techline", Type: types.MessageAnswer, Limit: 5, AnyTypeFallback: true})

	assert.Empty(t, out.Results)
	assert.True(t, out.Degraded)
	assert.ErrorIs(t, out.Cause, ErrQuery)
	assert.Equal(t, 2, store.calls, "one retry and no untyped fallback after a failure")
}

func TestSearch_PermanentStoreErrorIsNotRetried(t *testing.T) {
	var embeds int
	store := &mockStore{err: &vectorstore.OperationError{Code: vectorstore.CodeValidation, Message: "dimension mismatch"}}
	out := newEngine(staticEmbedder(&embeds), store).Search(context.Background(), Query{Text: "q", Room: "Techline", Limit: 5})
	assert.True(t, out.Degraded)
	assert.Equal(t, 1, store.calls)
}

func TestSearchVector_AnyTypeFallback(t *testing.T) {
	store := &mockStore{byType: map[types.MessageType][]types.SearchResult{
		types.MessageAnswer: {sr("weak-answer", 0.6, 0)},
		"":                  {sr("discussion", 0.9, 0), sr("weak-answer", 0.6, 0)},
	}}
	e := NewEngine(nil, store, Options{StorePolicy: fastPolicy}, nil)
	q := Query{Room: "Techline", Type: types.MessageAnswer, Limit: 3, MinSimilarity: 0.75, ExcludeIDs: []string{"self"}}

	out := e.SearchVector(context.Background(), []float32{1}, q)
	assert.Empty(t, out.Results, "no fallback unless requested")
	assert.Equal(t, 1, store.calls)

	q.AnyTypeFallback = true
	out = e.SearchVector(context.Background(), []float32{1}, q)
	assert.Equal(t, []string{"discussion"}, resultIDs(out.Results))
	assert.True(t, out.Fallback)
	last := store.filters[len(store.filters)-1]
	assert.Equal(t, types.MessageType(""), last.Type)
	assert.Equal(t, []string{"self"}, last.ExcludeIDs)
}

// Round trip: a stored message is the top hit for its own embedding.
func TestSearch_RoundTripWithSQLite(t *testing.T) {
	store, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "recall.db"), 3)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	vectors := map[string][]float32{
		"Use bcrypt for password hashing in FastAPI.": {0.9, 0.1, 0.2},
		"Deploy with docker compose up -d":            {-0.2, 0.9, 0.1},
		"Postgres indexes speed up lookups":           {0.1, -0.3, 0.9},
	}
	emb := capability.EmbedderFunc(func(_ context.Context, text string) ([]float32, error) {
		return vectors[text], nil
	})
	i := 0
	for text, vec := range vectors {
		i++
		require.NoError(t, store.Store(ctx, types.StoredMessage{
			ID: text[:6], Text: text, Author: "dev", Room: "Techline",
			Timestamp: t0.Add(time.Duration(i) * time.Minute), Type: types.MessageAnswer, Embedding: vec,
		}))
	}

	e := newEngine(emb, store)
	for text := range vectors {
		out := e.Search(ctx, Query{Text: text, Room: "Techline", Type: types.MessageAnswer, Limit: 5, MinSimilarity: 0.75})
		require.NotEmpty(t, out.Results, text)
		assert.Equal(t, text, out.Results[0].Text)
		assert.GreaterOrEqual(t, out.Results[0].SimilarityScore, 0.75)
	}
}
