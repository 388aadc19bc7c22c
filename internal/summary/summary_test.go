// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/codespan"
	"github.com/pdiddy/recall-engine/internal/retry"
	"github.com/pdiddy/recall-engine/pkg/types"
)

var (
	t0         = time.Date(2026, 2, 10, 15, 30, 0, 0, time.UTC)
	fastPolicy = retry.Policy{Retries: 2, BaseDelay: time.Millisecond}
)

const bcryptAnswer = "Use bcrypt for password hashing in FastAPI:\n```python\nimport bcrypt\nhashed = bcrypt.hashpw(pw.encode(), bcrypt.gensalt())\n```"

func source(id, author, text string, score float64) types.SearchResult {
	hasCode, lang := codespan.Detect(text)
	return types.SearchResult{
		StoredMessage: types.StoredMessage{
			ID: id, Author: author, Text: text, Room: "Techline", Timestamp: t0,
			Type: types.MessageAnswer, Tags: types.NewTags(nil, nil, hasCode, lang),
		},
		SimilarityScore: score,
	}
}

type recordingGen struct {
	out   string
	err   error
	calls int
	req   capability.Request
}

func (g *recordingGen) Generate(_ context.Context, req capability.Request) (string, error) {
	g.calls++
	g.req = req
	return g.out, g.err
}

func TestGenerate_NoResultsIsNovel(t *testing.T) {
	gen := &recordingGen{}
	a, err := New(gen, Options{Policy: fastPolicy}, nil).Generate(context.Background(), "why?", nil)
	require.NoError(t, err)
	assert.True(t, a.IsNovelQuestion)
	assert.Equal(t, []types.SearchResult{}, a.SourceMessages)
	assert.Equal(t, 1.0, a.Confidence)
	assert.Equal(t, NovelQuestionText, a.SummaryText)
	assert.Zero(t, gen.calls)
}

func TestGenerate(t *testing.T) {
	gen := &recordingGen{out: "Hash passwords with bcrypt:\n```python\nimport bcrypt\nhashed = bcrypt.hashpw(pw.encode(), bcrypt.gensalt())\n```"}
	results := []types.SearchResult{source("m1", "alice", bcryptAnswer, 0.92)}

	a, err := New(gen, Options{Policy: fastPolicy}, nil).Generate(context.Background(), "How do I hash passwords in my API?", results)
	require.NoError(t, err)
	assert.False(t, a.IsNovelQuestion)
	assert.Contains(t, a.SummaryText, "bcrypt")
	assert.Contains(t, a.SummaryText, "Sources:\n1. alice, 2026-02-10T15:30:00Z (similarity 0.92)")
	assert.NotContains(t, a.SummaryText, codeHeading, "code already present")
	assert.Equal(t, results, a.SourceMessages)

	assert.Contains(t, gen.req.Prompt, "How do I hash passwords in my API?")
	assert.Contains(t, gen.req.Prompt, "[1] similarity 0.92")
	assert.Contains(t, gen.req.Prompt, "bcrypt.gensalt()")
	assert.False(t, gen.req.JSON)
}

func TestGenerate_AppendsDroppedCode(t *testing.T) {
	gen := &recordingGen{out: "Use bcrypt with a per-password salt."}
	results := []types.SearchResult{source("m1", "alice", bcryptAnswer, 0.9)}

	a, err := New(gen, Options{Policy: fastPolicy}, nil).Generate(context.Background(), "hashing?", results)
	require.NoError(t, err)
	assert.Contains(t, a.SummaryText, codeHeading)
	assert.True(t, codespan.Contains(a.SummaryText, "import bcrypt\nhashed = bcrypt.hashpw(pw.encode(), bcrypt.gensalt())"))
	assert.Less(t, strings.Index(a.SummaryText, codeHeading), strings.Index(a.SummaryText, sourcesHeading))
}

func TestGenerate_FallbackKeepsSourcesAndCode(t *testing.T) {
	gen := &recordingGen{err: errors.New("upstream 503")}
	results := []types.SearchResult{
		source("m1", "alice", bcryptAnswer, 0.9),
		source("m2", "bob", "argon2 is also fine", 0.8),
	}

	a, err := New(gen, Options{Policy: fastPolicy}, nil).Generate(context.Background(), "hashing?", results)
	require.Error(t, err)
	assert.Equal(t, 3, gen.calls)
	assert.False(t, a.IsNovelQuestion)
	assert.True(t, strings.HasPrefix(a.SummaryText, FallbackText))
	assert.Contains(t, a.SummaryText, "```python\nimport bcrypt")
	assert.Contains(t, a.SummaryText, "1. alice")
	assert.Contains(t, a.SummaryText, "2. bob")
	assert.Len(t, a.SourceMessages, 2)
}

func TestGenerate_CapsSources(t *testing.T) {
	gen := &recordingGen{out: "ok"}
	var results []types.SearchResult
	for i := 0; i < 8; i++ {
		results = append(results, source(fmt.Sprintf("m%d", i), "dev", "text", 0.9-float64(i)*0.01))
	}
	a, err := New(gen, Options{MaxSources: 3, Policy: fastPolicy}, nil).Generate(context.Background(), "q", results)
	require.NoError(t, err)
	assert.Len(t, a.SourceMessages, 3)
	assert.NotContains(t, gen.req.Prompt, "[4]")
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		sources []types.SearchResult
		want    float64
	}{
		{name: "none", sources: nil, want: 0},
		{name: "one plain", sources: []types.SearchResult{source("a", "x", "plain", 0.9)}, want: 0.7*0.9 + 0.2/3},
		{name: "three with code", sources: []types.SearchResult{
			source("a", "x", bcryptAnswer, 1.0),
			source("b", "x", "plain", 1.0),
			source("c", "x", "plain", 1.0),
		}, want: 1.0},
		{name: "saturates past three", sources: []types.SearchResult{
			source("a", "x", "p", 0.8), source("b", "x", "p", 0.8), source("c", "x", "p", 0.8),
			source("d", "x", "p", 0.8), source("e", "x", "p", 0.8),
		}, want: 0.7*0.8 + 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Confidence(tt.sources)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestSourcesSection(t *testing.T) {
	s := SourcesSection([]types.SearchResult{
		source("m1", "alice", "x", 0.914),
		source("m2", "", "y", 0.8),
	})
	assert.Equal(t, "Sources:\n1. alice, 2026-02-10T15:30:00Z (similarity 0.91)\n2. unknown, 2026-02-10T15:30:00Z (similarity 0.80)", s)
}

func TestCollectCode_Dedups(t *testing.T) {
	blocks, inline := collectCode([]types.SearchResult{
		source("a", "x", bcryptAnswer+" and `gensalt()`", 0.9),
		source("b", "x", bcryptAnswer, 0.8),
	})
	assert.Len(t, blocks, 1)
	assert.Equal(t, []string{"gensalt()"}, inline)
}
