// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tagging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/retry"
)

var testPolicy = retry.Policy{Retries: 2, BaseDelay: time.Millisecond}

func fixed(out string, err error, calls *int) capability.Generator {
	return capability.GeneratorFunc(func(context.Context, capability.Request) (string, error) {
		*calls++
		return out, err
	})
}

func TestTag(t *testing.T) {
	var calls int
	gen := fixed(`{"topic_tags":["Password Hashing","api-security","password hashing"],"tech_keywords":["FastAPI","bcrypt"],"code_language":""}`, nil, &calls)

	tags, err := New(gen, testPolicy, nil).Tag(context.Background(), "Use bcrypt for password hashing in FastAPI.")
	require.NoError(t, err)
	assert.Equal(t, []string{"api-security", "password-hashing"}, tags.TopicTags)
	assert.Equal(t, []string{"bcrypt", "fastapi"}, tags.TechKeywords)
	assert.False(t, tags.ContainsCode)
	assert.Empty(t, tags.CodeLanguage)
}

func TestTag_CodeLanguage(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		modelLng string
		wantCode bool
		wantLang string
	}{
		{name: "fence lang wins", text: "```rust\nfn main() {}\n```", modelLng: "go", wantCode: true, wantLang: "rust"},
		{name: "model lang used when local unknown", text: "```\nx = 1\ny = 2\n```", modelLng: "Ruby", wantCode: true, wantLang: "ruby"},
		{name: "no code drops model lang", text: "just words", modelLng: "python", wantCode: false, wantLang: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			gen := fixed(`{"topic_tags":[],"tech_keywords":[],"code_language":"`+tt.modelLng+`"}`, nil, &calls)
			tags, err := New(gen, testPolicy, nil).Tag(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, tags.ContainsCode)
			assert.Equal(t, tt.wantLang, tags.CodeLanguage)
		})
	}
}

func TestTag_Failure(t *testing.T) {
	var calls int
	gen := fixed("", errors.New("unavailable"), &calls)

	tags, err := New(gen, testPolicy, nil).Tag(context.Background(), "try\n```sql\nselect 1;\n```")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Empty(t, tags.TopicTags)
	assert.Empty(t, tags.TechKeywords)
	assert.True(t, tags.ContainsCode)
	assert.Equal(t, "sql", tags.CodeLanguage)
}

func TestTag_EmptyText(t *testing.T) {
	var calls int
	_, err := New(fixed("{}", nil, &calls), testPolicy, nil).Tag(context.Background(), "")
	assert.ErrorIs(t, err, capability.ErrEmptyInput)
	assert.Zero(t, calls)
}
