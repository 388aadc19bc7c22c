// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/recall-engine/pkg/types"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  Set
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, AnthropicAPIKey, "  ak_abc123  \n")
				writeFile(t, dir, OpenAIAPIKey, "sk_xyz789")
				return dir
			},
			want: Set{
				AnthropicAPIKey: "ak_abc123",
				OpenAIAPIKey:    "sk_xyz789",
			},
		},
		{
			name: "returns empty set for nonexistent directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: Set{},
		},
		{
			name: "skips empty files and dotfiles",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, QdrantAPIKey, "qk")
				writeFile(t, dir, "empty-key", "")
				writeFile(t, dir, ".gitkeep", "")
				return dir
			},
			want: Set{QdrantAPIKey: "qk"},
		},
		{
			name: "skips subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, MongoURI, "mongodb://localhost")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
				return dir
			},
			want: Set{MongoURI: "mongodb://localhost"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.setup(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSet_GetFallsBackToEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")
	s := Set{AnthropicAPIKey: "from-file"}

	assert.Equal(t, "from-file", s.Get(AnthropicAPIKey))
	assert.Equal(t, "from-env", s.Get(OpenAIAPIKey))
	assert.Equal(t, "", s.Get("unknown-key"))
}

func TestSet_ApplyKeepsExplicitValues(t *testing.T) {
	t.Setenv("QDRANT_API_KEY", "")
	cfg := types.DefaultConfig()
	cfg.AI.OpenAIAPIKey = "explicit"

	Set{AnthropicAPIKey: "ak", OpenAIAPIKey: "ignored"}.Apply(&cfg)

	assert.Equal(t, "ak", cfg.AI.AnthropicAPIKey)
	assert.Equal(t, "explicit", cfg.AI.OpenAIAPIKey)
	assert.Empty(t, cfg.Store.QdrantAPIKey)
}

func TestSet_Keys(t *testing.T) {
	keys := Set{"b": "2", "a": "1"}.Keys()
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b"}, keys)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
