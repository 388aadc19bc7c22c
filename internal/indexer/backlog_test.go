// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/recall-engine/pkg/types"
)

const jsonlBacklog = `{"text":"How do I hash passwords?","author":"bob","room":"Techline","timestamp":"2026-01-12T08:02:00Z"}

{"text":"Use bcrypt.","author":"alice","room":"Techline","timestamp":"2026-01-12T08:01:00Z"}
{"text":"lunch?","author":"dan","room":"random","timestamp":"2026-01-12T08:03:00Z"}
{"text":"   ","author":"eve","room":"Techline","timestamp":"2026-01-12T08:04:00Z"}
`

const yamlBacklog = `- text: Use bcrypt.
  author: alice
  room: Techline
  timestamp: 2026-01-12T08:01:00Z
- text: How do I hash passwords?
  author: bob
  room: Techline
  timestamp: 2026-01-12T08:02:00Z
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadBacklog_JSONL(t *testing.T) {
	msgs, err := LoadBacklog(writeFile(t, "history.jsonl", jsonlBacklog), "Techline", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Use bcrypt.", msgs[0].Text, "oldest first")
	assert.Equal(t, "alice", msgs[0].Author)
	assert.Equal(t, time.Date(2026, 1, 12, 8, 2, 0, 0, time.UTC), msgs[1].Timestamp.UTC())
}

func TestLoadBacklog_YAML(t *testing.T) {
	msgs, err := LoadBacklog(writeFile(t, "history.yaml", yamlBacklog), "Techline", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "How do I hash passwords?", msgs[0].Text, "limit keeps the most recent")
}

func TestLoadBacklog_Errors(t *testing.T) {
	_, err := LoadBacklog(writeFile(t, "history.csv", "a,b"), "Techline", 0)
	assert.ErrorContains(t, err, "unsupported backlog format")

	_, err = LoadBacklog(writeFile(t, "history.jsonl", "{\"text\":\"ok\"}\n{not json}\n"), "Techline", 0)
	assert.ErrorContains(t, err, "line 2")

	_, err = LoadBacklog(filepath.Join(t.TempDir(), "missing.jsonl"), "Techline", 0)
	assert.Error(t, err)
}

func TestLoadBacklog_SkipsUndatedLines(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{
			name: "jsonl without timestamp",
			file: "history.jsonl",
			content: `{"text":"Use bcrypt.","author":"alice","room":"Techline","timestamp":"2026-01-12T08:01:00Z"}
{"text":"no date here","author":"bob","room":"Techline"}
`,
		},
		{
			name: "yaml without timestamp",
			file: "history.yaml",
			content: `- text: Use bcrypt.
  author: alice
  room: Techline
  timestamp: 2026-01-12T08:01:00Z
- text: no date here
  author: bob
  room: Techline
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := LoadBacklog(writeFile(t, tt.file, tt.content), "Techline", 0)
			require.NoError(t, err)
			require.Len(t, msgs, 1)
			assert.Equal(t, "Use bcrypt.", msgs[0].Text)
			assert.False(t, msgs[0].Timestamp.IsZero())
		})
	}
}

func TestReadBacklog_EmptyYAML(t *testing.T) {
	msgs, err := ReadBacklog(strings.NewReader(""), FormatYAML)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSelect(t *testing.T) {
	in := []types.IncomingMessage{
		{Text: "c", Room: "Techline", Timestamp: t0.Add(3 * time.Minute)},
		{Text: "a", Room: "Techline", Timestamp: t0.Add(1 * time.Minute)},
		{Text: "x", Room: "random", Timestamp: t0},
		{Text: "b", Room: "Techline", Timestamp: t0.Add(2 * time.Minute)},
		{Text: "undated", Room: "Techline"},
	}
	tests := []struct {
		name  string
		room  string
		limit int
		want  []string
	}{
		{name: "room only", room: "Techline", want: []string{"a", "b", "c"}},
		{name: "most recent two", room: "Techline", limit: 2, want: []string{"b", "c"}},
		{name: "all rooms", want: []string{"x", "a", "b", "c"}},
		{name: "limit above size", room: "Techline", limit: 10, want: []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(in, tt.room, tt.limit)
			texts := make([]string, len(got))
			for i, m := range got {
				texts[i] = m.Text
			}
			assert.Equal(t, tt.want, texts)
		})
	}
}

func TestFormatFor(t *testing.T) {
	for path, want := range map[string]string{"a.jsonl": FormatJSONL, "a.NDJSON": FormatJSONL, "a.yml": FormatYAML} {
		got, err := FormatFor(path)
		require.NoError(t, err)
		assert.Equal(t, want, got, path)
	}
}
