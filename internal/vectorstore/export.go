// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/recall-engine/pkg/types"
)

// ExportEntry is one stored message in an export file. Embeddings are
// omitted; HasEmbedding records whether the message is searchable.
type ExportEntry struct {
	ID           string            `json:"id" yaml:"id"`
	Room         string            `json:"room" yaml:"room"`
	Author       string            `json:"author" yaml:"author"`
	Timestamp    time.Time         `json:"timestamp" yaml:"timestamp"`
	Type         types.MessageType `json:"message_type" yaml:"message_type"`
	Confidence   float64           `json:"classification_confidence" yaml:"classification_confidence"`
	Text         string            `json:"text" yaml:"text"`
	TopicTags    []string          `json:"topic_tags,omitempty" yaml:"topic_tags,omitempty"`
	TechKeywords []string          `json:"tech_keywords,omitempty" yaml:"tech_keywords,omitempty"`
	CodeLanguage string            `json:"code_language,omitempty" yaml:"code_language,omitempty"`
	HasEmbedding bool              `json:"has_embedding" yaml:"has_embedding"`
}

// Export writes the messages selected by opts to w as "yaml" or "json".
func (s *SQLiteStore) Export(ctx context.Context, w io.Writer, format string, opts ListOptions) (int, error) {
	msgs, err := s.List(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("querying for export: %w", err)
	}

	entries := make([]ExportEntry, len(msgs))
	for i, m := range msgs {
		entries[i] = ExportEntry{
			ID:           m.ID,
			Room:         m.Room,
			Author:       m.Author,
			Timestamp:    m.Timestamp,
			Type:         m.Type,
			Confidence:   m.ClassificationConfidence,
			Text:         m.Text,
			TopicTags:    m.TopicTags,
			TechKeywords: m.TechKeywords,
			CodeLanguage: m.CodeLanguage,
			HasEmbedding: m.HasEmbedding(),
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return 0, fmt.Errorf("marshaling JSON: %w", err)
		}
	case "yaml", "":
		data, err := yaml.Marshal(entries)
		if err != nil {
			return 0, fmt.Errorf("marshaling YAML: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("unknown export format %q", format)
	}
	return len(entries), nil
}
