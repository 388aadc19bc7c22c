// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the recall pipeline:
// stored chat messages, search results, instant answers, and the
// process-wide pipeline configuration.
package types

import "time"

// SearchResult is a StoredMessage paired with its similarity to one query.
// It is rebuilt on every search call and never persisted.
type SearchResult struct {
	StoredMessage `yaml:",inline"`

	// SimilarityScore is a normalized closeness value in [0,1].
	SimilarityScore float64 `json:"similarity_score" yaml:"similarity_score"`
}

// SourceRef is the attribution record for one message used in an answer.
type SourceRef struct {
	MessageID       string    `json:"message_id" yaml:"message_id"`
	Author          string    `json:"author" yaml:"author"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	SimilarityScore float64   `json:"similarity_score" yaml:"similarity_score"`
}

// InstantAnswer is the ephemeral result of processing one question.
type InstantAnswer struct {
	// SummaryText is the synthesized prose, including a deterministic
	// Sources section when sources exist.
	SummaryText string `json:"summary_text" yaml:"summary_text"`

	// SourceMessages are ordered by descending similarity.
	SourceMessages []SearchResult `json:"source_messages" yaml:"source_messages"`

	// Confidence is computed locally from the sources, in [0,1].
	Confidence float64 `json:"confidence" yaml:"confidence"`

	// IsNovelQuestion is true iff no source survived the similarity threshold.
	IsNovelQuestion bool `json:"is_novel_question" yaml:"is_novel_question"`

	// Degraded is true when the answer is novel only because the search
	// path failed (embedding or vector query), not because history was empty.
	Degraded bool `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// Sources returns the attribution records for the answer's source messages.
func (a InstantAnswer) Sources() []SourceRef {
	refs := make([]SourceRef, 0, len(a.SourceMessages))
	for _, r := range a.SourceMessages {
		refs = append(refs, SourceRef{
			MessageID:       r.ID,
			Author:          r.Author,
			Timestamp:       r.Timestamp,
			SimilarityScore: r.SimilarityScore,
		})
	}
	return refs
}
