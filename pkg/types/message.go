// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MessageType is the classification assigned to a chat message.
type MessageType string

const (
	MessageQuestion   MessageType = "QUESTION"
	MessageAnswer     MessageType = "ANSWER"
	MessageDiscussion MessageType = "DISCUSSION"
)

// ParseMessageType normalizes s into a MessageType. Matching is case
// insensitive; unknown labels return an error.
func ParseMessageType(s string) (MessageType, error) {
	switch MessageType(strings.ToUpper(strings.TrimSpace(s))) {
	case MessageQuestion:
		return MessageQuestion, nil
	case MessageAnswer:
		return MessageAnswer, nil
	case MessageDiscussion:
		return MessageDiscussion, nil
	}
	return "", fmt.Errorf("unknown message type %q", s)
}

// IncomingMessage is the tuple handed to the pipeline by the chat transport.
type IncomingMessage struct {
	// Text is the raw message content.
	Text string `json:"text" yaml:"text"`

	// Author is the display name or handle of the sender.
	Author string `json:"author" yaml:"author"`

	// Room is the chat room the message was posted to.
	Room string `json:"room" yaml:"room"`

	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

const (
	maxTagsPerKind = 10
	maxTagLength   = 48
)

// Tags holds the topic metadata extracted from a message. Construct it
// with NewTags so that values are normalized and bounded.
type Tags struct {
	// TopicTags are free-form, lowercase topic labels (e.g. "password-hashing").
	TopicTags []string `json:"topic_tags" yaml:"topic_tags"`

	// TechKeywords are lowercase technology names (e.g. "fastapi", "bcrypt").
	TechKeywords []string `json:"tech_keywords" yaml:"tech_keywords"`

	// ContainsCode reports whether the message carries a code block or span.
	ContainsCode bool `json:"contains_code" yaml:"contains_code"`

	// CodeLanguage is the detected language of the code, empty when unknown.
	CodeLanguage string `json:"code_language,omitempty" yaml:"code_language,omitempty"`
}

// NewTags builds a Tags value. Tag strings are trimmed, lowercased,
// internal whitespace is replaced with hyphens, duplicates and empties are
// dropped, overlong values are rejected, and each list is capped.
func NewTags(topics, keywords []string, containsCode bool, codeLanguage string) Tags {
	return Tags{
		TopicTags:    normalizeTags(topics),
		TechKeywords: normalizeTags(keywords),
		ContainsCode: containsCode,
		CodeLanguage: strings.ToLower(strings.TrimSpace(codeLanguage)),
	}
}

func normalizeTags(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		t := strings.ToLower(strings.Join(strings.Fields(raw), "-"))
		if t == "" || len(t) > maxTagLength || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTagsPerKind {
			break
		}
	}
	sort.Strings(out)
	return out
}

// StoredMessage is a classified, tagged and (usually) embedded chat
// message. It is created once per incoming message and never mutated.
type StoredMessage struct {
	// ID is an opaque identifier assigned at storage time.
	ID string `json:"id" yaml:"id"`

	// Text is the original message content.
	Text string `json:"text" yaml:"text"`

	// Author is the sender of the message.
	Author string `json:"author" yaml:"author"`

	// Room is the chat room the message was posted to.
	Room string `json:"room" yaml:"room"`

	// Timestamp is the message creation time.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Type is set once at classification time.
	Type MessageType `json:"message_type" yaml:"message_type"`

	// ClassificationConfidence is the classifier's self-reported certainty in [0,1].
	ClassificationConfidence float64 `json:"classification_confidence" yaml:"classification_confidence"`

	// Tags carries topics, keywords, and code metadata.
	Tags `yaml:",inline"`

	// Embedding is the message vector. It is nil when embedding generation
	// failed; such messages are persisted but not searchable.
	Embedding []float32 `json:"-" yaml:"-"`
}

// HasEmbedding reports whether the message carries a vector.
func (m StoredMessage) HasEmbedding() bool {
	return len(m.Embedding) > 0
}
