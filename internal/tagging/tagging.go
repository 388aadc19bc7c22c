// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tagging extracts topic tags, technology keywords, and code
// language hints from chat messages. Extraction is best effort.
package tagging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/codespan"
	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/retry"
	"github.com/pdiddy/recall-engine/pkg/types"
)

var tagPromptTmpl = template.Must(template.New("tag").Parse(`Extract search metadata from the developer chat message below.

Respond with a JSON object with these fields:
- topic_tags: up to 5 lowercase, hyphenated topic labels (e.g. "password-hashing", "error-handling")
- tech_keywords: up to 10 lowercase names of languages, libraries, frameworks, or tools mentioned (e.g. "fastapi", "bcrypt")
- code_language: the programming language of any code in the message, or "" if none

Example response:
{"topic_tags": ["password-hashing", "api-security"], "tech_keywords": ["fastapi", "bcrypt"], "code_language": "python"}

Message:
{{.Text}}
`))

type response struct {
	TopicTags    []string `json:"topic_tags"`
	TechKeywords []string `json:"tech_keywords"`
	CodeLanguage string   `json:"code_language"`
}

// Tagger calls a Generator with the tagging prompt.
type Tagger struct {
	gen    capability.Generator
	policy retry.Policy
	log    *logger.Logger
}

func New(gen capability.Generator, policy retry.Policy, log *logger.Logger) *Tagger {
	return &Tagger{gen: gen, policy: policy, log: logger.OrNop(log).With("service", "Tagger")}
}

// Fallback returns empty tags plus the locally detected code flag.
func Fallback(text string) types.Tags {
	hasCode, lang := codespan.Detect(text)
	return types.NewTags(nil, nil, hasCode, lang)
}

// Tag extracts Tags from text. On failure it returns Fallback(text) along
// with the error.
func (t *Tagger) Tag(ctx context.Context, text string) (types.Tags, error) {
	if strings.TrimSpace(text) == "" {
		return Fallback(text), capability.ErrEmptyInput
	}
	var buf bytes.Buffer
	if err := tagPromptTmpl.Execute(&buf, struct{ Text string }{Text: text}); err != nil {
		return Fallback(text), fmt.Errorf("rendering prompt: %w", err)
	}

	resp, err := retry.Do(ctx, t.policy, func(ctx context.Context) (response, error) {
		out, err := t.gen.Generate(ctx, capability.Request{Prompt: buf.String(), MaxTokens: 256, JSON: true})
		if err != nil {
			if !capability.IsRetryable(err) {
				return response{}, retry.Permanent(err)
			}
			return response{}, err
		}
		var r response
		if err := json.Unmarshal([]byte(capability.StripJSONFence(out)), &r); err != nil {
			return response{}, fmt.Errorf("parsing tag JSON: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return Fallback(text), fmt.Errorf("tagging message: %w", err)
	}

	hasCode, localLang := codespan.Detect(text)
	lang := resp.CodeLanguage
	if localLang != "" {
		lang = localLang
	}
	if !hasCode {
		lang = ""
	}
	tags := types.NewTags(resp.TopicTags, resp.TechKeywords, hasCode, lang)
	t.log.Debug("tagged message", "topics", len(tags.TopicTags), "keywords", len(tags.TechKeywords))
	return tags, nil
}
