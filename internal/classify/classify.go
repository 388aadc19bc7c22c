// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package classify labels chat messages as questions, answers, or general
// discussion. The label comes from a text-generation capability; the
// code-presence flag is also computed locally so it survives capability
// failures.
package classify

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
	"github.com/pdiddy/recall-engine/internal/vecmath"
	"github.com/pdiddy/recall-engine/pkg/types"
)

const systemPrompt = "You classify messages from a developer chat room. You answer only with JSON."

var classifyPromptTmpl = template.Must(template.New("classify").Parse(`Classify the chat message below as exactly one of:
- "QUESTION": the author is asking for help, information, or a solution
- "ANSWER": the author is explaining, solving, or giving a recommendation
- "DISCUSSION": anything else (greetings, opinions, status updates, banter)

Respond with a JSON object with these fields:
- message_type: "QUESTION", "ANSWER", or "DISCUSSION"
- confidence: a float between 0.0 and 1.0 for how certain you are
- contains_code: true if the message includes source code, commands, or config
- reasoning: one short sentence

Example response:
{"message_type": "QUESTION", "confidence": 0.93, "contains_code": false, "reasoning": "Asks how to hash passwords."}

Message:
{{.Text}}
`))

// Result is the outcome of classifying one message.
type Result struct {
	Type         types.MessageType `json:"message_type"`
	Confidence   float64           `json:"confidence"`
	ContainsCode bool              `json:"contains_code"`
	CodeLanguage string            `json:"code_language,omitempty"`
	Reasoning    string            `json:"reasoning"`
}

// response is the raw JSON returned by the model.
type response struct {
	MessageType  string  `json:"message_type"`
	Confidence   float64 `json:"confidence"`
	ContainsCode bool    `json:"contains_code"`
	Reasoning    string  `json:"reasoning"`
}

// Classifier calls a Generator with the classification prompt.
type Classifier struct {
	gen    capability.Generator
	policy retry.Policy
	log    *logger.Logger
}

// New returns a Classifier. policy bounds each attempt and sets the retry
// schedule.
func New(gen capability.Generator, policy retry.Policy, log *logger.Logger) *Classifier {
	return &Classifier{gen: gen, policy: policy, log: logger.OrNop(log).With("service", "Classifier")}
}

// Fallback is the result used when the capability cannot classify text.
func Fallback(text string) Result {
	hasCode, lang := codespan.Detect(text)
	return Result{
		Type:         types.MessageDiscussion,
		Confidence:   0,
		ContainsCode: hasCode,
		CodeLanguage: lang,
		Reasoning:    "classification unavailable",
	}
}

// Classify labels text. It always returns a usable Result: on failure the
// Result is Fallback(text) and the error describes what went wrong.
func (c *Classifier) Classify(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Fallback(text), capability.ErrEmptyInput
	}
	prompt, err := renderPrompt(text)
	if err != nil {
		return Fallback(text), fmt.Errorf("rendering prompt: %w", err)
	}

	resp, err := retry.Do(ctx, c.policy, func(ctx context.Context) (response, error) {
		out, err := c.gen.Generate(ctx, capability.Request{
			System:    systemPrompt,
			Prompt:    prompt,
			MaxTokens: 256,
			JSON:      true,
		})
		if err != nil {
			if !capability.IsRetryable(err) {
				return response{}, retry.Permanent(err)
			}
			return response{}, err
		}
		return parseResponse(out)
	})
	if err != nil {
		return Fallback(text), fmt.Errorf("classifying message: %w", err)
	}

	msgType, err := types.ParseMessageType(resp.MessageType)
	if err != nil {
		return Fallback(text), err
	}

	localCode, lang := codespan.Detect(text)
	result := Result{
		Type:         msgType,
		Confidence:   vecmath.Clamp01(resp.Confidence),
		ContainsCode: resp.ContainsCode || localCode,
		CodeLanguage: lang,
		Reasoning:    strings.TrimSpace(resp.Reasoning),
	}
	c.log.Debug("classified message",
		"message_type", result.Type,
		"confidence", result.Confidence,
		"contains_code", result.ContainsCode,
	)
	return result, nil
}

func parseResponse(out string) (response, error) {
	var r response
	if err := json.Unmarshal([]byte(capability.StripJSONFence(out)), &r); err != nil {
		return response{}, fmt.Errorf("parsing classification JSON: %w", err)
	}
	if strings.TrimSpace(r.MessageType) == "" {
		return response{}, fmt.Errorf("classification JSON missing message_type")
	}
	return r, nil
}

func renderPrompt(text string) (string, error) {
	var buf bytes.Buffer
	if err := classifyPromptTmpl.Execute(&buf, struct{ Text string }{Text: text}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
