// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package capability adapts external text-generation and text-embedding
// services. Implementations make exactly one request per call: timeouts
// come from the caller's context, and retries belong to the pipeline.
package capability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Request is one text-generation call.
type Request struct {
	// System carries role instructions.
	System string

	// Prompt is the user turn.
	Prompt string

	// MaxTokens bounds the response length. Zero uses the backend default.
	MaxTokens int

	// JSON asks the backend for a single JSON object as output.
	JSON bool
}

// Generator produces text (or JSON text) for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Embedder converts text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

// ErrEmptyInput is returned when there is nothing to embed or generate from.
var ErrEmptyInput = errors.New("empty input")

// APIError is a non-2xx response from a capability endpoint.
type APIError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// Retryable reports whether the same request might succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsRetryable reports whether err is worth another attempt. Client-side
// request errors (4xx other than 429) and empty input are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrEmptyInput) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return true
}

// StripJSONFence removes a surrounding ```json fence that models sometimes
// add despite instructions, and any text before the first '{'.
func StripJSONFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if i := strings.LastIndex(s, "}"); i >= 0 && i < len(s)-1 {
		s = s[:i+1]
	}
	return strings.TrimSpace(s)
}

const maxErrorBody = 1024

func truncate(b []byte) string {
	if len(b) <= maxErrorBody {
		return string(b)
	}
	return string(b[:maxErrorBody]) + "..."
}
