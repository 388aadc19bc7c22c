// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of
// plain-text files. Each file holds one secret: the filename is the key
// and the trimmed contents are the value. Environment variables act as a
// fallback so containerized deployments need no secrets directory.
//
// Recognized keys: anthropic-api-key, openai-api-key, qdrant-api-key, mongodb-uri.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdiddy/recall-engine/pkg/types"
)

// Key files and their environment fallbacks.
const (
	AnthropicAPIKey = "anthropic-api-key"
	OpenAIAPIKey    = "openai-api-key"
	QdrantAPIKey    = "qdrant-api-key"
	MongoURI        = "mongodb-uri"
)

var envFallback = map[string]string{
	AnthropicAPIKey: "ANTHROPIC_API_KEY",
	OpenAIAPIKey:    "OPENAI_API_KEY",
	QdrantAPIKey:    "QDRANT_API_KEY",
	MongoURI:        "MONGODB_URI",
}

// Set holds loaded secrets by key name.
type Set map[string]string

// Load reads every regular, non-hidden file in dir. A missing directory is
// not an error and yields an empty Set. Unreadable files are reported on
// stderr and skipped.
func Load(dir string) (Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Set{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	s := make(Set)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not read secret %s: %v\n", name, err)
			continue
		}
		if value := strings.TrimSpace(string(data)); value != "" {
			s[name] = value
		}
	}
	return s, nil
}

// Get returns the secret for key, falling back to its environment variable.
func (s Set) Get(key string) string {
	if v, ok := s[key]; ok {
		return v
	}
	if env, ok := envFallback[key]; ok {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// Keys returns the names of the loaded secrets, without values.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

// Apply fills credentials in cfg that are still empty. Explicit config
// values win over secrets.
func (s Set) Apply(cfg *types.Config) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = s.Get(key)
		}
	}
	fill(&cfg.AI.AnthropicAPIKey, AnthropicAPIKey)
	fill(&cfg.AI.OpenAIAPIKey, OpenAIAPIKey)
	fill(&cfg.Store.QdrantAPIKey, QdrantAPIKey)
	fill(&cfg.Store.MongoURI, MongoURI)
}
