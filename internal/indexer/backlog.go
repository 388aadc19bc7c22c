// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package indexer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/recall-engine/pkg/types"
)

// Backlog formats.
const (
	FormatJSONL = "jsonl"
	FormatYAML  = "yaml"
)

const maxLineBytes = 1 << 20

// FormatFor picks the backlog format from a file extension.
func FormatFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported backlog format %q (want .jsonl or .yaml)", filepath.Ext(path))
}

// LoadBacklog reads a history file and returns the most recent limit
// messages of room, oldest first. A limit of zero keeps everything.
func LoadBacklog(path, room string, limit int) ([]types.IncomingMessage, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening backlog: %w", err)
	}
	defer f.Close()

	msgs, err := ReadBacklog(f, format)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Select(msgs, room, limit), nil
}

// ReadBacklog decodes messages in the given format.
func ReadBacklog(r io.Reader, format string) ([]types.IncomingMessage, error) {
	switch format {
	case FormatJSONL:
		return readJSONL(r)
	case FormatYAML:
		var msgs []types.IncomingMessage
		if err := yaml.NewDecoder(r).Decode(&msgs); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decoding YAML backlog: %w", err)
		}
		return msgs, nil
	}
	return nil, fmt.Errorf("unknown backlog format %q", format)
}

func readJSONL(r io.Reader) ([]types.IncomingMessage, error) {
	var msgs []types.IncomingMessage
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var m types.IncomingMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msgs = append(msgs, m)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning backlog: %w", err)
	}
	return msgs, nil
}

// Select keeps non-empty messages of room (all rooms when room is
// empty), sorts them oldest first and keeps the most recent limit.
// Messages without a timestamp are skipped: their ids would not be
// stable across runs.
func Select(msgs []types.IncomingMessage, room string, limit int) []types.IncomingMessage {
	out := make([]types.IncomingMessage, 0, len(msgs))
	for _, m := range msgs {
		if room != "" && m.Room != room {
			continue
		}
		if strings.TrimSpace(m.Text) == "" || m.Timestamp.IsZero() {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
