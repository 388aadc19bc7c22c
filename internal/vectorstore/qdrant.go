// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/vecmath"
	"github.com/pdiddy/recall-engine/pkg/types"
)

const (
	qdrantBackend     = "qdrant"
	qdrantVectorName  = "text"
	maxErrorBodyBytes = 1024
)

// pointIDNamespace derives Qdrant point ids for message ids that are not
// already UUIDs.
var pointIDNamespace = uuid.MustParse("6f0e3c2a-8d1b-4a57-9a0e-5b7f2c1d9e44")

// QdrantConfig holds connection settings for QdrantStore.
type QdrantConfig struct {
	URL        string
	Collection string
	APIKey     string
	Dimension  int
	HTTPClient *http.Client
}

// QdrantStore talks to Qdrant's REST API. Vectors are kept under a named
// vector so messages without an embedding can still be stored.
type QdrantStore struct {
	log     *logger.Logger
	cfg     QdrantConfig
	baseURL string
	http    *http.Client
}

type qdrantEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
}

type qdrantPoint struct {
	ID      json.RawMessage      `json:"id"`
	Score   float64              `json:"score"`
	Payload qdrantPayload        `json:"payload"`
	Vector  map[string][]float32 `json:"vector,omitempty"`
}

type qdrantPayload struct {
	MessageID    string   `json:"message_id"`
	Text         string   `json:"text"`
	Author       string   `json:"author"`
	Room         string   `json:"room"`
	Timestamp    string   `json:"timestamp"`
	MessageType  string   `json:"message_type"`
	Confidence   float64  `json:"classification_confidence"`
	ContainsCode bool     `json:"contains_code"`
	CodeLanguage string   `json:"code_language,omitempty"`
	TopicTags    []string `json:"topic_tags"`
	TechKeywords []string `json:"tech_keywords"`
	HasEmbedding bool     `json:"has_embedding"`
}

// NewQdrantStore connects to Qdrant and creates the collection and its
// payload indexes if they do not exist.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, log *logger.Logger) (*QdrantStore, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, opErr(qdrantBackend, "init", CodeValidation, "url is required", nil)
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, opErr(qdrantBackend, "init", CodeValidation, "collection is required", nil)
	}
	if cfg.Dimension <= 0 {
		return nil, opErr(qdrantBackend, "init", CodeValidation, "dimension must be positive", nil)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	s := &QdrantStore{
		log:     logger.OrNop(log).With("service", "QdrantStore"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http:    client,
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	s.log.Info("qdrant vector store ready", "url", s.baseURL, "collection", cfg.Collection, "dimension", cfg.Dimension)
	return s, nil
}

func (s *QdrantStore) Close() error { return nil }

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	const op = "init"
	var info struct {
		Config struct {
			Params struct {
				Vectors map[string]struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	err := s.doJSON(ctx, op, http.MethodGet, s.collectionPath(""), nil, &info)
	var oe *OperationError
	switch {
	case err == nil:
		size := info.Config.Params.Vectors[qdrantVectorName].Size
		if size != s.cfg.Dimension {
			return opErr(qdrantBackend, op, CodeValidation, fmt.Sprintf(
				"collection %q vector %q size mismatch: expected=%d actual=%d",
				s.cfg.Collection, qdrantVectorName, s.cfg.Dimension, size), nil)
		}
		return nil
	case errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound:
	default:
		return err
	}

	create := map[string]any{
		"vectors": map[string]any{
			qdrantVectorName: map[string]any{"size": s.cfg.Dimension, "distance": "Cosine"},
		},
	}
	if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath(""), create, nil); err != nil {
		return err
	}
	for _, field := range []string{"room", "message_type"} {
		idx := map[string]any{"field_name": field, "field_schema": "keyword"}
		if err := s.doJSON(ctx, op, http.MethodPut, s.collectionPath("/index?wait=true"), idx, nil); err != nil {
			return err
		}
	}
	s.log.Info("created qdrant collection", "collection", s.cfg.Collection)
	return nil
}

// Store upserts one point. A message without an embedding is written
// with no vector.
func (s *QdrantStore) Store(ctx context.Context, msg types.StoredMessage) error {
	if err := validate(qdrantBackend, msg, s.cfg.Dimension); err != nil {
		return err
	}
	vectors := map[string][]float32{}
	if msg.HasEmbedding() {
		vectors[qdrantVectorName] = msg.Embedding
	}
	point := map[string]any{
		"id":      pointID(msg.ID),
		"vector":  vectors,
		"payload": toPayload(msg),
	}
	return s.doJSON(ctx, "store", http.MethodPut, s.collectionPath("/points?wait=true"),
		map[string]any{"points": []any{point}}, nil)
}

// Query runs a filtered search and rescales cosine scores to [0,1].
func (s *QdrantStore) Query(ctx context.Context, vec []float32, f Filter, limit int) ([]types.SearchResult, error) {
	if err := checkDim(qdrantBackend, "query", vec, s.cfg.Dimension, false); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	req := map[string]any{
		"vector":       map[string]any{"name": qdrantVectorName, "vector": vec},
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
		"filter":       qdrantFilter(f),
	}
	var points []qdrantPoint
	if err := s.doJSON(ctx, "query", http.MethodPost, s.collectionPath("/points/search"), req, &points); err != nil {
		return nil, err
	}

	out := make([]types.SearchResult, 0, len(points))
	for _, p := range points {
		msg, err := fromPayload(p.Payload)
		if err != nil {
			s.log.Warn("skipping point with bad payload", "point_id", string(p.ID), "error", err)
			continue
		}
		if f.excludes(msg.ID) {
			continue
		}
		out = append(out, types.SearchResult{StoredMessage: msg, SimilarityScore: vecmath.Similarity(p.Score)})
	}
	return rank(out, limit), nil
}

// GetByID fetches one point with its vector.
func (s *QdrantStore) GetByID(ctx context.Context, id string) (types.StoredMessage, error) {
	var p qdrantPoint
	err := s.doJSON(ctx, "get", http.MethodGet, s.collectionPath("/points/"+pointID(id)), nil, &p)
	var oe *OperationError
	if errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound {
		return types.StoredMessage{}, notFound(qdrantBackend, id)
	}
	if err != nil {
		return types.StoredMessage{}, err
	}
	msg, err := fromPayload(p.Payload)
	if err != nil {
		return types.StoredMessage{}, opErr(qdrantBackend, "get", CodeDecode, "decoding payload", err)
	}
	if msg.ID == "" {
		return types.StoredMessage{}, notFound(qdrantBackend, id)
	}
	msg.Embedding = p.Vector[qdrantVectorName]
	return msg, nil
}

func qdrantFilter(f Filter) map[string]any {
	must := []any{matchCondition("room", f.Room)}
	if f.Type != "" {
		must = append(must, matchCondition("message_type", string(f.Type)))
	}
	out := map[string]any{"must": must}
	if len(f.ExcludeIDs) > 0 {
		ids := make([]string, 0, len(f.ExcludeIDs))
		for _, id := range f.ExcludeIDs {
			ids = append(ids, pointID(id))
		}
		out["must_not"] = []any{map[string]any{"has_id": ids}}
	}
	return out
}

func matchCondition(key, value string) map[string]any {
	return map[string]any{"key": key, "match": map[string]any{"value": value}}
}

func pointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(pointIDNamespace, []byte(id)).String()
}

func toPayload(m types.StoredMessage) qdrantPayload {
	return qdrantPayload{
		MessageID:    m.ID,
		Text:         m.Text,
		Author:       m.Author,
		Room:         m.Room,
		Timestamp:    m.Timestamp.UTC().Format(time.RFC3339Nano),
		MessageType:  string(m.Type),
		Confidence:   m.ClassificationConfidence,
		ContainsCode: m.ContainsCode,
		CodeLanguage: m.CodeLanguage,
		TopicTags:    m.TopicTags,
		TechKeywords: m.TechKeywords,
		HasEmbedding: m.HasEmbedding(),
	}
}

func fromPayload(p qdrantPayload) (types.StoredMessage, error) {
	var ts time.Time
	if p.Timestamp != "" {
		t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return types.StoredMessage{}, fmt.Errorf("parsing timestamp: %w", err)
		}
		ts = t
	}
	return types.StoredMessage{
		ID:                       p.MessageID,
		Text:                     p.Text,
		Author:                   p.Author,
		Room:                     p.Room,
		Timestamp:                ts,
		Type:                     types.MessageType(p.MessageType),
		ClassificationConfidence: p.Confidence,
		Tags: types.Tags{
			TopicTags:    p.TopicTags,
			TechKeywords: p.TechKeywords,
			ContainsCode: p.ContainsCode,
			CodeLanguage: p.CodeLanguage,
		},
	}, nil
}

func (s *QdrantStore) collectionPath(suffix string) string {
	return "/collections/" + s.cfg.Collection + suffix
}

func (s *QdrantStore) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(qdrantBackend, op, CodeEncode, "encode request failed", err)
		}
		body = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return opErr(qdrantBackend, op, CodeTransport, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return classifyHTTPError(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return opErr(qdrantBackend, op, CodeDecode, "read response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(raw) > maxErrorBodyBytes {
			raw = append(raw[:maxErrorBodyBytes], "..."...)
		}
		return &OperationError{
			Backend:    qdrantBackend,
			Operation:  op,
			Code:       CodeQuery,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("http status=%d body=%q", resp.StatusCode, raw),
		}
	}

	var env qdrantEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(qdrantBackend, op, CodeDecode, "decode envelope failed", err)
	}
	if msg := envelopeStatusError(env.Status); msg != "" {
		return &OperationError{Backend: qdrantBackend, Operation: op, Code: CodeQuery, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(qdrantBackend, op, CodeDecode, "decode result failed", err)
	}
	return nil
}

func envelopeStatusError(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if strings.EqualFold(str, "ok") {
			return ""
		}
		return "status=" + str
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Error != "" {
		return obj.Error
	}
	return "status=" + string(raw)
}

func classifyHTTPError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(qdrantBackend, op, CodeTimeout, "request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(qdrantBackend, op, CodeTimeout, "request timed out", err)
	}
	return opErr(qdrantBackend, op, CodeTransport, "request failed", err)
}
