// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package vectorstore persists stored messages with their embeddings and
// answers nearest-neighbor queries restricted by room and message type.
// Every backend is safe for concurrent Store and Query calls.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/recall-engine/pkg/types"
)

// Filter restricts a query. Room is required; Type is optional.
type Filter struct {
	Room string
	Type types.MessageType

	// ExcludeIDs drops specific messages, typically the one being answered.
	ExcludeIDs []string
}

func (f Filter) excludes(id string) bool {
	for _, x := range f.ExcludeIDs {
		if x == id {
			return true
		}
	}
	return false
}

// Store is the storage adapter used by the pipeline and the indexer.
type Store interface {
	// Store upserts msg by ID. Metadata and embedding are written together
	// or not at all. A message without an embedding is persisted but is
	// never returned by Query.
	Store(ctx context.Context, msg types.StoredMessage) error

	// Query returns up to limit messages matching f, ordered by similarity
	// descending and then by timestamp descending.
	Query(ctx context.Context, vec []float32, f Filter, limit int) ([]types.SearchResult, error)

	// GetByID returns one message. Missing ids yield an error matching
	// ErrNotFound.
	GetByID(ctx context.Context, id string) (types.StoredMessage, error)

	Close() error
}

// ErrNotFound is returned by GetByID for unknown ids.
var ErrNotFound = errors.New("message not found")

// ErrorCode classifies an OperationError.
type ErrorCode string

const (
	CodeValidation ErrorCode = "validation_failed"
	CodeNotFound   ErrorCode = "not_found"
	CodeEncode     ErrorCode = "encode_failed"
	CodeDecode     ErrorCode = "decode_failed"
	CodeTransport  ErrorCode = "transport_failed"
	CodeTimeout    ErrorCode = "timeout"
	CodeQuery      ErrorCode = "query_failed"
	CodeWrite      ErrorCode = "write_failed"
)

// OperationError describes a failed backend call.
type OperationError struct {
	Backend    string
	Operation  string
	Code       ErrorCode
	StatusCode int
	Message    string
	Cause      error
}

func (e *OperationError) Error() string {
	detail := e.Message
	if detail == "" && e.Cause != nil {
		detail = e.Cause.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s failed (code=%s status=%d): %s", e.Backend, e.Operation, e.Code, e.StatusCode, detail)
	}
	return fmt.Sprintf("%s %s failed (code=%s): %s", e.Backend, e.Operation, e.Code, detail)
}

func (e *OperationError) Unwrap() error { return e.Cause }

func opErr(backend, op string, code ErrorCode, msg string, cause error) error {
	return &OperationError{Backend: backend, Operation: op, Code: code, Message: msg, Cause: cause}
}

func notFound(backend, id string) error {
	return &OperationError{Backend: backend, Operation: "get", Code: CodeNotFound, Message: "id " + id, Cause: ErrNotFound}
}

// IsPermanent reports whether retrying err cannot help.
func IsPermanent(err error) bool {
	var oe *OperationError
	if !errors.As(err, &oe) {
		return false
	}
	switch oe.Code {
	case CodeValidation, CodeNotFound, CodeEncode:
		return true
	}
	return false
}

// Every backend accepts the timestamps SQLite can hold as Unix
// nanoseconds. The zero time is outside this range.
var (
	minTimestamp = time.Unix(0, math.MinInt64)
	maxTimestamp = time.Unix(0, math.MaxInt64)
)

// validate checks the parts of msg every backend relies on.
func validate(backend string, msg types.StoredMessage, dim int) error {
	if strings.TrimSpace(msg.ID) == "" {
		return opErr(backend, "store", CodeValidation, "message id is required", nil)
	}
	if strings.TrimSpace(msg.Room) == "" {
		return opErr(backend, "store", CodeValidation, fmt.Sprintf("message %s has no room", msg.ID), nil)
	}
	if msg.Timestamp.Before(minTimestamp) || msg.Timestamp.After(maxTimestamp) {
		return opErr(backend, "store", CodeValidation,
			fmt.Sprintf("message %s has timestamp %s outside the storable range", msg.ID, msg.Timestamp.Format(time.RFC3339)), nil)
	}
	return checkDim(backend, "store", msg.Embedding, dim, true)
}

func checkDim(backend, op string, vec []float32, dim int, allowEmpty bool) error {
	if len(vec) == 0 {
		if allowEmpty {
			return nil
		}
		return opErr(backend, op, CodeValidation, "vector is required", nil)
	}
	if dim > 0 && len(vec) != dim {
		return opErr(backend, op, CodeValidation,
			fmt.Sprintf("vector dimension mismatch: expected=%d got=%d", dim, len(vec)), nil)
	}
	return nil
}

// rank orders results by similarity, then recency, then id, and keeps at
// most limit entries.
func rank(results []types.SearchResult, limit int) []types.SearchResult {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.SimilarityScore != b.SimilarityScore {
			return a.SimilarityScore > b.SimilarityScore
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
