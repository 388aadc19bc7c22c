// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// Stage names one step of message processing.
type Stage string

const (
	StageClassify Stage = "classify"
	StageTag      Stage = "tag"
	StageEmbed    Stage = "embed"
	StageStore    Stage = "store"
	StageSearch   Stage = "search"
	StageSummary  Stage = "summary"
)

// Error kinds, one per stage. A *StageError matches its kind with errors.Is.
var (
	ErrClassification = errors.New("classification error")
	ErrTagging        = errors.New("tagging error")
	ErrEmbedding      = errors.New("embedding error")
	ErrStorage        = errors.New("storage error")
	ErrSearch         = errors.New("search error")
	ErrSummary        = errors.New("summary error")
)

var stageKinds = map[Stage]error{
	StageClassify: ErrClassification,
	StageTag:      ErrTagging,
	StageEmbed:    ErrEmbedding,
	StageStore:    ErrStorage,
	StageSearch:   ErrSearch,
	StageSummary:  ErrSummary,
}

// StageError records a stage failure. It is logged, never returned to the
// pipeline's caller.
type StageError struct {
	Stage     Stage
	MessageID string
	Elapsed   time.Duration
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed for message %s after %s: %v", e.Stage, e.MessageID, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Is matches the stage's error kind.
func (e *StageError) Is(target error) bool {
	kind, ok := stageKinds[e.Stage]
	return ok && target == kind
}

func newStageError(stage Stage, id string, start time.Time, err error) *StageError {
	return &StageError{Stage: stage, MessageID: id, Elapsed: time.Since(start), Err: err}
}
