// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs incoming chat messages through
// CLASSIFY, TAG, STORE, and for confident questions SEARCH and SUMMARIZE,
// then DELIVER. No stage failure is returned to the caller: each stage has
// a fallback value and DELIVER always happens exactly once.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/search"
	"github.com/pdiddy/recall-engine/internal/summary"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// Searcher finds history similar to a question.
type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Outcome
	SearchVector(ctx context.Context, vec []float32, q search.Query) search.Outcome
}

// Summarizer turns search results into an InstantAnswer. It returns a
// usable answer even on error.
type Summarizer interface {
	Generate(ctx context.Context, question string, results []types.SearchResult) (types.InstantAnswer, error)
}

// ResultFunc receives the original message and, for answered questions,
// the InstantAnswer. The transport delivers the answer privately before
// posting the message publicly.
type ResultFunc func(msg types.IncomingMessage, answer *types.InstantAnswer)

// Service is the InstantAnswerService. It is safe for concurrent use: all
// per-message state lives on the stack of Process.
type Service struct {
	cfg      types.PipelineConfig
	ingestor *Ingestor
	searcher Searcher
	summary  Summarizer
	log      *logger.Logger
	newID    func() string
}

func New(cfg types.PipelineConfig, ingestor *Ingestor, searcher Searcher, summarizer Summarizer, log *logger.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if ingestor == nil || searcher == nil || summarizer == nil {
		return nil, fmt.Errorf("pipeline requires an ingestor, a searcher and a summarizer")
	}
	return &Service{
		cfg:      cfg,
		ingestor: ingestor,
		searcher: searcher,
		summary:  summarizer,
		log:      logger.OrNop(log).With("service", "InstantAnswerService"),
		newID:    uuid.NewString,
	}, nil
}

// Handle processes msg and invokes onResult exactly once. Messages from
// other rooms are passed straight through without touching any component.
func (s *Service) Handle(ctx context.Context, msg types.IncomingMessage, onResult ResultFunc) {
	delivered := false
	deliver := func(answer *types.InstantAnswer) {
		if delivered {
			return
		}
		delivered = true
		if onResult != nil {
			onResult(msg, answer)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("pipeline panicked, delivering message without answer", "room", msg.Room, "panic", r)
			deliver(nil)
		}
	}()

	answer := s.Process(ctx, msg)
	deliver(answer)
}

// Process runs the pipeline for msg and returns the InstantAnswer, or nil
// when msg is not a confident question or is outside the target room.
func (s *Service) Process(ctx context.Context, msg types.IncomingMessage) *types.InstantAnswer {
	if msg.Room != s.cfg.TargetRoom {
		return nil
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	start := time.Now()
	id := s.newID()
	log := s.log.With("message_id", id, "room", msg.Room)

	ing := s.ingestor.Ingest(ctx, id, msg)
	stored := ing.Message
	log.Debug("message ingested",
		"type", stored.Type,
		"confidence", stored.ClassificationConfidence,
		"stored", ing.Stored,
		"embedded", stored.Embedding != nil,
	)

	if stored.Type != types.MessageQuestion || stored.ClassificationConfidence < s.cfg.ClassificationFor(msg.Room) {
		return nil
	}

	answer := s.answer(ctx, log, ing, msg)
	log.Info("question answered",
		"novel", answer.IsNovelQuestion,
		"degraded", answer.Degraded,
		"sources", len(answer.SourceMessages),
		"confidence", answer.Confidence,
		"elapsed", time.Since(start),
	)
	return &answer
}

func (s *Service) answer(ctx context.Context, log *logger.Logger, ing Ingested, msg types.IncomingMessage) types.InstantAnswer {
	id := ing.Message.ID
	start := time.Now()

	if ing.EmbedErr != nil {
		log.Warn("search skipped: no embedding for question", "error", ing.EmbedErr)
		novel := summary.Novel()
		novel.Degraded = true
		return novel
	}

	q := search.Query{
		Text:            msg.Text,
		Room:            msg.Room,
		Type:            types.MessageAnswer,
		Limit:           s.cfg.MaxSearchResults,
		MinSimilarity:   s.cfg.SimilarityFor(msg.Room),
		AnyTypeFallback: s.cfg.AnswerTypeFallback,
		ExcludeIDs:      []string{id},
	}
	outcome := s.searcher.SearchVector(ctx, ing.Message.Embedding, q)
	if outcome.Degraded {
		se := newStageError(StageSearch, id, start, outcome.Cause)
		log.Warn("stage failed, continuing with fallback", "stage", se.Stage, "elapsed", se.Elapsed, "error", se.Err)
		novel := summary.Novel()
		novel.Degraded = true
		return novel
	}
	if outcome.Fallback {
		log.Debug("answer-typed search empty, used untyped results", "results", len(outcome.Results))
	}

	start = time.Now()
	answer, err := s.summary.Generate(ctx, msg.Text, outcome.Results)
	if err != nil {
		se := newStageError(StageSummary, id, start, err)
		log.Warn("stage failed, continuing with fallback", "stage", se.Stage, "elapsed", se.Elapsed, "error", se.Err)
	}
	return answer
}
