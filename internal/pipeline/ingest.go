// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pdiddy/recall-engine/internal/capability"
	"github.com/pdiddy/recall-engine/internal/classify"
	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/retry"
	"github.com/pdiddy/recall-engine/internal/vectorstore"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// Classifier labels message text. It returns a usable result even on
// error.
type Classifier interface {
	Classify(ctx context.Context, text string) (classify.Result, error)
}

// Tagger extracts tags. It returns usable tags even on error.
type Tagger interface {
	Tag(ctx context.Context, text string) (types.Tags, error)
}

// Policies holds the retry policy of each stage.
type Policies struct {
	Classify retry.Policy
	Tag      retry.Policy
	Embed    retry.Policy
	Store    retry.Policy
	Search   retry.Policy
	Summary  retry.Policy
}

// PoliciesFor derives stage policies from cfg. Capability stages share
// CapabilityRetries/CapabilityBackoff; store and search share the store
// settings.
func PoliciesFor(cfg types.PipelineConfig) Policies {
	capPolicy := func(timeout time.Duration) retry.Policy {
		return retry.Policy{Retries: cfg.Retries.CapabilityRetries, BaseDelay: cfg.Retries.CapabilityBackoff, Timeout: timeout}
	}
	storePolicy := func(timeout time.Duration) retry.Policy {
		return retry.Policy{Retries: cfg.Retries.StoreRetries, BaseDelay: cfg.Retries.StoreBackoff, Timeout: timeout}
	}
	return Policies{
		Classify: capPolicy(cfg.Timeouts.Classify),
		Tag:      capPolicy(cfg.Timeouts.Tag),
		Embed:    capPolicy(cfg.Timeouts.Embed),
		Store:    storePolicy(cfg.Timeouts.Store),
		Search:   storePolicy(cfg.Timeouts.Search),
		Summary:  capPolicy(cfg.Timeouts.Summary),
	}
}

// Ingested is the result of running one message through
// CLASSIFY, TAG, EMBED and STORE.
type Ingested struct {
	Message types.StoredMessage

	// Stored reports whether the vector store accepted the message.
	Stored bool

	// EmbedErr is set when no embedding could be produced.
	EmbedErr error

	// Errors lists every stage failure, in stage order.
	Errors []*StageError
}

// Ingestor runs the storage half of the pipeline. It is shared by the
// live service and the indexer and holds no per-message state.
type Ingestor struct {
	classifier Classifier
	tagger     Tagger
	embedder   capability.Embedder
	store      vectorstore.Store
	policies   Policies
	log        *logger.Logger
}

func NewIngestor(c Classifier, t Tagger, e capability.Embedder, s vectorstore.Store, p Policies, log *logger.Logger) *Ingestor {
	return &Ingestor{classifier: c, tagger: t, embedder: e, store: s, policies: p, log: logger.OrNop(log)}
}

// Ingest classifies, tags, embeds and stores msg under id. Every stage
// failure is replaced by its fallback and recorded in the result. A zero
// timestamp is replaced by the current time.
func (in *Ingestor) Ingest(ctx context.Context, id string, msg types.IncomingMessage) Ingested {
	var res Ingested
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	fail := func(stage Stage, start time.Time, err error) {
		se := newStageError(stage, id, start, err)
		res.Errors = append(res.Errors, se)
		in.log.Warn("stage failed, continuing with fallback",
			"stage", se.Stage,
			"message_id", id,
			"elapsed", se.Elapsed,
			"error", err,
		)
	}

	start := time.Now()
	cls, err := in.classifier.Classify(ctx, msg.Text)
	if err != nil {
		fail(StageClassify, start, err)
	}

	start = time.Now()
	tags, err := in.tagger.Tag(ctx, msg.Text)
	if err != nil {
		fail(StageTag, start, err)
	}
	tags.ContainsCode = tags.ContainsCode || cls.ContainsCode
	if tags.CodeLanguage == "" && tags.ContainsCode {
		tags.CodeLanguage = cls.CodeLanguage
	}

	start = time.Now()
	vec, err := retry.Do(ctx, in.policies.Embed, func(ctx context.Context) ([]float32, error) {
		v, err := in.embedder.Embed(ctx, msg.Text)
		if err != nil && !capability.IsRetryable(err) {
			return nil, retry.Permanent(err)
		}
		return v, err
	})
	if err == nil && len(vec) == 0 {
		err = fmt.Errorf("embedder returned an empty vector")
	}
	if err != nil {
		vec = nil
		res.EmbedErr = err
		fail(StageEmbed, start, err)
	}

	res.Message = types.StoredMessage{
		ID:                       id,
		Text:                     msg.Text,
		Author:                   msg.Author,
		Room:                     msg.Room,
		Timestamp:                msg.Timestamp,
		Type:                     cls.Type,
		ClassificationConfidence: cls.Confidence,
		Tags:                     tags,
		Embedding:                vec,
	}

	start = time.Now()
	err = retry.Run(ctx, in.policies.Store, func(ctx context.Context) error {
		err := in.store.Store(ctx, res.Message)
		if vectorstore.IsPermanent(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		fail(StageStore, start, err)
	} else {
		res.Stored = true
	}
	return res
}
