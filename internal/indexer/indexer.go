// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package indexer backfills the vector store from a bounded history of
// target-room messages. It runs CLASSIFY, TAG and STORE only, and shares
// nothing with the live pipeline except the store itself.
package indexer

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/pipeline"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// idNamespace scopes backlog message ids so re-running a backfill
// upserts the same rows.
var idNamespace = uuid.MustParse("6f1c2a4e-8d3b-4c57-9e0a-2b7d5f93c1a8")

// MessageID derives a stable id from the message's room, author,
// timestamp and text.
func MessageID(msg types.IncomingMessage) string {
	key := msg.Room + "\x00" + msg.Author + "\x00" + msg.Timestamp.UTC().Format(time.RFC3339Nano) + "\x00" + msg.Text
	return uuid.NewSHA1(idNamespace, []byte(key)).String()
}

// Ingester runs one message through the storage half of the pipeline.
type Ingester interface {
	Ingest(ctx context.Context, id string, msg types.IncomingMessage) pipeline.Ingested
}

// Result holds the counters of an indexing run.
type Result struct {
	Processed int `json:"processed" yaml:"processed"`
	Stored    int `json:"stored" yaml:"stored"`
	Failed    int `json:"failed" yaml:"failed"`

	// Unembedded counts stored messages that have no embedding and are
	// therefore not yet searchable.
	Unembedded int `json:"unembedded" yaml:"unembedded"`
}

// HasFailures reports whether any message failed to store.
func (r Result) HasFailures() bool {
	return r.Failed > 0
}

// Options configures an Indexer.
type Options struct {
	// Room is the target room. Messages from other rooms are skipped.
	Room string

	// Workers bounds concurrent messages in flight (default 4).
	Workers int

	// BatchSize is the number of messages between progress reports (default 25).
	BatchSize int
}

// Indexer processes a backlog with a bounded worker pool.
type Indexer struct {
	ingester Ingester
	opts     Options
	w        io.Writer
	log      *logger.Logger
}

// New creates an Indexer. Progress lines are written to w; a nil w
// discards them.
func New(ingester Ingester, opts Options, w io.Writer, log *logger.Logger) *Indexer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 25
	}
	if w == nil {
		w = io.Discard
	}
	return &Indexer{ingester: ingester, opts: opts, w: w, log: logger.OrNop(log).With("service", "Indexer")}
}

// Run indexes msgs in order, batch by batch. Messages without a timestamp
// are not indexed. A failed message is counted and skipped; only context cancellation stops the run early, in which
// case the counters so far are returned with the context error.
func (ix *Indexer) Run(ctx context.Context, msgs []types.IncomingMessage) (Result, error) {
	var (
		result  Result
		undated int
	)
	todo := make([]types.IncomingMessage, 0, len(msgs))
	for _, m := range msgs {
		if ix.opts.Room != "" && m.Room != ix.opts.Room {
			continue
		}
		if m.Timestamp.IsZero() {
			undated++
			continue
		}
		todo = append(todo, m)
	}
	if undated > 0 {
		ix.log.Warn("skipped messages without a timestamp", "skipped", undated)
	}
	if skipped := len(msgs) - len(todo) - undated; skipped > 0 {
		ix.log.Debug("skipped messages from other rooms", "skipped", skipped)
	}

	batches := (len(todo) + ix.opts.BatchSize - 1) / ix.opts.BatchSize
	start := time.Now()
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		lo := b * ix.opts.BatchSize
		hi := min(lo+ix.opts.BatchSize, len(todo))

		batch, err := ix.runBatch(ctx, todo[lo:hi])
		result.Processed += batch.Processed
		result.Stored += batch.Stored
		result.Failed += batch.Failed
		result.Unembedded += batch.Unembedded

		fmt.Fprintf(ix.w, "batch %d/%d: processed=%d stored=%d failed=%d unembedded=%d\n",
			b+1, batches, result.Processed, result.Stored, result.Failed, result.Unembedded)
		ix.log.Info("batch indexed",
			"batch", b+1,
			"batches", batches,
			"processed", result.Processed,
			"stored", result.Stored,
			"failed", result.Failed,
			"unembedded", result.Unembedded,
		)
		if err != nil {
			return result, err
		}
	}

	fmt.Fprintf(ix.w, "\nIndex summary: %d processed, %d stored, %d failed, %d without embedding (%s)\n",
		result.Processed, result.Stored, result.Failed, result.Unembedded, time.Since(start).Round(time.Millisecond))
	return result, nil
}

func (ix *Indexer) runBatch(ctx context.Context, batch []types.IncomingMessage) (Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)

	var processed, stored, failed, unembedded atomic.Int32
	for _, msg := range batch {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			id := MessageID(msg)
			res := ix.ingester.Ingest(gctx, id, msg)
			processed.Add(1)
			if !res.Stored {
				failed.Add(1)
				ix.log.Warn("message not indexed", "message_id", id, "stage_errors", len(res.Errors))
				return nil
			}
			stored.Add(1)
			if res.EmbedErr != nil {
				unembedded.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	return Result{
		Processed:  int(processed.Load()),
		Stored:     int(stored.Load()),
		Failed:     int(failed.Load()),
		Unembedded: int(unembedded.Load()),
	}, err
}
