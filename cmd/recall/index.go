// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/pdiddy/recall-engine/internal/indexer"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Backfill the vector store from a history file",
	Long: `Index reads a backlog of chat messages (JSONL, one message per line, or a
YAML list), keeps the most recent --limit messages of the target room, and
classifies, tags, embeds and stores each one. Message ids are derived from
the message content, so re-running a backfill updates rows in place.

Progress counters are printed after each batch. A message that cannot be
stored is counted as failed and skipped.`,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	limit, _ := cmd.Flags().GetInt("limit")
	workers, _ := cmd.Flags().GetInt("workers")
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	room, _ := cmd.Flags().GetString("room")
	if !cmd.Flags().Changed("limit") {
		limit = cfg.Indexer.BacklogLimit
	}
	if workers <= 0 {
		workers = cfg.Indexer.Workers
	}
	if batchSize <= 0 {
		batchSize = cfg.Indexer.BatchSize
	}
	if room == "" {
		room = cfg.Pipeline.TargetRoom
	}

	msgs, err := indexer.LoadBacklog(file, room, limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Indexing %d message(s) from %s (room %s)\n", len(msgs), file, room)
	if len(msgs) == 0 {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	comps, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	ix := indexer.New(comps.ingestor, indexer.Options{Room: room, Workers: workers, BatchSize: batchSize}, os.Stdout, log)
	res, err := ix.Run(ctx, msgs)
	if err != nil {
		return err
	}
	if res.HasFailures() {
		return fmt.Errorf("%d message(s) failed indexing", res.Failed)
	}
	return nil
}

func init() {
	indexCmd.Flags().String("file", "", "backlog file (.jsonl or .yaml)")
	indexCmd.Flags().Int("limit", 0, "keep only the most recent N messages (default: indexer.backlog_limit, 0 = all)")
	indexCmd.Flags().Int("workers", 0, "concurrent messages (default: indexer.workers)")
	indexCmd.Flags().Int("batch-size", 0, "messages per progress report (default: indexer.batch_size)")
	indexCmd.Flags().String("room", "", "room to index (default: pipeline.target_room)")
	_ = indexCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(indexCmd)
}
