// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/recall-engine/internal/search"
	"github.com/pdiddy/recall-engine/internal/server"
	"github.com/pdiddy/recall-engine/internal/summary"
	"github.com/pdiddy/recall-engine/pkg/types"
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run one chat message through the pipeline",
	Long: `Ask processes a single message as if it were posted to the room: it is
classified, tagged, embedded and stored, and if it is a question the most
similar earlier answers are summarized.

The private answer (if any) is printed before the public message, in the
order a chat transport would deliver them. With --no-store the message is
only searched, not stored.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	author, _ := cmd.Flags().GetString("author")
	room, _ := cmd.Flags().GetString("room")
	noStore, _ := cmd.Flags().GetBool("no-store")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if room == "" {
		room = cfg.Pipeline.TargetRoom
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	comps, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	msg := types.IncomingMessage{Text: text, Author: author, Room: room, Timestamp: time.Now().UTC()}
	var resp server.MessageResponse
	if noStore {
		resp = server.MessageResponse{Private: searchOnly(ctx, comps, msg), Public: msg}
	} else {
		comps.service.Handle(ctx, msg, func(orig types.IncomingMessage, answer *types.InstantAnswer) {
			resp = server.MessageResponse{Private: answer, Public: orig}
		})
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	printDelivery(os.Stdout, resp)
	return nil
}

// searchOnly answers msg from history without classifying or storing it.
func searchOnly(ctx context.Context, comps *components, msg types.IncomingMessage) *types.InstantAnswer {
	pc := cfg.Pipeline
	outcome := comps.engine.Search(ctx, search.Query{
		Text:            msg.Text,
		Room:            msg.Room,
		Type:            types.MessageAnswer,
		Limit:           pc.MaxSearchResults,
		MinSimilarity:   pc.SimilarityFor(msg.Room),
		AnyTypeFallback: pc.AnswerTypeFallback,
	})
	if outcome.Degraded {
		log.Warn("search degraded", "error", outcome.Cause)
		answer := summary.Novel()
		answer.Degraded = true
		return &answer
	}
	answer, err := comps.summary.Generate(ctx, msg.Text, outcome.Results)
	if err != nil {
		log.Warn("summary fell back", "error", err)
	}
	return &answer
}

func printDelivery(w io.Writer, resp server.MessageResponse) {
	if a := resp.Private; a != nil {
		var flags []string
		if a.IsNovelQuestion {
			flags = append(flags, "novel")
		}
		if a.Degraded {
			flags = append(flags, "degraded")
		}
		fmt.Fprintf(w, "Private answer for %s (confidence %.2f", resp.Public.Author, a.Confidence)
		if len(flags) > 0 {
			fmt.Fprintf(w, ", %s", strings.Join(flags, ", "))
		}
		fmt.Fprintf(w, "):\n\n%s\n\n", a.SummaryText)
	}
	fmt.Fprintf(w, "Posted to %s by %s: %s\n", resp.Public.Room, resp.Public.Author, resp.Public.Text)
}

func init() {
	askCmd.Flags().String("author", defaultAuthor(), "message author")
	askCmd.Flags().String("room", "", "chat room (default: pipeline.target_room)")
	askCmd.Flags().Bool("no-store", false, "search and summarize without storing the message")
	askCmd.Flags().Bool("json", false, "output the deliveries as JSON")

	rootCmd.AddCommand(askCmd)
}

func defaultAuthor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
