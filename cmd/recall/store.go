// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/recall-engine/internal/vectorstore"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// --- get ---

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print one stored message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		store, err := openStore(ctx, cfg.Store, log)
		if err != nil {
			return err
		}
		defer store.Close()

		msg, err := store.GetByID(ctx, args[0])
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(msg); err != nil {
			return err
		}
		fmt.Printf("embedded: %t\n", msg.HasEmbedding())
		return nil
	},
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored messages to YAML or JSON",
	Long: `Export writes stored messages (newest first, embeddings omitted) to stdout
or --output. Filters narrow the export by room, type or tag. Only the
sqlite backend supports export.`,
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	store, err := openSQLite()
	if err != nil {
		return err
	}
	defer store.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	n, err := store.Export(context.Background(), w, format, listOptsFromFlags(cmd))
	if err != nil {
		return err
	}
	if output != "" {
		fmt.Fprintf(os.Stderr, "Exported %d message(s) to %s\n", n, output)
	}
	return nil
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count stored messages by type",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSQLite()
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.Stats(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("%-12s %d\n", "total", st.Total)
		fmt.Printf("%-12s %d\n", "embedded", st.Embedded)
		names := make([]string, 0, len(st.ByType))
		for t := range st.ByType {
			names = append(names, t)
		}
		sort.Strings(names)
		for _, t := range names {
			fmt.Printf("%-12s %d\n", t, st.ByType[t])
		}
		return nil
	},
}

// --- shared helpers ---

func openSQLite() (*vectorstore.SQLiteStore, error) {
	if cfg.Store.Backend != types.BackendSQLite && cfg.Store.Backend != "" {
		return nil, fmt.Errorf("export and stats need the sqlite backend, configured backend is %q", cfg.Store.Backend)
	}
	return vectorstore.NewSQLiteStore(cfg.Store.SQLitePath, cfg.Store.Dimension)
}

func listOptsFromFlags(cmd *cobra.Command) vectorstore.ListOptions {
	room, _ := cmd.Flags().GetString("room")
	msgType, _ := cmd.Flags().GetString("type")
	tag, _ := cmd.Flags().GetString("tag")
	limit, _ := cmd.Flags().GetInt("limit")

	opts := vectorstore.ListOptions{Room: room, Tag: tag, Limit: limit}
	if msgType != "" {
		if t, err := types.ParseMessageType(msgType); err == nil {
			opts.Type = t
		}
	}
	return opts
}

func init() {
	exportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	exportCmd.Flags().String("output", "", "write to a file instead of stdout")
	exportCmd.Flags().String("room", "", "filter by room")
	exportCmd.Flags().String("type", "", "filter by message type: question, answer, discussion")
	exportCmd.Flags().String("tag", "", "filter by topic tag or tech keyword")
	exportCmd.Flags().Int("limit", 0, "maximum messages to export (0 = all)")

	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
}
