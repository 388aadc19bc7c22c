// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the recall CLI: it answers chat
// questions from stored room history, backfills that history, and serves
// the pipeline over HTTP.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/secrets"
	"github.com/pdiddy/recall-engine/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	cfg types.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Instant answers from a chat room's own history",
	Long: `recall classifies, tags and embeds chat messages into a vector store and,
when someone asks a question, summarizes the most similar earlier answers
with attribution to their authors.

Use ask for a single message, index to backfill history from a file, and
serve to expose the pipeline to a chat transport over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine.
		_ = godotenv.Load()

		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		if keys := s.Keys(); len(keys) > 0 {
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}

		cfg, err = loadConfig()
		if err != nil {
			return err
		}
		s.Apply(&cfg)

		log, err = logger.New(cfg.LogMode)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./recall.yaml or ~/.config/recall/config.yaml)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("recall")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "recall"))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
