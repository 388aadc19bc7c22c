// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/recall-engine/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Serve starts an HTTP server for chat transports:

  POST /api/v1/messages  {text, author, room, timestamp}
                         -> {private: InstantAnswer|null, public: message}
  GET  /health           dependency status

The transport delivers "private" to the author before posting "public" to
the room.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comps, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer comps.Close()

	app := server.New(cfg.Server, comps.service, comps.checks, log)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", addr, "room", cfg.Pipeline.TargetRoom, "store", cfg.Store.Backend)
	return app.Listen(addr)
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")

	rootCmd.AddCommand(serveCmd)
}
