package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/config"
	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/storage/sqlite"
)

// serveCmd runs the engine over stdio for embedding in agent harnesses.
// Stdout carries only protocol lines; diagnostics go to stderr.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON-RPC protocol on stdin/stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, err := workspaceRoot()
		if err != nil {
			return err
		}
		store, err := sqlite.New(cmd.Context(), config.DatabasePath())
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		rpc.ServerVersion = Version
		rpc.ClientVersion = Version
		server := rpc.NewServer("", store, workspace)
		defer func() { _ = server.Stop() }()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return server.ServeStdio(ctx, os.Stdin, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
