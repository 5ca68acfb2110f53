package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/config"
	"github.com/untoldecay/ContextKeeper/internal/storage/sqlite"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the .ck directory and database in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		ckDir := filepath.Join(cwd, config.DataDirName)
		dbFile := filepath.Join(ckDir, "context.db")

		if _, err := os.Stat(dbFile); err == nil {
			return fmt.Errorf("already initialized: %s exists", dbFile)
		}
		if err := os.MkdirAll(ckDir, 0o750); err != nil {
			return fmt.Errorf("failed to create %s: %w", ckDir, err)
		}

		// Opening the store creates the schema and runs migrations.
		store, err := sqlite.New(context.Background(), dbFile)
		if err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
		if err := store.Close(); err != nil {
			return err
		}

		configPath, err := config.WriteDefault(cwd)
		if err != nil {
			// An existing config file is fine on re-init of the directory.
			configPath = ""
		}

		if jsonOutput {
			outputJSON(map[string]string{
				"database": dbFile,
				"config":   configPath,
			})
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render("✓ ck initialized"))
		fmt.Printf("  database: %s\n", dbFile)
		if configPath != "" {
			fmt.Printf("  config:   %s\n", configPath)
		}
		fmt.Println(ui.MutedStyle.Render("Next: ck session start --name \"my work\""))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
