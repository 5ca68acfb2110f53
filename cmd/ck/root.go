package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/config"
)

var (
	dbPath      string
	actorFlag   string
	sessionFlag string
	jsonOutput  bool
	noDaemon    bool
)

var rootCmd = &cobra.Command{
	Use:   "ck",
	Short: "Context keeper: persistent memory for coding agents",
	Long: `ck stores keyed context items per session in a local SQLite
database: decisions, notes, progress, errors. Items survive process
restarts, can be searched across sessions under a privacy rule, linked
into a graph, checkpointed, branched, merged, and compacted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if dbPath != "" {
			config.Set("db", dbPath)
		}
		if jsonOutput {
			config.Set("json", true)
		}
		jsonOutput = config.GetBool("json")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		closeEngine()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to the database file (default: nearest .ck/context.db)")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "Actor recorded in audit trails (default: git user.name)")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "Session id to operate on (default: current session)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output machine-readable JSON")
	rootCmd.PersistentFlags().BoolVar(&noDaemon, "no-daemon", false, "Skip the daemon and open the database directly")
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeEngine()
		os.Exit(1)
	}
}

// outputJSON prints v as indented JSON on stdout.
func outputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
