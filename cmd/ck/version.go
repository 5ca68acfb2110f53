package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
)

var (
	// Version is overridden by ldflags at release build time.
	Version = "0.9.0"
	Build   = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		checkDaemon, _ := cmd.Flags().GetBool("daemon")
		if checkDaemon {
			return showDaemonVersion()
		}

		commit := resolveCommit()
		if jsonOutput {
			result := map[string]string{"version": Version, "build": Build}
			if commit != "" {
				result["commit"] = commit
			}
			outputJSON(result)
			return nil
		}
		if commit != "" {
			fmt.Printf("ck version %s (%s: %s)\n", Version, Build, commit)
		} else {
			fmt.Printf("ck version %s (%s)\n", Version, Build)
		}
		return nil
	},
}

func showDaemonVersion() error {
	workspace, err := workspaceRoot()
	if err != nil {
		return err
	}
	client, err := rpc.TryConnect(workspace)
	if err != nil {
		return err
	}
	if client == nil {
		fmt.Fprintln(os.Stderr, "Error: daemon is not running")
		fmt.Fprintln(os.Stderr, "Hint: start it with 'ck daemon'")
		os.Exit(1)
	}

	health, err := client.Health()
	if err != nil {
		return fmt.Errorf("failed to check daemon health: %w", err)
	}

	if jsonOutput {
		outputJSON(map[string]interface{}{
			"daemon_version": health.Version,
			"client_version": Version,
			"compatible":     health.Compatible,
			"daemon_uptime":  health.Uptime,
		})
	} else {
		fmt.Printf("Daemon version: %s\n", health.Version)
		fmt.Printf("Client version: %s\n", Version)
		if health.Compatible {
			fmt.Println("Compatibility: compatible")
		} else {
			fmt.Println("Compatibility: incompatible (restart the daemon)")
		}
	}
	if !health.Compatible {
		os.Exit(1)
	}
	return nil
}

func resolveCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return ""
}

func init() {
	versionCmd.Flags().Bool("daemon", false, "Check daemon version and compatibility")
	rootCmd.AddCommand(versionCmd)
}
