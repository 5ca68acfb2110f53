package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Retention policies, feature flags, migrations, export/import",
}

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Manage retention policies",
}

var retentionSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create or update one retention policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		category, _ := cmd.Flags().GetString("category")
		channelFlag, _ := cmd.Flags().GetString("channel")
		maxAge, _ := cmd.Flags().GetInt("max-age-days")
		maxCount, _ := cmd.Flags().GetInt("max-count")
		disabled, _ := cmd.Flags().GetBool("disabled")

		policy := &types.RetentionPolicy{
			Name:       args[0],
			Category:   types.Category(category),
			Channel:    channelFlag,
			MaxAgeDays: maxAge,
			MaxCount:   maxCount,
			Enabled:    !disabled,
		}
		var saved types.RetentionPolicy
		err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "retention_set", Policy: policy}, &saved)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(saved)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render("✓ policy saved: " + saved.Name))
		return nil
	},
}

var retentionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retention policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		var policies []*types.RetentionPolicy
		if err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "retention_list"}, &policies); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(policies)
			return nil
		}
		if len(policies) == 0 {
			fmt.Println("No retention policies")
			return nil
		}
		tbl := ui.NewTable(ui.GetWidth(), "Name", "Category", "Channel", "Max age", "Max count", "Enabled")
		for _, p := range policies {
			maxAge := ""
			if p.MaxAgeDays > 0 {
				maxAge = fmt.Sprintf("%dd", p.MaxAgeDays)
			}
			maxCount := ""
			if p.MaxCount > 0 {
				maxCount = fmt.Sprintf("%d", p.MaxCount)
			}
			tbl.Row(p.Name, string(p.Category), p.Channel, maxAge, maxCount, fmt.Sprintf("%t", p.Enabled))
		}
		fmt.Println(tbl.Render())
		return nil
	},
}

var retentionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one retention policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result map[string]string
		err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "retention_delete", ID: args[0]}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render("✓ policy deleted"))
		return nil
	},
}

// retentionPolicyFile is the on-disk TOML shape for bulk policy loads.
type retentionPolicyFile struct {
	Policies []struct {
		Name       string `toml:"name"`
		Category   string `toml:"category"`
		Channel    string `toml:"channel"`
		MaxAgeDays int    `toml:"max_age_days"`
		MaxCount   int    `toml:"max_count"`
		Disabled   bool   `toml:"disabled"`
	} `toml:"policy"`
}

var retentionApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Run retention policies now",
	Long: `Sweeps every enabled policy, deleting items past their age or count
bounds. With --file, first loads policy definitions from a TOML file:

    [[policy]]
    name = "trim-notes"
    category = "note"
    max_age_days = 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if path, _ := cmd.Flags().GetString("file"); path != "" {
			var file retentionPolicyFile
			if _, err := toml.DecodeFile(path, &file); err != nil {
				return fmt.Errorf("failed to parse %s: %w", path, err)
			}
			if len(file.Policies) == 0 {
				return fmt.Errorf("%s defines no policy blocks", path)
			}
			for _, p := range file.Policies {
				policy := &types.RetentionPolicy{
					Name:       p.Name,
					Category:   types.Category(p.Category),
					Channel:    p.Channel,
					MaxAgeDays: p.MaxAgeDays,
					MaxCount:   p.MaxCount,
					Enabled:    !p.Disabled,
				}
				if err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "retention_set", Policy: policy}, nil); err != nil {
					return fmt.Errorf("failed to load policy %q: %w", p.Name, err)
				}
			}
			if !jsonOutput {
				fmt.Printf("Loaded %d policies from %s\n", len(file.Policies), path)
			}
		}

		var result types.RetentionResult
		err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "retention_apply", DryRun: dryRun}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		verb := "deleted"
		if result.DryRun {
			verb = "would delete"
		}
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("✓ %s %d items", verb, result.Deleted)))
		for _, runInfo := range result.PolicyRuns {
			fmt.Printf("  %s: %d matched\n", runInfo.PolicyName, runInfo.Matched)
		}
		return nil
	},
}

var flagCmd = &cobra.Command{
	Use:   "flag",
	Short: "Manage feature flags",
}

var flagSetCmd = &cobra.Command{
	Use:   "set <name> <on|off>",
	Short: "Set one feature flag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled := false
		switch args[1] {
		case "on", "true", "1":
			enabled = true
		case "off", "false", "0":
		default:
			return fmt.Errorf("state must be 'on' or 'off', got %q", args[1])
		}
		description, _ := cmd.Flags().GetString("description")

		flag := &types.FeatureFlag{Name: args[0], Enabled: enabled, Description: description}
		var saved types.FeatureFlag
		err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "flag_set", Flag: flag}, &saved)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(saved)
			return nil
		}
		state := "off"
		if saved.Enabled {
			state = "on"
		}
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("✓ %s is %s", saved.Name, state)))
		return nil
	},
}

var flagGetCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Show one feature flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var flag types.FeatureFlag
		err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "flag_get", Name: args[0]}, &flag)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(flag)
			return nil
		}
		state := "off"
		if flag.Enabled {
			state = "on"
		}
		fmt.Printf("%s: %s\n", flag.Name, state)
		return nil
	},
}

var flagListCmd = &cobra.Command{
	Use:   "list",
	Short: "List feature flags",
	RunE: func(cmd *cobra.Command, args []string) error {
		var flags []*types.FeatureFlag
		if err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "flag_list"}, &flags); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(flags)
			return nil
		}
		if len(flags) == 0 {
			fmt.Println("No feature flags")
			return nil
		}
		for _, f := range flags {
			marker := ui.MutedStyle.Render("off")
			if f.Enabled {
				marker = ui.SuccessStyle.Render("on ")
			}
			fmt.Printf("%s %s", marker, f.Name)
			if f.Description != "" {
				fmt.Printf("  %s", ui.MutedStyle.Render(f.Description))
			}
			fmt.Println()
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Inspect or roll back schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rollback, _ := cmd.Flags().GetBool("rollback"); rollback {
			var result map[string]string
			err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "migrate_rollback"}, &result)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(result)
				return nil
			}
			fmt.Println(ui.SuccessStyle.Render("✓ last migration rolled back"))
			return nil
		}

		var status struct {
			Applied []types.MigrationRecord `json:"applied"`
			Pending []string                `json:"pending"`
		}
		if err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "migrate_status"}, &status); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(status)
			return nil
		}
		for _, m := range status.Applied {
			marker := ui.SuccessStyle.Render("✓")
			if !m.Success {
				marker = ui.ErrorStyle.Render("✗")
			}
			fmt.Printf("%s %03d %s\n", marker, m.Version, m.Name)
		}
		for _, m := range status.Pending {
			fmt.Printf("%s %s\n", ui.MutedStyle.Render("·"), m)
		}
		if len(status.Pending) == 0 {
			fmt.Println(ui.MutedStyle.Render("schema up to date"))
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Export a session's items to JSONL or YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		var result rpc.ExportResponse
		err := run(rpc.OpAdmin, &rpc.AdminArgs{
			Action:    "export",
			SessionID: sessionFlag,
			Path:      args[0],
			Format:    format,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render(
			fmt.Sprintf("✓ exported %d items to %s", result.Count, result.Path)))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <path>",
	Short: "Import items from a JSONL or YAML export",
	Long: `Imports items into the current session. The format is inferred from
the file extension unless --format is given. Keys that already exist
locally are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		var result rpc.ExportResponse
		err := run(rpc.OpAdmin, &rpc.AdminArgs{
			Action:    "import",
			SessionID: sessionFlag,
			Path:      args[0],
			Format:    format,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render(
			fmt.Sprintf("✓ imported %d items, skipped %d", result.Imported, result.Skipped)))
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database-wide statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats types.DatabaseStats
		if err := run(rpc.OpAdmin, &rpc.AdminArgs{Action: "stats"}, &stats); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(stats)
			return nil
		}
		fmt.Println(ui.TitleStyle.Render("Database"))
		fmt.Printf("  sessions:      %d\n", stats.Sessions)
		fmt.Printf("  items:         %d (%d private)\n", stats.Items, stats.PrivateItems)
		fmt.Printf("  relationships: %d\n", stats.Relationships)
		fmt.Printf("  checkpoints:   %d\n", stats.Checkpoints)
		fmt.Printf("  buckets:       %d\n", stats.CompressedBuckets)
		fmt.Printf("  journal:       %d\n", stats.JournalEntries)
		fmt.Printf("  size:          %d bytes\n", stats.SizeBytes)
		return nil
	},
}

func init() {
	retentionSetCmd.Flags().String("category", "", "Category the policy applies to")
	retentionSetCmd.Flags().String("channel", "", "Channel the policy applies to")
	retentionSetCmd.Flags().Int("max-age-days", 0, "Delete matching items older than this many days")
	retentionSetCmd.Flags().Int("max-count", 0, "Keep at most this many matching items")
	retentionSetCmd.Flags().Bool("disabled", false, "Create the policy disabled")
	retentionApplyCmd.Flags().Bool("dry-run", false, "Report what would be deleted without mutating")
	retentionApplyCmd.Flags().String("file", "", "Load policy definitions from a TOML file first")
	retentionCmd.AddCommand(retentionSetCmd, retentionListCmd, retentionDeleteCmd, retentionApplyCmd)

	flagSetCmd.Flags().String("description", "", "What the flag controls")
	flagCmd.AddCommand(flagSetCmd, flagGetCmd, flagListCmd)

	migrateCmd.Flags().Bool("rollback", false, "Roll back the most recent migration")

	exportCmd.Flags().String("format", "", "Export format (jsonl, yaml)")
	importCmd.Flags().String("format", "", "Import format (default: inferred from extension)")

	adminCmd.AddCommand(retentionCmd, flagCmd, migrateCmd, exportCmd, importCmd, statsCmd)
	rootCmd.AddCommand(adminCmd)
}
