package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint [name]",
	Short: "Snapshot the current session",
	Long: `Captures the session's items (and git status when the workspace is
a repository) under a name, so the state can be restored later. With
--list, shows existing checkpoints instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, _ := cmd.Flags().GetBool("list")
		if list {
			limit, _ := cmd.Flags().GetInt("limit")
			var checkpoints []*types.Checkpoint
			err := run(rpc.OpCheckpoint, &rpc.CheckpointArgs{
				SessionID: sessionFlag,
				List:      true,
				Limit:     limit,
			}, &checkpoints)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(checkpoints)
				return nil
			}
			if len(checkpoints) == 0 {
				fmt.Println("No checkpoints yet")
				return nil
			}
			tbl := ui.NewTable(ui.GetWidth(), "Name", "Items", "Branch", "Created", "ID")
			for _, cp := range checkpoints {
				tbl.Row(cp.Name, fmt.Sprintf("%d", cp.ItemCount), cp.GitBranch, ui.Age(cp.CreatedAt), cp.ID)
			}
			fmt.Println(tbl.Render())
			return nil
		}

		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		description, _ := cmd.Flags().GetString("description")

		var cp types.Checkpoint
		err := run(rpc.OpCheckpoint, &rpc.CheckpointArgs{
			SessionID:   sessionFlag,
			Name:        name,
			Description: description,
		}, &cp)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(cp)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render("✓ checkpoint created: " + cp.Name))
		fmt.Printf("  items: %d", cp.ItemCount)
		if cp.GitBranch != "" {
			fmt.Printf("  branch: %s", cp.GitBranch)
		}
		fmt.Println()
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <checkpoint>",
	Short: "Restore a checkpoint into a fresh session",
	Long: `Restores a checkpoint, referenced by id or name, into a new session
and makes it current. The original session is untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		newName, _ := cmd.Flags().GetString("name")
		restoreFiles, _ := cmd.Flags().GetBool("files")

		var result struct {
			Session  *types.Session `json:"session"`
			Restored int            `json:"restored"`
		}
		err := run(rpc.OpRestoreCheckpoint, &rpc.RestoreCheckpointArgs{
			Ref:            args[0],
			NewSessionName: newName,
			RestoreFiles:   restoreFiles,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render(
			fmt.Sprintf("✓ restored %d items into session %q", result.Restored, result.Session.Name)))
		fmt.Printf("  id: %s\n", result.Session.ID)
		return nil
	},
}

var branchCmd = &cobra.Command{
	Use:   "branch <name>",
	Short: "Fork the current session into a new one",
	Long: `Creates a new session copying the current one's items and switches
to it. --deep also copies relationships and journal entries.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth := string(types.CopyShallow)
		if deep, _ := cmd.Flags().GetBool("deep"); deep {
			depth = string(types.CopyDeep)
		}

		var result struct {
			Session *types.Session `json:"session"`
			Copied  int            `json:"copied"`
		}
		err := run(rpc.OpBranchSession, &rpc.BranchSessionArgs{
			SessionID:  sessionFlag,
			BranchName: args[0],
			Depth:      depth,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render(
			fmt.Sprintf("✓ branched into %q (%d items copied)", result.Session.Name, result.Copied)))
		fmt.Printf("  id: %s\n", result.Session.ID)
		return nil
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <source-session>",
	Short: "Merge another session's items into the current one",
	Long: `Copies items from the source session into the target (current by
default). Key conflicts resolve per --strategy: keep_current keeps the
target's value, keep_source overwrites, keep_newest compares timestamps.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy, _ := cmd.Flags().GetString("strategy")
		target, _ := cmd.Flags().GetString("into")

		var result rpc.MergeResponse
		err := run(rpc.OpMergeSessions, &rpc.MergeSessionsArgs{
			SourceSessionID: args[0],
			TargetSessionID: target,
			Strategy:        strategy,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render(
			fmt.Sprintf("✓ merged %d items, skipped %d", result.Merged, result.Skipped)))
		return nil
	},
}

func init() {
	checkpointCmd.Flags().String("description", "", "Checkpoint description")
	checkpointCmd.Flags().Bool("list", false, "List checkpoints instead of creating one")
	checkpointCmd.Flags().Int("limit", 0, "Maximum checkpoints to list")

	restoreCmd.Flags().String("name", "", "Name for the restored session")
	restoreCmd.Flags().Bool("files", false, "Also restore cached file snapshots")

	branchCmd.Flags().Bool("deep", false, "Copy relationships and journal entries too")

	mergeCmd.Flags().String("strategy", "", "Conflict strategy (keep_current, keep_source, keep_newest)")
	mergeCmd.Flags().String("into", "", "Target session (default: current)")

	rootCmd.AddCommand(checkpointCmd, restoreCmd, branchCmd, mergeCmd)
}
