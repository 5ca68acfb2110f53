package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Save, delete, or update many items in one transaction",
}

// readBatchInput decodes JSON from --file or stdin into v.
func readBatchInput(cmd *cobra.Command, v interface{}) error {
	path, _ := cmd.Flags().GetString("file")
	var reader io.Reader = os.Stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		reader = f
	}
	dec := json.NewDecoder(reader)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid batch input: %w", err)
	}
	return nil
}

func printBatchResult(result *types.BatchResult) {
	if jsonOutput {
		outputJSON(result)
		return
	}
	if result.DryRun {
		fmt.Println(ui.WarningStyle.Render(fmt.Sprintf("dry run: %d would succeed, %d would fail",
			result.Succeeded, result.Failed)))
	} else {
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("✓ %d succeeded, %d failed",
			result.Succeeded, result.Failed)))
	}
	for _, r := range result.Results {
		if !r.Success {
			fmt.Printf("  %s %s: %s\n", ui.ErrorStyle.Render("✗"), r.Key, r.Error)
		}
	}
}

var batchSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save items from a JSON array ({\"key\", \"value\", ...})",
	RunE: func(cmd *cobra.Command, args []string) error {
		var items []types.BatchSaveInput
		if err := readBatchInput(cmd, &items); err != nil {
			return err
		}
		var result types.BatchResult
		err := run(rpc.OpBatchSave, &rpc.BatchSaveArgs{SessionID: sessionFlag, Items: items}, &result)
		if err != nil {
			return err
		}
		printBatchResult(&result)
		return nil
	},
}

var batchDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete items by keys, glob pattern, or channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, _ := cmd.Flags().GetStringSlice("key")
		keyPattern, _ := cmd.Flags().GetString("key-pattern")
		channelFlag, _ := cmd.Flags().GetString("channel")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if len(keys) == 0 && keyPattern == "" && channelFlag == "" {
			return fmt.Errorf("one of --key, --key-pattern, or --channel is required")
		}

		var result types.BatchResult
		err := run(rpc.OpBatchDelete, &rpc.BatchDeleteArgs{
			SessionID: sessionFlag,
			BatchDeleteRequest: types.BatchDeleteRequest{
				Keys:       keys,
				KeyPattern: keyPattern,
				Channel:    channelFlag,
				DryRun:     dryRun,
			},
		}, &result)
		if err != nil {
			return err
		}
		printBatchResult(&result)
		return nil
	},
}

var batchUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update items from a JSON batch, or set fields across a pattern",
	Long: `Two forms: pipe a JSON array of per-key updates, or use
--key-pattern with --set-channel/--set-priority/--set-category to apply
one field set to every matching key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPattern, _ := cmd.Flags().GetString("key-pattern")

		updateArgs := &rpc.BatchUpdateArgs{SessionID: sessionFlag}
		if keyPattern != "" {
			fields := &types.BatchUpdateInput{}
			if s, _ := cmd.Flags().GetString("set-channel"); s != "" {
				fields.Channel = &s
			}
			if s, _ := cmd.Flags().GetString("set-priority"); s != "" {
				p := types.Priority(s)
				fields.Priority = &p
			}
			if s, _ := cmd.Flags().GetString("set-category"); s != "" {
				c := types.Category(s)
				fields.Category = &c
			}
			updateArgs.KeyPattern = keyPattern
			updateArgs.Fields = fields
		} else {
			var updates []types.BatchUpdateInput
			if err := readBatchInput(cmd, &updates); err != nil {
				return err
			}
			updateArgs.Updates = updates
		}

		var result types.BatchResult
		if err := run(rpc.OpBatchUpdate, updateArgs, &result); err != nil {
			return err
		}
		printBatchResult(&result)
		return nil
	},
}

func init() {
	batchSaveCmd.Flags().String("file", "", "Read the JSON array from this file instead of stdin")
	batchUpdateCmd.Flags().String("file", "", "Read the JSON array from this file instead of stdin")
	batchUpdateCmd.Flags().String("key-pattern", "", "Apply one field set to keys matching this glob")
	batchUpdateCmd.Flags().String("set-channel", "", "Channel to set (with --key-pattern)")
	batchUpdateCmd.Flags().String("set-priority", "", "Priority to set (with --key-pattern)")
	batchUpdateCmd.Flags().String("set-category", "", "Category to set (with --key-pattern)")
	batchDeleteCmd.Flags().StringSlice("key", nil, "Key to delete (repeatable)")
	batchDeleteCmd.Flags().String("key-pattern", "", "Glob pattern selecting keys")
	batchDeleteCmd.Flags().String("channel", "", "Delete every item in this channel")
	batchDeleteCmd.Flags().Bool("dry-run", false, "Report what would be deleted without mutating")

	batchCmd.AddCommand(batchSaveCmd, batchDeleteCmd, batchUpdateCmd)
	rootCmd.AddCommand(batchCmd)
}
