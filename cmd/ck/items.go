package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
	"github.com/untoldecay/ContextKeeper/internal/utils"
)

var saveCmd = &cobra.Command{
	Use:   "save <key> [value]",
	Short: "Save a context item in the current session",
	Long: `Saves one keyed item. The value comes from the second argument, or
from stdin when omitted (pipe-friendly). Saving an existing key updates
it in place.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 2 {
			value = args[1]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read value from stdin: %w", err)
			}
			value = strings.TrimRight(string(data), "\n")
		}

		category, _ := cmd.Flags().GetString("category")
		priority, _ := cmd.Flags().GetString("priority")
		channelFlag, _ := cmd.Flags().GetString("channel")
		private, _ := cmd.Flags().GetBool("private")
		metadata, _ := cmd.Flags().GetString("metadata")

		saveArgs := &rpc.SaveArgs{
			SessionID: sessionFlag,
			Key:       args[0],
			Value:     value,
			Category:  category,
			Priority:  priority,
			Channel:   channelFlag,
			IsPrivate: private,
		}
		if metadata != "" {
			if !json.Valid([]byte(metadata)) {
				return fmt.Errorf("--metadata must be valid JSON")
			}
			saveArgs.Metadata = json.RawMessage(metadata)
		}

		var resp rpc.SaveResponse
		if err := run(rpc.OpSave, saveArgs, &resp); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(resp)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("✓ %s: %s", resp.Action, resp.Item.Key)))
		fmt.Printf("  channel: %s  priority: %s  size: %d bytes\n",
			resp.Item.Channel, resp.Item.Priority, resp.Item.Size)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch one item by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var item types.ContextItem
		err := run(rpc.OpGet, &rpc.GetArgs{SessionID: sessionFlag, Key: args[0]}, &item)
		if err != nil {
			if strings.HasPrefix(err.Error(), "NotFound") {
				suggestKeys(args[0])
			}
			return err
		}
		if jsonOutput {
			outputJSON(item)
			return nil
		}
		markdown, _ := cmd.Flags().GetBool("markdown")
		fmt.Println(ui.RenderItemDetail(&item, markdown, ui.GetWidth()))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete one item and its relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force && ui.IsTerminal() {
			if !ui.Confirm(fmt.Sprintf("Delete %q?", args[0]), false) {
				fmt.Println("Aborted")
				return nil
			}
		}
		var result map[string]string
		err := run(rpc.OpDelete, &rpc.DeleteArgs{SessionID: sessionFlag, Key: args[0]}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render("✓ deleted: " + args[0]))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search items across sessions",
	Long: `Searches stored items. Results span sessions; other sessions'
private items stay invisible. Time bounds accept ISO dates, compact
durations ("7d", "2h"), or natural phrases ("2 days ago").`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := ""
		if len(args) == 1 {
			query = args[0]
		}
		searchArgs, err := searchArgsFromFlags(cmd, query)
		if err != nil {
			return err
		}

		// search already spans sessions under the privacy rule; --all
		// calls the explicit alias for parity with the wire protocol.
		tool := rpc.OpSearch
		if all, _ := cmd.Flags().GetBool("all"); all {
			tool = rpc.OpSearchAll
		}
		var result types.SearchResult
		if err := run(tool, searchArgs, &result); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		if len(result.Items) == 0 {
			fmt.Println("No items found")
			return nil
		}
		fmt.Println(ui.RenderItemTable(result.Items, ui.GetWidth()))
		if result.TotalCount > len(result.Items) {
			fmt.Println(ui.MutedStyle.Render(
				fmt.Sprintf("showing %d of %d (use --limit/--offset)", len(result.Items), result.TotalCount)))
		}
		return nil
	},
}

// suggestKeys prints close matches for a missed key lookup. Best effort;
// a failed search just means no hint.
func suggestKeys(key string) {
	limit := 200
	var result types.SearchResult
	if err := run(rpc.OpSearch, &rpc.SearchArgs{Limit: &limit}, &result); err != nil {
		return
	}
	var best string
	bestDist := len(key)/2 + 1
	for _, item := range result.Items {
		if utils.FuzzyMatch(key, item.Key) {
			best = item.Key
			break
		}
		if d := utils.ComputeDistance(key, item.Key); d < bestDist {
			best, bestDist = item.Key, d
		}
	}
	if best != "" {
		fmt.Fprintf(os.Stderr, "Did you mean %q?\n", best)
	}
}

func searchArgsFromFlags(cmd *cobra.Command, query string) (*rpc.SearchArgs, error) {
	category, _ := cmd.Flags().GetString("category")
	channels, _ := cmd.Flags().GetStringSlice("channel")
	priorities, _ := cmd.Flags().GetStringSlice("priority")
	keyPattern, _ := cmd.Flags().GetString("key-pattern")
	after, _ := cmd.Flags().GetString("after")
	before, _ := cmd.Flags().GetString("before")
	sort, _ := cmd.Flags().GetString("sort")
	offset, _ := cmd.Flags().GetInt("offset")
	searchIn, _ := cmd.Flags().GetStringSlice("in")
	includeMeta, _ := cmd.Flags().GetBool("metadata")

	searchArgs := &rpc.SearchArgs{
		SessionID:     sessionFlag,
		Query:         query,
		SearchIn:      searchIn,
		Category:      category,
		Channels:      channels,
		Priorities:    priorities,
		KeyPattern:    keyPattern,
		CreatedAfter:  after,
		CreatedBefore: before,
		Sort:          sort,
		Offset:        offset,
		IncludeMeta:   includeMeta,
	}
	if cmd.Flags().Changed("limit") {
		limit, _ := cmd.Flags().GetInt("limit")
		if limit < 0 {
			return nil, fmt.Errorf("--limit cannot be negative")
		}
		searchArgs.Limit = &limit
	}
	return searchArgs, nil
}

func init() {
	saveCmd.Flags().String("category", "", "Category (task, decision, progress, note, error, warning, git, system)")
	saveCmd.Flags().String("priority", "", "Priority (low, normal, high, critical)")
	saveCmd.Flags().String("channel", "", "Channel (defaults to the session's channel)")
	saveCmd.Flags().Bool("private", false, "Hide this item from other sessions")
	saveCmd.Flags().String("metadata", "", "Attached metadata as a JSON object")

	getCmd.Flags().Bool("markdown", false, "Render the value as markdown")

	deleteCmd.Flags().BoolP("force", "f", false, "Skip the confirmation prompt")

	searchCmd.Flags().String("category", "", "Filter by category")
	searchCmd.Flags().StringSlice("channel", nil, "Filter by channel (repeatable)")
	searchCmd.Flags().StringSlice("priority", nil, "Filter by priority (repeatable)")
	searchCmd.Flags().String("key-pattern", "", "Glob pattern on keys, e.g. 'auth-*'")
	searchCmd.Flags().String("after", "", "Only items created after this time")
	searchCmd.Flags().String("before", "", "Only items created before this time")
	searchCmd.Flags().String("sort", "", "Sort order (created, updated, priority, key)")
	searchCmd.Flags().Int("limit", 0, "Maximum results (0 with the flag set means unlimited)")
	searchCmd.Flags().Int("offset", 0, "Skip this many results")
	searchCmd.Flags().StringSlice("in", nil, "Fields to search (key, value, metadata)")
	searchCmd.Flags().Bool("metadata", false, "Include metadata in results")
	searchCmd.Flags().Bool("all", false, "Explicit cross-session search (same scope, explicit intent)")

	rootCmd.AddCommand(saveCmd, getCmd, deleteCmd, searchCmd)
}
