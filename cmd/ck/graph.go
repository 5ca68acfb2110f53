package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var linkCmd = &cobra.Command{
	Use:   "link <from-key> <to-key>",
	Short: "Add a typed relationship between two items",
	Long: `Creates a directed edge from one item to another. Types: contains,
depends_on, references, implements, extends, related_to, blocks,
blocked_by, parent_of, child_of.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		relType, _ := cmd.Flags().GetString("type")
		metadata, _ := cmd.Flags().GetString("metadata")

		linkArgs := &rpc.LinkArgs{
			SessionID: sessionFlag,
			FromKey:   args[0],
			ToKey:     args[1],
			Type:      relType,
		}
		if metadata != "" {
			if !json.Valid([]byte(metadata)) {
				return fmt.Errorf("--metadata must be valid JSON")
			}
			linkArgs.Metadata = json.RawMessage(metadata)
		}

		var rel types.Relationship
		if err := run(rpc.OpLink, linkArgs, &rel); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(rel)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render(
			fmt.Sprintf("✓ linked: %s -[%s]-> %s", rel.FromKey, rel.Type, rel.ToKey)))
		return nil
	},
}

var relatedCmd = &cobra.Command{
	Use:   "related <key>",
	Short: "Show the relationship graph around one item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relTypes, _ := cmd.Flags().GetStringSlice("type")
		direction, _ := cmd.Flags().GetString("direction")
		maxDepth, _ := cmd.Flags().GetInt("depth")
		includeItems, _ := cmd.Flags().GetBool("items")

		opts := types.RelatedOptions{
			Direction:    direction,
			MaxDepth:     maxDepth,
			IncludeItems: includeItems,
		}
		for _, t := range relTypes {
			opts.Types = append(opts.Types, types.RelationType(t))
		}

		var result struct {
			Key     string               `json:"key"`
			Related []*types.RelatedItem `json:"related"`
		}
		err := run(rpc.OpGetRelated, &rpc.GetRelatedArgs{
			SessionID:      sessionFlag,
			Key:            args[0],
			RelatedOptions: opts,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		if len(result.Related) == 0 {
			fmt.Printf("No relationships for %s\n", args[0])
			return nil
		}
		fmt.Println(ui.RenderRelatedTree(result.Key, result.Related))
		return nil
	},
}

var reassignCmd = &cobra.Command{
	Use:   "reassign",
	Short: "Move items to another channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, _ := cmd.Flags().GetStringSlice("key")
		keyPattern, _ := cmd.Flags().GetString("key-pattern")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if to == "" {
			return fmt.Errorf("--to is required")
		}

		req := types.ReassignRequest{
			Keys:        keys,
			KeyPattern:  keyPattern,
			FromChannel: from,
			ToChannel:   to,
			DryRun:      dryRun,
		}
		if s, _ := cmd.Flags().GetString("category"); s != "" {
			c := types.Category(s)
			req.Category = &c
		}
		if s, _ := cmd.Flags().GetString("priority"); s != "" {
			p := types.Priority(s)
			req.Priority = &p
		}

		var result types.ReassignResult
		err := run(rpc.OpReassignChannel, &rpc.ReassignChannelArgs{
			SessionID:       sessionFlag,
			ReassignRequest: req,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		if result.DryRun {
			fmt.Println(ui.WarningStyle.Render(
				fmt.Sprintf("dry run: %d items would move to %q", result.Moved, to)))
		} else {
			fmt.Println(ui.SuccessStyle.Render(
				fmt.Sprintf("✓ moved %d items to %q", result.Moved, to)))
		}
		for _, k := range result.Keys {
			fmt.Printf("  %s\n", k)
		}
		return nil
	},
}

func init() {
	linkCmd.Flags().String("type", string(types.RelationRelatedTo), "Relationship type")
	linkCmd.Flags().String("metadata", "", "Attached metadata as a JSON object")

	relatedCmd.Flags().StringSlice("type", nil, "Filter by relationship type (repeatable)")
	relatedCmd.Flags().String("direction", "", "Edge direction (outgoing, incoming, both)")
	relatedCmd.Flags().Int("depth", 0, "Maximum traversal depth")
	relatedCmd.Flags().Bool("items", false, "Include full item rows")

	reassignCmd.Flags().StringSlice("key", nil, "Key to move (repeatable)")
	reassignCmd.Flags().String("key-pattern", "", "Glob pattern selecting keys")
	reassignCmd.Flags().String("from", "", "Only move items currently in this channel")
	reassignCmd.Flags().String("to", "", "Destination channel")
	reassignCmd.Flags().String("category", "", "Only move items in this category")
	reassignCmd.Flags().String("priority", "", "Only move items with this priority")
	reassignCmd.Flags().Bool("dry-run", false, "Report what would move without mutating")

	rootCmd.AddCommand(linkCmd, relatedCmd, reassignCmd)
}
