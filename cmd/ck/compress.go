package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/compact"
	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Fold old items into a summary bucket",
	Long: `Replaces items older than --older-than with one compressed bucket
holding per-category summaries. The cutoff accepts ISO dates, compact
durations ("30d"), or natural phrases ("2 weeks ago"). Categories named
in --preserve are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if list, _ := cmd.Flags().GetBool("list"); list {
			limit, _ := cmd.Flags().GetInt("limit")
			var buckets []*types.CompressedBucket
			err := run(rpc.OpCompress, &rpc.CompressArgs{
				SessionID:   sessionFlag,
				ListBuckets: true,
				Limit:       limit,
			}, &buckets)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(buckets)
				return nil
			}
			if len(buckets) == 0 {
				fmt.Println("No compressed buckets yet")
				return nil
			}
			tbl := ui.NewTable(ui.GetWidth(), "Items", "Ratio", "From", "To", "Created")
			for _, b := range buckets {
				tbl.Row(
					fmt.Sprintf("%d", b.OriginalCount),
					fmt.Sprintf("%.0f%%", b.Ratio*100),
					b.DateStart.Format("2006-01-02"),
					b.DateEnd.Format("2006-01-02"),
					ui.Age(b.CreatedAt),
				)
			}
			fmt.Println(tbl.Render())
			return nil
		}

		olderThan, _ := cmd.Flags().GetString("older-than")
		if olderThan == "" {
			return fmt.Errorf("--older-than is required (e.g. '30d', '2 weeks ago')")
		}
		preserve, _ := cmd.Flags().GetStringSlice("preserve")
		targetSize, _ := cmd.Flags().GetInt("target-size")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		var result compact.Result
		err := run(rpc.OpCompress, &rpc.CompressArgs{
			SessionID:          sessionFlag,
			OlderThan:          olderThan,
			PreserveCategories: preserve,
			TargetSize:         targetSize,
			DryRun:             dryRun,
		}, &result)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(result)
			return nil
		}
		if result.ItemsCompressed == 0 {
			fmt.Println("Nothing old enough to compress")
			return nil
		}
		verb := "compressed"
		if result.DryRun {
			verb = "would compress"
		}
		line := fmt.Sprintf("✓ %s %d items (%d bytes)", verb, result.ItemsCompressed, result.OriginalSize)
		if result.Bucket != nil {
			line += fmt.Sprintf(" to %d bytes", result.Bucket.CompressedSize)
		}
		fmt.Println(ui.SuccessStyle.Render(line))
		return nil
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Show session activity bucketed by hour or day",
	RunE: func(cmd *cobra.Command, args []string) error {
		start, _ := cmd.Flags().GetString("start")
		end, _ := cmd.Flags().GetString("end")
		groupBy, _ := cmd.Flags().GetString("group-by")
		includeItems, _ := cmd.Flags().GetBool("items")

		var buckets []*types.TimelineBucket
		err := run(rpc.OpTimeline, &rpc.TimelineArgs{
			SessionID:    sessionFlag,
			StartDate:    start,
			EndDate:      end,
			GroupBy:      groupBy,
			IncludeItems: includeItems,
		}, &buckets)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(buckets)
			return nil
		}
		if len(buckets) == 0 {
			fmt.Println("No activity in range")
			return nil
		}
		for _, b := range buckets {
			fmt.Println(ui.TitleStyle.Render(b.Period) + ui.MutedStyle.Render(
				fmt.Sprintf("  %d items", b.ItemCount)))
			for cat, n := range b.ByCategory {
				fmt.Printf("  %-10s %d\n", cat, n)
			}
			for _, entry := range b.Journal {
				fmt.Printf("  journal: %s\n", entry.Entry)
			}
			if includeItems {
				for _, item := range b.Items {
					fmt.Printf("  %s (%s)\n", item.Key, item.Category)
				}
			}
		}
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal [entry]",
	Short: "Append to or read the session journal",
	Long: `With an argument, appends a journal entry to the current session.
Without one, lists entries (newest first); --since/--until bound the
range.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			tags, _ := cmd.Flags().GetStringSlice("tag")
			mood, _ := cmd.Flags().GetString("mood")

			var entry types.JournalEntry
			err := run(rpc.OpJournalEntry, &rpc.JournalEntryArgs{
				SessionID: sessionFlag,
				Entry:     args[0],
				Tags:      tags,
				Mood:      mood,
			}, &entry)
			if err != nil {
				return err
			}
			if jsonOutput {
				outputJSON(entry)
				return nil
			}
			fmt.Println(ui.SuccessStyle.Render("✓ journal entry added"))
			return nil
		}

		since, _ := cmd.Flags().GetString("since")
		until, _ := cmd.Flags().GetString("until")
		limit, _ := cmd.Flags().GetInt("limit")

		var entries []*types.JournalEntry
		err := run(rpc.OpJournalEntry, &rpc.JournalEntryArgs{
			SessionID: sessionFlag,
			List:      true,
			Since:     since,
			Until:     until,
			Limit:     limit,
		}, &entries)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(entries)
			return nil
		}
		if len(entries) == 0 {
			fmt.Println("Journal is empty")
			return nil
		}
		for _, e := range entries {
			header := ui.MutedStyle.Render(e.CreatedAt.Local().Format("2006-01-02 15:04"))
			if e.Mood != "" {
				header += " " + ui.KeyStyle.Render("["+e.Mood+"]")
			}
			fmt.Println(header)
			fmt.Printf("  %s\n", e.Entry)
			if len(e.Tags) > 0 {
				fmt.Println("  " + ui.MutedStyle.Render("#"+joinTags(e.Tags)))
			}
		}
		return nil
	},
}

func joinTags(tags []string) string {
	out := ""
	for i, t := range tags {
		if i > 0 {
			out += " #"
		}
		out += t
	}
	return out
}

func init() {
	compressCmd.Flags().String("older-than", "", "Compress items older than this cutoff")
	compressCmd.Flags().StringSlice("preserve", nil, "Categories to exclude (repeatable)")
	compressCmd.Flags().Int("target-size", 0, "Target summary size in bytes")
	compressCmd.Flags().Bool("dry-run", false, "Build the summary without writing or deleting")
	compressCmd.Flags().Bool("list", false, "List existing compressed buckets")
	compressCmd.Flags().Int("limit", 0, "Maximum buckets to list")

	timelineCmd.Flags().String("start", "", "Range start")
	timelineCmd.Flags().String("end", "", "Range end")
	timelineCmd.Flags().String("group-by", "", "Bucket size (hour or day)")
	timelineCmd.Flags().Bool("items", false, "Include item rows per bucket")

	journalCmd.Flags().StringSlice("tag", nil, "Tag for the entry (repeatable)")
	journalCmd.Flags().String("mood", "", "Mood marker for the entry")
	journalCmd.Flags().String("since", "", "List entries after this time")
	journalCmd.Flags().String("until", "", "List entries before this time")
	journalCmd.Flags().Int("limit", 0, "Maximum entries to list")

	rootCmd.AddCommand(compressCmd, timelineCmd, journalCmd)
}
