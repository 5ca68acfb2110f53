package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
	"github.com/untoldecay/ContextKeeper/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream item mutations as they happen",
	Long: `Creates a watcher and long-polls it, printing one line per create,
update, or delete until interrupted. Other sessions' private items never
appear. Requires a running daemon; a direct-mode process only sees its
own writes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		if e.client == nil {
			fmt.Fprintln(os.Stderr, "Warning: no daemon running; only this process's writes will appear")
			fmt.Fprintln(os.Stderr, "Hint: start one with 'ck daemon'")
		}

		filter := types.WatchFilter{}
		keys, _ := cmd.Flags().GetStringSlice("key")
		filter.Keys = keys
		channels, _ := cmd.Flags().GetStringSlice("channel")
		filter.Channels = channels
		categories, _ := cmd.Flags().GetStringSlice("category")
		for _, c := range categories {
			filter.Categories = append(filter.Categories, types.Category(c))
		}
		priorities, _ := cmd.Flags().GetStringSlice("priority")
		for _, p := range priorities {
			filter.Priorities = append(filter.Priorities, types.Priority(p))
		}

		var created rpc.WatchCreateResponse
		err = e.call(rpc.OpWatch, &rpc.WatchArgs{
			Action:    "create",
			SessionID: sessionFlag,
			Filter:    filter,
		}, &created)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "watching from sequence %d (ctrl-c to stop)\n", created.CurrentSequence)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		defer func() {
			// Best effort; the hub sweeps idle watchers anyway.
			_ = e.call(rpc.OpWatch, &rpc.WatchArgs{Action: "cancel", WatcherID: created.WatcherID}, nil)
		}()

		for {
			var result watch.PollResult
			err := e.call(rpc.OpWatch, &rpc.WatchArgs{
				Action:    "poll",
				WatcherID: created.WatcherID,
				TimeoutMs: 25000,
			}, &result)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if result.Missed > 0 {
				fmt.Fprintf(os.Stderr, "warning: %d events missed (buffer overrun)\n", result.Missed)
			}
			for _, ev := range result.Events {
				if jsonOutput {
					outputJSON(ev)
				} else {
					fmt.Println(ui.RenderEvent(ev))
				}
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	},
}

func init() {
	watchCmd.Flags().StringSlice("key", nil, "Only these keys (repeatable)")
	watchCmd.Flags().StringSlice("channel", nil, "Only these channels (repeatable)")
	watchCmd.Flags().StringSlice("category", nil, "Only these categories (repeatable)")
	watchCmd.Flags().StringSlice("priority", nil, "Only these priorities (repeatable)")
	rootCmd.AddCommand(watchCmd)
}
