package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the engine's view of this workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status rpc.StatusResponse
		if err := run(rpc.OpStatus, nil, &status); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(status)
			return nil
		}

		mode := "direct"
		if e, _ := openEngine(); e != nil && e.client != nil {
			mode = "daemon"
		}
		fmt.Println(ui.TitleStyle.Render("ck status"))
		fmt.Printf("  mode:     %s\n", mode)
		fmt.Printf("  version:  %s\n", status.Version)
		fmt.Printf("  database: %s\n", status.DatabasePath)
		if status.CurrentSession != nil {
			s := status.CurrentSession
			fmt.Printf("  session:  %s (%s)\n", s.Name, s.ID)
			fmt.Printf("  channel:  %s\n", s.DefaultChannel)
			if s.Branch != "" {
				fmt.Printf("  branch:   %s\n", s.Branch)
			}
		} else {
			fmt.Println("  session:  " + ui.MutedStyle.Render("none (run 'ck session start')"))
		}
		if status.SessionStats != nil {
			st := status.SessionStats
			fmt.Printf("  items:    %d (%d bytes)\n", st.ItemCount, st.TotalBytes)
		}
		if status.Database != nil {
			db := status.Database
			fmt.Printf("  store:    %d sessions, %d items, %d bytes\n",
				db.Sessions, db.Items, db.SizeBytes)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
