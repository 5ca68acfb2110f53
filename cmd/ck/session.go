package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/ContextKeeper/internal/rpc"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage work sessions",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a new session (or resume one with --continue)",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")
		channelFlag, _ := cmd.Flags().GetString("channel")
		parent, _ := cmd.Flags().GetString("parent")
		branch, _ := cmd.Flags().GetString("branch")
		continueRef, _ := cmd.Flags().GetString("continue")

		// No name and a terminal means the user gets a form; agents pass
		// --name or get a timestamped default via --no-input.
		noInput, _ := cmd.Flags().GetBool("no-input")
		if name == "" && continueRef == "" && !noInput && ui.IsTerminal() {
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Session name").
						Description("What are you working on?").
						Value(&name),
					huh.NewInput().
						Title("Description").
						Description("Optional context for later").
						Value(&description),
					huh.NewInput().
						Title("Channel").
						Description("Leave empty to derive from the git branch").
						Value(&channelFlag),
				),
			)
			if err := form.Run(); err != nil {
				return err
			}
		}

		workingDir, err := os.Getwd()
		if err != nil {
			workingDir = ""
		}

		var session types.Session
		if err := run(rpc.OpSessionStart, &rpc.SessionStartArgs{
			Name:        name,
			Description: description,
			Channel:     channelFlag,
			WorkingDir:  workingDir,
			Parent:      parent,
			Branch:      branch,
			Continue:    continueRef,
		}, &session); err != nil {
			return err
		}

		if jsonOutput {
			outputJSON(session)
			return nil
		}
		verb := "started"
		if continueRef != "" {
			verb = "resumed"
		}
		fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("✓ session %s: %s", verb, session.Name)))
		fmt.Printf("  id:      %s\n", session.ID)
		fmt.Printf("  channel: %s\n", session.DefaultChannel)
		if session.Branch != "" {
			fmt.Printf("  branch:  %s\n", session.Branch)
		}
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		var sessions []*types.Session
		if err := run(rpc.OpSessionList, &rpc.SessionListArgs{Limit: limit}, &sessions); err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(sessions)
			return nil
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet. Start one with 'ck session start'.")
			return nil
		}
		tbl := ui.NewTable(ui.GetWidth(), "Name", "Channel", "Branch", "Created", "ID")
		for _, s := range sessions {
			tbl.Row(s.Name, s.DefaultChannel, s.Branch, ui.Age(s.CreatedAt), s.ID)
		}
		fmt.Println(tbl.Render())
		return nil
	},
}

var sessionResumeCmd = &cobra.Command{
	Use:   "resume <id-or-name>",
	Short: "Resume an existing session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var session types.Session
		err := run(rpc.OpSessionStart, &rpc.SessionStartArgs{Continue: args[0]}, &session)
		if err != nil {
			return err
		}
		if jsonOutput {
			outputJSON(session)
			return nil
		}
		fmt.Println(ui.SuccessStyle.Render("✓ session resumed: " + session.Name))
		fmt.Printf("  id:      %s\n", session.ID)
		fmt.Printf("  channel: %s\n", session.DefaultChannel)
		return nil
	},
}

func init() {
	sessionStartCmd.Flags().String("name", "", "Session name")
	sessionStartCmd.Flags().String("description", "", "Session description")
	sessionStartCmd.Flags().String("channel", "", "Default channel (derived from git branch when empty)")
	sessionStartCmd.Flags().String("parent", "", "Existing session (id or name) to record as parent")
	sessionStartCmd.Flags().String("branch", "", "Git branch to record (skips repository detection)")
	sessionStartCmd.Flags().String("continue", "", "Resume a session by id or name instead of creating one")
	sessionStartCmd.Flags().Bool("no-input", false, "Never prompt, even on a terminal")
	sessionListCmd.Flags().Int("limit", 0, "Maximum sessions to list")

	sessionCmd.AddCommand(sessionStartCmd, sessionListCmd, sessionResumeCmd)
	rootCmd.AddCommand(sessionCmd)
}
