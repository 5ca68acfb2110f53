package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/untoldecay/ContextKeeper/internal/config"
	"github.com/untoldecay/ContextKeeper/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config.yaml under .ck/",
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		path, err := config.WriteDefault(cwd)
		if err != nil {
			return err
		}
		fmt.Println(ui.SuccessStyle.Render("✓ wrote " + path))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints every setting after merging defaults, the config file, and
CK_ environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.AllSettings()
		if jsonOutput {
			outputJSON(settings)
			return nil
		}
		if file := config.ConfigFileUsed(); file != "" {
			fmt.Println(ui.MutedStyle.Render("# " + file))
		} else {
			fmt.Println(ui.MutedStyle.Render("# defaults (no config file found)"))
		}
		out, err := yaml.Marshal(settings)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(config.GetString(args[0]))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd, configGetCmd)
	rootCmd.AddCommand(configCmd)
}
