package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"anchorlink/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the client configuration file.",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default anchorlink.yaml if none exists.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := config.LoadOrInit(flagConfigDir); err != nil {
			return err
		}
		fmt.Printf("%s %s\n", labelStyle.Render("config:"), filepath.Join(flagConfigDir, "anchorlink.yaml"))
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after env and flag overrides.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
