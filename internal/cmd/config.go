package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xdg/shelly/internal/config"
	"github.com/xdg/shelly/internal/term"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or change the configuration file",
	Long: `The configuration lives in $XDG_CONFIG_HOME/shelly/config.yaml
(~/.config/shelly/config.yaml by default), or wherever --config points.

A running prompt picks up greenlist and operator changes as soon as the file
is saved.`,
}

func init() {
	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML",
			Args:  cobra.NoArgs,
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate the configuration file",
			Args:  cobra.NoArgs,
			RunE:  runConfigCheck,
		},
		&cobra.Command{
			Use:   "edit",
			Short: "Open the configuration in $EDITOR and validate it afterwards",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return config.Edit(configPath())
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the configuration file path",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				term.Println(configPath())
			},
		},
		&cobra.Command{
			Use:   "init",
			Short: "Write the commented default configuration if none exists",
			Args:  cobra.NoArgs,
			RunE:  runConfigInit,
		},
	)
	rootCmd.AddCommand(configCmd)
}

// runConfigShow prints defaults merged with the file, without creating it.
func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFile(configPath(), false)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	term.Print(string(data))
	return nil
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	path := configPath()
	cfg, err := config.LoadFile(path, false)
	if err != nil {
		return err
	}
	term.Printf("%s: ok (%d greenlisted programs, %d operators)\n",
		path, len(cfg.Safety.Greenlist), len(cfg.Safety.Operators))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if err := config.WriteDefault(path); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	term.Printf("Config file: %s\n", path)
	return nil
}
