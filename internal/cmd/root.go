// Package cmd implements the CLI commands for shelly.
package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/term"
	"github.com/xdg/shelly/internal/version"
)

var (
	flagDebug  bool
	flagSilent bool
	flagConfig string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "shelly [task]",
	Short: "Persistent shell for a terminal assistant",
	Long: `Shelly keeps one persistent shell process alive and runs commands in it,
so directory changes, exported variables and functions carry over from one
command to the next.

Read-only commands from the greenlist run immediately. Everything else is shown
to you first and runs only after you approve it. A declined command never
reaches the shell.

Without a subcommand, shelly starts an interactive prompt. Type a command to run
it, or :help for the other prompt commands. Words after "shelly" are handed to
the assistant as a first task, as if typed after "?" at the prompt.`,
	Version:       version.Version,
	Args:          cobra.ArbitraryArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		term.SetSilent(flagSilent)
	},
	RunE: runREPL,
}

func init() {
	rootCmd.SetVersionTemplate(version.String() + "\n")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().BoolVar(&flagSilent, "silent", false, "suppress normal output (warnings and errors still print)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $XDG_CONFIG_HOME/shelly/config.yaml)")
}

// Execute runs the root command and returns any error. Errors are printed
// here, except exit codes passed through from a command.
func Execute() error {
	defer func() { _ = clog.Close() }()

	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var exitErr *ExitCodeError
	if !errors.As(err, &exitErr) || exitErr.Err != nil {
		term.Error("%v", err)
	}
	return err
}
