package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xdg/shelly/internal/dispatch"
	"github.com/xdg/shelly/internal/history"
	"github.com/xdg/shelly/internal/prompt"
	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/term"
)

var runCmd = &cobra.Command{
	Use:   "run -- COMMAND...",
	Short: "Run one command through the approval gate",
	Long: `Run one command line in a fresh shell session.

Greenlisted read-only commands run immediately. Anything else asks for approval
on the terminal; without a terminal it is declined. shelly exits with the
command's exit status, 124 if it timed out, or 1 if it was declined.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var scriptCmd = &cobra.Command{
	Use:   "script [FILE|-]",
	Short: "Run a multi-line script through the approval gate",
	Long: `Run a script in a subshell of a fresh shell session. The script is read from
FILE, or from standard input when FILE is "-" or omitted. Scripts always need
approval.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScript,
}

var manCmd = &cobra.Command{
	Use:   "man TOPIC",
	Short: "Print a manual page as the assistant sees it",
	Long: `Print the manual page for TOPIC, e.g. "tar" or "printf(3)", with formatting
removed. Manual lookups never need approval.`,
	Args: cobra.ExactArgs(1),
	RunE: runMan,
}

var classifyScript bool

var classifyCmd = &cobra.Command{
	Use:   "classify COMMAND...",
	Short: "Show whether a command would run without approval",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClassify,
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the shell history given to the assistant",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyScript, "script", false, "classify as a multi-line script")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "number of commands (default from config)")

	rootCmd.AddCommand(runCmd, scriptCmd, manCmd, classifyCmd, historyCmd)
}

// oneShot starts an engine for a single dispatch, with output rendered to
// stdout and approval asked on stdin.
func oneShot(cmd *cobra.Command, in io.Reader, fn func(ctx context.Context, d *dispatch.Dispatcher) (*dispatch.Response, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	eng, err := newEngine(ctx, cfg, engineOptions{
		Approver: newApprover(prompt.NewLines(in), in),
		Render:   term.Writer(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	resp, err := fn(ctx, eng.disp)
	eng.flush()
	return exitStatus(resp, err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runRun(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	return oneShot(cmd, cmd.InOrStdin(), func(ctx context.Context, d *dispatch.Dispatcher) (*dispatch.Response, error) {
		return d.RunCommand(ctx, text)
	})
}

func runScript(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	approvalIn := cmd.InOrStdin()
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
		approvalIn = strings.NewReader("")
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}
	script := string(data)
	return oneShot(cmd, approvalIn, func(ctx context.Context, d *dispatch.Dispatcher) (*dispatch.Response, error) {
		return d.ShellScript(ctx, script)
	})
}

func runMan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)
	eng, err := newEngine(ctx, cfg, engineOptions{Approver: prompt.DenyApprover{}})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	resp, err := eng.disp.Man(ctx, args[0])
	if err != nil {
		return friendlyError(err)
	}
	term.Print(resp.Text)
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kind := request.KindCommand
	if classifyScript {
		kind = request.KindScript
	}
	v := classifierFor(cfg).Classify(strings.Join(args, " "), kind)
	term.Printf("%s: %s\n", v.Class, v.Reason)
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit := cfg.History.Limit
	if historyLimit > 0 {
		limit = historyLimit
	}
	cmds, err := history.Load(cfg.History.Path, limit)
	if err != nil {
		return err
	}
	for _, c := range cmds {
		term.Println(c)
	}
	return nil
}

