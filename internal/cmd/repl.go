package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xdg/shelly/internal/assistant"
	"github.com/xdg/shelly/internal/clog"
	"github.com/xdg/shelly/internal/config"
	"github.com/xdg/shelly/internal/dispatch"
	"github.com/xdg/shelly/internal/history"
	"github.com/xdg/shelly/internal/pathutil"
	"github.com/xdg/shelly/internal/prompt"
	"github.com/xdg/shelly/internal/shell"
	"github.com/xdg/shelly/internal/term"
)

// newModel returns the assistant's model client. No client ships with
// shelly; the prompt's "?" command reports that until one is provided.
var newModel = func(*config.Config) (assistant.Model, error) {
	return nil, assistant.ErrNoModel
}

const replHelp = `Type a command to run it in the shell. Other input:
  :script       enter a multi-line script, ended by a line with a single "."
  :man TOPIC    show a manual page, e.g. ":man tar" or ":man printf(3)"
  :cwd          print the shell's working directory
  :restart      replace the shell with a fresh one in the same directory
  ? TASK        ask the assistant to carry out TASK
  :help         show this help
  exit          leave (also quit, q)`

type repl struct {
	eng         *engine
	in          *prompt.Lines
	interactive bool
	confirm     prompt.YesNoPrompter
	loop        *assistant.Loop
}

func runREPL(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	raw := cmd.InOrStdin()
	in := prompt.NewLines(raw)
	defer in.Close()
	eng, err := newEngine(ctx, cfg, engineOptions{Approver: newApprover(in, raw), Render: term.Writer()})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	wctx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go eng.watchConfig(wctx, configPath())

	r := &repl{
		eng:         eng,
		in:          in,
		interactive: isInteractive(raw),
		confirm:     prompt.NewStdinYesNoPrompter(in, term.Stderr()),
	}
	r.loop = r.newLoop(cfg)
	if task := strings.TrimSpace(strings.Join(args, " ")); task != "" {
		r.handle(ctx, "? "+task)
	}
	return r.run(ctx)
}

func (r *repl) newLoop(cfg *config.Config) *assistant.Loop {
	model, err := newModel(cfg)
	if err != nil {
		clog.Debug("assistant unavailable: %v", err)
		return nil
	}
	recent, err := history.Load(cfg.History.Path, cfg.History.Limit)
	if err != nil {
		clog.Debug("no shell history: %v", err)
	}
	shellName := cfg.Shell.Path
	if shellName == "" {
		shellName = os.Getenv("SHELL")
	}
	return assistant.New(model, r.eng.disp, assistant.Options{
		Window:   cfg.Assistant.ContextExchanges,
		MaxSteps: cfg.Assistant.MaxSteps,
		Context: func() assistant.Context {
			return assistant.Gather(r.eng.session.Cwd(), shellName, recent)
		},
		OnReply: func(rep assistant.Reply) {
			if rep.Text != "" {
				term.Println(rep.Text)
			}
		},
	})
}

func (r *repl) run(ctx context.Context) error {
	for {
		term.Printf("%s$ ", pathutil.ContractHome(r.eng.session.Cwd()))
		line, err := r.in.ReadLine(ctx)
		if errors.Is(err, io.EOF) {
			term.Println()
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch line {
		case "exit", "quit", "q":
			return nil
		}
		r.handle(ctx, line)
	}
}

// handle runs one line of input.
func (r *repl) handle(ctx context.Context, line string) {
	cctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch {
	case line == "":
	case line == ":help":
		term.Println(replHelp)
	case line == ":cwd":
		term.Println(r.eng.session.Cwd())
	case line == ":restart":
		r.restart(ctx)
	case line == ":script":
		script, ok := r.readScript(cctx)
		if ok {
			r.report(r.eng.disp.ShellScript(cctx, script))
		}
	case word == ":man":
		resp, err := r.eng.disp.Man(cctx, rest)
		if err == nil {
			term.Print(resp.Text)
		}
		r.report(resp, err)
	case strings.HasPrefix(line, "?"):
		r.ask(cctx, strings.TrimSpace(strings.TrimPrefix(line, "?")))
	case strings.HasPrefix(line, ":"):
		term.Warn("unknown command %q; try :help", word)
	default:
		r.report(r.eng.disp.RunCommand(cctx, line))
	}
}

// readScript reads lines until one holding a single ".".
func (r *repl) readScript(ctx context.Context) (string, bool) {
	term.Println(`Enter the script; end with a line containing only "."`)
	var lines []string
	for {
		term.Print("> ")
		line, err := r.in.ReadLine(ctx)
		if err != nil {
			term.Println()
			if ctx.Err() != nil {
				term.Warn("script canceled")
			} else {
				term.Warn("input ended before \".\"; script discarded")
			}
			return "", false
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "." {
			break
		}
		lines = append(lines, line)
	}
	script := strings.Join(lines, "\n")
	if strings.TrimSpace(script) == "" {
		term.Warn("empty script")
		return "", false
	}
	return script, true
}

func (r *repl) ask(ctx context.Context, task string) {
	if task == "" {
		term.Warn("usage: ? TASK")
		return
	}
	if r.loop == nil {
		term.Warn("%v", assistant.ErrNoModel)
		return
	}
	_, err := r.loop.Ask(ctx, task)
	r.eng.flush()
	if err != nil {
		r.report(nil, err)
	}
}

// report prints what the output stream did not already show, and offers a
// restart after engine errors.
func (r *repl) report(resp *dispatch.Response, err error) {
	r.eng.flush()
	if resp != nil && resp.Rejected() {
		term.Printf("Rejected: %s\n", resp.Rejection)
	}
	if resp != nil && resp.Result != nil && resp.Result.Truncated {
		term.Warn("output truncated")
	}
	if err == nil {
		return
	}
	term.Error("%v", friendlyError(err))
	if !shell.NeedsRestart(err) {
		return
	}
	if r.interactive {
		ok, perr := r.confirm.PromptYesNo(context.Background(), "Restart the shell session? [Y/n]: ", true)
		if perr != nil || !ok {
			term.Println("Session left stopped; use :restart when ready.")
			return
		}
	} else {
		term.Warn("restarting shell session")
	}
	r.restart(context.Background())
}

func (r *repl) restart(ctx context.Context) {
	if err := r.eng.disp.Restart(ctx); err != nil {
		term.Error("restart failed: %v", friendlyError(err))
		return
	}
	term.Printf("Shell restarted in %s\n", r.eng.session.Cwd())
}
