package shell

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/xdg/shelly/internal/request"
	"github.com/xdg/shelly/internal/sentinel"
)

// Dialect captures what differs between shell families: how the process is
// spawned, how a command and its completion probe are written, and how the
// process tree is killed.
type Dialect interface {
	// Name identifies the dialect in logs.
	Name() string
	// Command builds the shell process. An empty path selects the default shell.
	Command(path string) (*exec.Cmd, error)
	// Wrap returns the stdin text that runs one command followed by the
	// completion probe for tok. The probe prints "\n<cwd>\n<tok> <status>\n"
	// on stdout and "\n<tok> <status>\n" on stderr.
	Wrap(text string, kind request.Kind, tok sentinel.Token) string
	// Probe is a no-op command used to check that a new shell responds.
	Probe() string
	// CRLF reports whether the probe's injected newline is "\r\n".
	CRLF() bool
	// Kill terminates the shell and every process it started.
	Kill(cmd *exec.Cmd) error
}

// DefaultDialect returns the dialect for the running platform.
func DefaultDialect() Dialect {
	if runtime.GOOS == "windows" {
		return CmdDialect{}
	}
	return PosixDialect{}
}

// PosixDialect drives bash, zsh, dash and other POSIX shells. Commands are
// passed through eval as a single quoted word, so unbalanced quotes in the
// command cannot swallow the probe.
type PosixDialect struct{}

// unsupportedPosix lists shells whose syntax differs from POSIX sh.
var unsupportedPosix = map[string]bool{
	"fish": true, "csh": true, "tcsh": true, "nu": true,
	"elvish": true, "xonsh": true, "pwsh": true, "powershell": true,
}

// Name implements Dialect.
func (PosixDialect) Name() string { return "posix" }

// Command implements Dialect. bash runs without profile or rc files and zsh
// with -f, so user aliases cannot interfere with the probe.
func (PosixDialect) Command(path string) (*exec.Cmd, error) {
	if path == "" {
		path = "bash"
		if _, err := exec.LookPath(path); err != nil {
			path = "sh"
		}
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("find shell %q: %w", path, err)
	}

	base := filepath.Base(resolved)
	if unsupportedPosix[base] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedShell, base)
	}
	var args []string
	switch base {
	case "bash":
		args = []string{"--noprofile", "--norc"}
	case "zsh":
		args = []string{"-f"}
	}

	cmd := exec.Command(resolved, args...)
	cmd.Env = append(os.Environ(), "PAGER=cat", "GIT_PAGER=cat")
	setProcessGroup(cmd)
	return cmd, nil
}

// Wrap implements Dialect. A single command runs in the shell itself so that
// cd and exports persist; a script runs in a subshell so exit only ends the
// script.
func (PosixDialect) Wrap(text string, kind request.Kind, tok sentinel.Token) string {
	var b strings.Builder
	body := "eval " + quotePosix(text)
	if kind == request.KindScript {
		body = "(" + body + ")"
	}
	b.WriteString(body)
	b.WriteString(" </dev/null\n")
	fmt.Fprintf(&b, `__shelly_rc=$?; printf '\n%%s\n%%s %%d\n' "$PWD" '%s' "$__shelly_rc"; printf '\n%%s %%d\n' '%s' "$__shelly_rc" >&2`, tok, tok)
	b.WriteString("\n")
	return b.String()
}

// Probe implements Dialect.
func (PosixDialect) Probe() string { return ":" }

// CRLF implements Dialect.
func (PosixDialect) CRLF() bool { return false }

// Kill implements Dialect.
func (PosixDialect) Kill(cmd *exec.Cmd) error { return killProcessTree(cmd) }

// quotePosix returns s as one single-quoted shell word.
func quotePosix(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CmdDialect drives Windows cmd.exe. Scripts are fed line by line; cmd.exe
// has no subshell, so exit in a script ends the session.
type CmdDialect struct{}

// Name implements Dialect.
func (CmdDialect) Name() string { return "cmd" }

// Command implements Dialect.
func (CmdDialect) Command(path string) (*exec.Cmd, error) {
	if path == "" {
		path = "cmd.exe"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("find shell %q: %w", path, err)
	}
	cmd := exec.Command(resolved, "/D", "/Q")
	setProcessGroup(cmd)
	return cmd, nil
}

// Wrap implements Dialect.
func (CmdDialect) Wrap(text string, kind request.Kind, tok sentinel.Token) string {
	var b strings.Builder
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		b.WriteString(line)
		if kind == request.KindCommand && i == len(lines)-1 {
			b.WriteString(" < NUL")
		}
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "echo.& echo %%CD%%& echo %s %%ERRORLEVEL%%\r\n", tok)
	fmt.Fprintf(&b, "(echo.& echo %s %%ERRORLEVEL%%) 1>&2\r\n", tok)
	return b.String()
}

// Probe implements Dialect.
func (CmdDialect) Probe() string { return "rem" }

// CRLF implements Dialect.
func (CmdDialect) CRLF() bool { return true }

// Kill implements Dialect.
func (CmdDialect) Kill(cmd *exec.Cmd) error { return killProcessTree(cmd) }
