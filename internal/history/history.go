// Package history reads the user's shell history so the assistant can match
// their habits. It only reads; nothing is ever written back.
package history

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xdg/shelly/internal/clog"
)

// DefaultLimit is the number of unique commands returned by default.
const DefaultLimit = 100

// ErrNotFound is returned when no history file can be located.
var ErrNotFound = errors.New("shell history not found")

// Entry is one command from a history file. Time is zero when the format
// carries no timestamp.
type Entry struct {
	Command string
	Time    time.Time
}

// Parser reads entries from a history file, oldest first.
type Parser func(r io.Reader) ([]Entry, error)

// Source is a located history file and the parser for its format.
type Source struct {
	Shell  string
	Path   string
	Parser Parser
}

// Detect locates the history file for shell (a name or path such as
// $SHELL). Unknown shells fall back to the first existing common file.
// When override is set it is used as the path, parsed in the detected
// shell's format.
func Detect(shell, home, override string) (Source, error) {
	name := filepath.Base(shell)
	var src Source
	switch name {
	case "bash":
		src = Source{Shell: name, Path: filepath.Join(home, ".bash_history"), Parser: ParseBash}
	case "zsh":
		src = Source{Shell: name, Path: filepath.Join(home, ".zsh_history"), Parser: ParseZsh}
	case "fish":
		src = Source{Shell: name, Path: filepath.Join(home, ".local", "share", "fish", "fish_history"), Parser: ParseFish}
	default:
		src = Source{Shell: name, Parser: ParseAny}
		for _, f := range []string{".zsh_history", ".bash_history", ".history"} {
			candidate := filepath.Join(home, f)
			if _, err := os.Stat(candidate); err == nil {
				src.Path = candidate
				break
			}
		}
	}
	if override != "" {
		src.Path = override
	}
	if src.Path == "" {
		return src, ErrNotFound
	}
	return src, nil
}

// Recent returns up to limit unique commands from src, most recent last.
// A limit of zero or less uses DefaultLimit.
func Recent(src Source, limit int) ([]string, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, src.Path)
		}
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	entries, err := src.Parser(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", src.Path, err)
	}
	clog.Debug("history: %d entries in %s", len(entries), src.Path)
	return Unique(entries, limit), nil
}

// Load detects the user's history from $SHELL and the home directory and
// returns the recent unique commands.
func Load(override string, limit int) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("home directory: %w", err)
	}
	src, err := Detect(os.Getenv("SHELL"), home, override)
	if err != nil {
		return nil, err
	}
	return Recent(src, limit)
}

// Unique keeps the most recent occurrence of each command and returns at
// most limit of them, most recent last. Blank commands and comments are
// dropped.
func Unique(entries []Entry, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	seen := make(map[string]struct{}, limit)
	var rev []string
	for i := len(entries) - 1; i >= 0 && len(rev) < limit; i-- {
		cmd := strings.TrimSpace(entries[i].Command)
		if cmd == "" || strings.HasPrefix(cmd, "#") {
			continue
		}
		if _, dup := seen[cmd]; dup {
			continue
		}
		seen[cmd] = struct{}{}
		rev = append(rev, cmd)
	}
	out := make([]string, len(rev))
	for i, cmd := range rev {
		out[len(rev)-1-i] = cmd
	}
	return out
}

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	// Pasted scripts make for long history lines.
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return s
}

// ParseBash parses ~/.bash_history. With HISTTIMEFORMAT set, a "#<epoch>"
// line precedes each command.
func ParseBash(r io.Reader) ([]Entry, error) {
	var entries []Entry
	var pending time.Time
	s := newScanner(r)
	for s.Scan() {
		line := s.Text()
		if rest, ok := strings.CutPrefix(line, "#"); ok {
			if epoch, err := strconv.ParseInt(rest, 10, 64); err == nil {
				pending = time.Unix(epoch, 0)
			} else {
				pending = time.Time{}
			}
			continue
		}
		if strings.TrimSpace(line) == "" {
			pending = time.Time{}
			continue
		}
		entries = append(entries, Entry{Command: line, Time: pending})
		pending = time.Time{}
	}
	return entries, s.Err()
}

// ParseZsh parses ~/.zsh_history in the extended format
// ": <epoch>:<elapsed>;<command>", falling back to one command per line.
func ParseZsh(r io.Reader) ([]Entry, error) {
	var entries []Entry
	s := newScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" {
			continue
		}
		if e, ok := parseZshExtended(line); ok {
			entries = append(entries, e)
			continue
		}
		entries = append(entries, Entry{Command: line})
	}
	return entries, s.Err()
}

func parseZshExtended(line string) (Entry, bool) {
	rest, ok := strings.CutPrefix(line, ": ")
	if !ok {
		return Entry{}, false
	}
	meta, cmd, ok := strings.Cut(rest, ";")
	if !ok {
		return Entry{}, false
	}
	epochStr, _, ok := strings.Cut(meta, ":")
	if !ok {
		return Entry{}, false
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return Entry{}, false
	}
	return Entry{Command: cmd, Time: time.Unix(epoch, 0)}, true
}

// ParseFish parses fish's YAML-like history:
//
//	- cmd: <command>
//	  when: <epoch>
func ParseFish(r io.Reader) ([]Entry, error) {
	var entries []Entry
	var cur *Entry
	flush := func() {
		if cur != nil && cur.Command != "" {
			entries = append(entries, *cur)
		}
		cur = nil
	}
	s := newScanner(r)
	for s.Scan() {
		line := s.Text()
		if cmd, ok := strings.CutPrefix(line, "- cmd: "); ok {
			flush()
			cur = &Entry{Command: unescapeFish(cmd)}
			continue
		}
		if when, ok := strings.CutPrefix(line, "  when: "); ok && cur != nil {
			if epoch, err := strconv.ParseInt(strings.TrimSpace(when), 10, 64); err == nil {
				cur.Time = time.Unix(epoch, 0)
			}
		}
	}
	flush()
	return entries, s.Err()
}

// unescapeFish undoes fish's escaping of backslashes and newlines.
func unescapeFish(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ParseAny accepts a mix of the zsh, fish and plain formats, line by line.
// It is used when the shell is unknown.
func ParseAny(r io.Reader) ([]Entry, error) {
	var entries []Entry
	s := newScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if e, ok := parseZshExtended(line); ok {
			entries = append(entries, e)
			continue
		}
		if cmd, ok := strings.CutPrefix(line, "- cmd:"); ok {
			entries = append(entries, Entry{Command: strings.TrimSpace(cmd)})
			continue
		}
		entries = append(entries, Entry{Command: line})
	}
	return entries, s.Err()
}
