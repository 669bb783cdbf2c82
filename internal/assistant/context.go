package assistant

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// MaxListing bounds the directory entries included in the system prompt.
const MaxListing = 50

// Context describes the user's environment to the model.
type Context struct {
	OS      string
	Shell   string
	Cwd     string
	Listing []string
	// ListingTruncated is set when the directory had more than MaxListing
	// entries.
	ListingTruncated bool
	History          []string
}

// Gather builds a Context for cwd. A directory that cannot be read yields
// an empty listing.
func Gather(cwd, shell string, history []string) Context {
	c := Context{
		OS:      runtime.GOOS,
		Shell:   filepath.Base(shell),
		Cwd:     cwd,
		History: history,
	}
	c.Listing, c.ListingTruncated = listDir(cwd, MaxListing)
	return c
}

// listDir returns up to max sorted entry names of dir, with directories
// suffixed by "/".
func listDir(dir string, max int) ([]string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > max {
		return names[:max], true
	}
	return names, false
}

// Render produces the system prompt.
func (c Context) Render() string {
	var b strings.Builder
	b.WriteString("You are Shelly, a terminal assistant working in the user's persistent shell.\n")
	b.WriteString("Directory and environment changes made by run_command persist between commands.\n\n")
	fmt.Fprintf(&b, "Operating system: %s\n", c.OS)
	if c.Shell != "" {
		fmt.Fprintf(&b, "Shell: %s\n", c.Shell)
	}
	fmt.Fprintf(&b, "Current working directory: %s\n", c.Cwd)

	b.WriteString("\nDirectory contents:\n")
	if len(c.Listing) == 0 {
		b.WriteString("(empty or unreadable)\n")
	}
	for _, name := range c.Listing {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	if c.ListingTruncated {
		fmt.Fprintf(&b, "(first %d entries shown)\n", MaxListing)
	}

	if len(c.History) > 0 {
		b.WriteString("\nThe user's recent commands, oldest first:\n")
		for _, cmd := range c.History {
			fmt.Fprintf(&b, "- %s\n", cmd)
		}
	}

	b.WriteString(`
Use the tools to inspect the system and carry out the task. Read-only commands
such as ls and pwd run immediately; anything else is shown to the user, who may
decline it. When a command is declined, respect the user's reason and do not
retry the same command. Prefer one clear command over alternatives, and match
the user's habits from their history.`)
	return b.String()
}
