// Command shelly runs commands for a terminal assistant in one persistent
// shell, asking before anything that is not read-only.
package main

import (
	"os"

	"github.com/xdg/shelly/internal/cmd"
)

func main() {
	os.Exit(cmd.ExitCode(cmd.Execute()))
}
