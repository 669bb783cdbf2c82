// Package pathutil converts between the "~" form of paths that users type
// and show, and absolute paths.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// homeDir is os.UserHomeDir, replaced in tests.
var homeDir = os.UserHomeDir

// ExpandHome turns "~" and "~/rest" into absolute paths. Other paths,
// including "~user/...", are returned as is, as is everything when the home
// directory is unknown.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~")
	if !ok || (rest != "" && rest[0] != '/') {
		return path
	}
	home, err := homeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, rest)
}

// ContractHome shortens a path under the home directory to the "~" form
// used in shelly's prompt. A home of "/" is left alone, since every path
// would match it.
func ContractHome(path string) string {
	home, err := homeDir()
	if err != nil || home == "" || home == "/" {
		return path
	}
	home = filepath.Clean(home)
	switch {
	case path == home:
		return "~"
	case strings.HasPrefix(path, home+"/"):
		return "~" + path[len(home):]
	}
	return path
}
