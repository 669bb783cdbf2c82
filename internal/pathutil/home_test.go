package pathutil

import (
	"errors"
	"testing"
)

func withHome(t *testing.T, home string, err error) {
	t.Helper()
	old := homeDir
	homeDir = func() (string, error) { return home, err }
	t.Cleanup(func() { homeDir = old })
}

func TestExpandHome(t *testing.T) {
	withHome(t, "/home/ada", nil)

	tests := []struct{ in, want string }{
		{"~", "/home/ada"},
		{"~/", "/home/ada"},
		{"~/.bash_history", "/home/ada/.bash_history"},
		{"~bob/x", "~bob/x"},
		{"/etc/shelly.yaml", "/etc/shelly.yaml"},
		{"rel/~/x", "rel/~/x"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContractHome(t *testing.T) {
	withHome(t, "/home/ada/", nil)

	tests := []struct{ in, want string }{
		{"/home/ada", "~"},
		{"/home/ada/src/shelly", "~/src/shelly"},
		{"/home/adam", "/home/adam"},
		{"/tmp", "/tmp"},
	}
	for _, tt := range tests {
		if got := ContractHome(tt.in); got != tt.want {
			t.Errorf("ContractHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnknownHome(t *testing.T) {
	withHome(t, "", errors.New("no home"))
	if got := ExpandHome("~/x"); got != "~/x" {
		t.Errorf("ExpandHome without home = %q", got)
	}
	if got := ContractHome("/home/ada"); got != "/home/ada" {
		t.Errorf("ContractHome without home = %q", got)
	}

	withHome(t, "/", nil)
	if got := ContractHome("/tmp"); got != "/tmp" {
		t.Errorf("ContractHome with root home = %q", got)
	}
}
