package clog

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// newCaptured returns a debug-level logger writing its file output to file
// and its stderr echo to errOut.
func newCaptured() (l *Logger, file, errOut *bytes.Buffer) {
	file, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	l = NewLogger()
	l.SetFileOutput(file)
	l.SetErrOutput(errOut)
	l.SetLevel(LevelDebug)
	return l, file, errOut
}

func TestLogger_FileLineFormat(t *testing.T) {
	l, file, _ := newCaptured()
	l.Info("shell pid %d in %s", 4242, "/tmp")

	line := regexp.MustCompile(`^\d{4}-\d\d-\d\dT\d\d:\d\d:\d\dZ \[INFO\] shell pid 4242 in /tmp\n$`)
	if !line.MatchString(file.String()) {
		t.Errorf("file line = %q", file.String())
	}
}

func TestLogger_StderrEchoesWarningsOnly(t *testing.T) {
	l, file, errOut := newCaptured()
	l.Debug("marker seen")
	l.Info("reloaded")
	l.Warn("audit: disk full")
	l.Error("restart failed")

	if got := strings.Count(file.String(), "\n"); got != 4 {
		t.Errorf("file has %d lines, want 4:\n%s", got, file.String())
	}
	if errOut.String() != "[WARN] audit: disk full\n[ERROR] restart failed\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestLogger_LevelFilters(t *testing.T) {
	l, file, _ := newCaptured()
	l.SetLevel(LevelWarn)
	l.Info("hidden")
	l.Warn("shown")

	if strings.Contains(file.String(), "hidden") || !strings.Contains(file.String(), "shown") {
		t.Errorf("file = %q", file.String())
	}
	if l.Level() != LevelWarn {
		t.Errorf("Level() = %v", l.Level())
	}
}

func TestLogger_Quiet(t *testing.T) {
	l, file, errOut := newCaptured()
	l.SetQuiet(true)
	l.Error("crashed")

	if errOut.Len() != 0 {
		t.Errorf("quiet logger wrote to stderr: %q", errOut.String())
	}
	if !strings.Contains(file.String(), "crashed") {
		t.Error("quiet logger dropped the file line")
	}
}

func TestLogger_Named(t *testing.T) {
	l, file, _ := newCaptured()
	session := l.Named("session")
	session.Info("started")
	session.Named("pump").Debug("eof")

	l.SetLevel(LevelWarn)
	session.Info("after level change")

	out := file.String()
	for _, want := range []string{"[INFO] session: started", "[DEBUG] session.pump: eof"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "after level change") {
		t.Error("named logger ignored its parent's level")
	}
}

func TestOpenLogFile_CreatesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "shelly.log")
	for _, line := range []string{"one\n", "two\n"} {
		f, err := OpenLogFile(path)
		if err != nil {
			t.Fatalf("OpenLogFile() error = %v", err)
		}
		_, _ = f.WriteString(line)
		_ = f.Close()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("file = %q, want both lines", data)
	}
}

func TestOpenLogFile_RotatesLargeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	big := bytes.Repeat([]byte("x"), MaxLogSize+1)
	if err := os.WriteFile(path, big, 0o640); err != nil {
		t.Fatal(err)
	}

	f, err := OpenLogFile(path)
	if err != nil {
		t.Fatalf("OpenLogFile() error = %v", err)
	}
	_ = f.Close()

	if fi, err := os.Stat(path); err != nil || fi.Size() != 0 {
		t.Errorf("current log not fresh: %v, %v", fi, err)
	}
	if fi, err := os.Stat(path + ".1"); err != nil || fi.Size() != int64(len(big)) {
		t.Errorf("backup missing or wrong size: %v, %v", fi, err)
	}
}

func TestStatePaths(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/var/state")
	if got, want := DefaultLogPath(), "/var/state/shelly/shelly.log"; got != want {
		t.Errorf("DefaultLogPath() = %q, want %q", got, want)
	}
	if got, want := DefaultAuditPath(), "/var/state/shelly/audit.log"; got != want {
		t.Errorf("DefaultAuditPath() = %q, want %q", got, want)
	}

	t.Setenv("XDG_STATE_HOME", "")
	t.Setenv("HOME", "/home/tester")
	if got, want := StateDir(), "/home/tester/.local/state/shelly"; got != want {
		t.Errorf("StateDir() = %q, want %q", got, want)
	}
}
