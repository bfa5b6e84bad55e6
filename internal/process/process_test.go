package process

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func TestCommandName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/usr/local/bin/node", "node"},
		{"/bin/zsh", "zsh"},
		{"node", "node"},
		{"node /path/to/script.js", "node"},
		{"/usr/bin/python3 -m http.server", "python3"},
		{"", ""},
		{"  ", ""},
	}

	for _, tt := range tests {
		got := commandName(tt.input)
		if got != tt.want {
			t.Errorf("commandName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCommandLine(t *testing.T) {
	pid := os.Getpid()
	cmdLine, err := CommandLine(pid)
	if err != nil {
		t.Fatalf("CommandLine(%d) error: %v", pid, err)
	}
	if cmdLine == "" {
		t.Errorf("CommandLine(%d) returned empty string", pid)
	}
}

func TestCommandLineInvalidPID(t *testing.T) {
	if _, err := CommandLine(-1); err == nil {
		t.Error("expected error for invalid PID")
	}
}

func TestChildren(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	var found bool
	deadline := time.Now().Add(2 * time.Second)
	for !found && time.Now().Before(deadline) {
		children, err := Children(os.Getpid())
		if err != nil {
			t.Fatalf("Children() error: %v", err)
		}
		for _, c := range children {
			if c.PID == cmd.Process.Pid {
				found = true
				if c.Name != "sleep" {
					t.Errorf("child name = %q, want sleep", c.Name)
				}
			}
		}
		if !found {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if !found {
		t.Errorf("sleep (pid %d) not listed as a child", cmd.Process.Pid)
	}
}

func TestForeground(t *testing.T) {
	pid := os.Getpid()
	info, err := Foreground(pid)
	if err != nil {
		t.Fatalf("Foreground(%d) error: %v", pid, err)
	}
	if info.Name == "" {
		t.Errorf("Foreground(%d) returned empty name", pid)
	}
	if info.Command == "" {
		t.Errorf("Foreground(%d) returned empty command", pid)
	}
}

func TestWorkingDir(t *testing.T) {
	dir := t.TempDir()
	cmd := exec.Command("sleep", "5")
	cmd.Dir = dir
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	got, err := WorkingDir(cmd.Process.Pid)
	if err != nil {
		t.Fatalf("WorkingDir() error: %v", err)
	}
	want, _ := filepath.EvalSymlinks(dir)
	if resolved, _ := filepath.EvalSymlinks(got); resolved != want {
		t.Errorf("WorkingDir() = %q, want %q", got, want)
	}
}
