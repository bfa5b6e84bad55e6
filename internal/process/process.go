// Package process inspects the processes running inside terminal sessions.
package process

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-errors/errors"
)

// Info describes a running process.
type Info struct {
	PID     int    `json:"pid"`
	Name    string `json:"name"`    // Basename of the executable
	Command string `json:"command"` // Full command line with arguments
}

// CommandLine returns the full command line for a process.
// Reads /proc when available and falls back to POSIX ps.
func CommandLine(pid int) (string, error) {
	if pid <= 0 {
		return "", errors.Errorf("invalid pid %d", pid)
	}
	if data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline")); err == nil && len(data) > 0 {
		args := strings.Split(strings.TrimRight(string(data), "\x00"), "\x00")
		return strings.Join(args, " "), nil
	}

	out, err := run("ps", "-p", strconv.Itoa(pid), "-o", "args=")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Children returns the direct child processes of pid.
func Children(pid int) ([]Info, error) {
	out, err := run("ps", "-eo", "pid=,ppid=,args=")
	if err != nil {
		return nil, err
	}

	parentPID := strconv.Itoa(pid)
	var children []Info
	for _, line := range strings.Split(out, "\n") {
		// "  PID  PPID COMMAND..."
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[1] != parentPID {
			continue
		}
		childPID, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		cmdLine := strings.Join(fields[2:], " ")
		children = append(children, Info{
			PID:     childPID,
			Name:    commandName(cmdLine),
			Command: cmdLine,
		})
	}
	return children, nil
}

// Foreground returns the process a user is interacting with inside a shell:
// the shell's first child when it is running one, otherwise the shell itself.
func Foreground(shellPID int) (Info, error) {
	children, err := Children(shellPID)
	if err != nil {
		return Info{}, err
	}
	if len(children) > 0 {
		return children[0], nil
	}

	cmdLine, err := CommandLine(shellPID)
	if err != nil {
		return Info{}, err
	}
	return Info{PID: shellPID, Name: commandName(cmdLine), Command: cmdLine}, nil
}

// WorkingDir returns the current working directory of a process.
func WorkingDir(pid int) (string, error) {
	if pid <= 0 {
		return "", errors.Errorf("invalid pid %d", pid)
	}
	if dir, err := os.Readlink(filepath.Join("/proc", strconv.Itoa(pid), "cwd")); err == nil {
		return dir, nil
	}

	// No procfs (macOS): lsof prints the cwd as an "n" field.
	out, err := run("lsof", "-a", "-p", strconv.Itoa(pid), "-d", "cwd", "-Fn")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if dir, ok := strings.CutPrefix(line, "n"); ok && dir != "" {
			return dir, nil
		}
	}
	return "", errors.Errorf("no working directory reported for pid %d", pid)
}

// commandName extracts the command name from a full command line.
// Handles paths like "/usr/local/bin/node" -> "node"
func commandName(cmdLine string) string {
	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return ""
	}
	return filepath.Base(parts[0])
}

func run(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
