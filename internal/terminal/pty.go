package terminal

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
	"github.com/go-errors/errors"

	"github.com/abdullathedruid/tabmux/internal/schema"
)

// Command builds the child process described by cfg. The command is resolved
// against PATH and cwd must be an existing directory.
func Command(cfg schema.PtyConfig) (*exec.Cmd, error) {
	if cfg.Command == "" {
		return nil, errors.Errorf("empty command: %w", schema.ErrSpawn)
	}
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, errors.Errorf("resolve %q: %v: %w", cfg.Command, err, schema.ErrSpawn)
	}
	if cfg.Cwd != "" {
		info, err := os.Stat(cfg.Cwd)
		if err != nil {
			return nil, errors.Errorf("cwd %q: %v: %w", cfg.Cwd, err, schema.ErrSpawn)
		}
		if !info.IsDir() {
			return nil, errors.Errorf("cwd %q is not a directory: %w", cfg.Cwd, schema.ErrSpawn)
		}
	}

	cmd := exec.Command(path, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")
	cmd.Env = append(cmd.Env, cfg.Env...)
	return cmd, nil
}

// Open starts cmd attached to a new PTY of the given size and returns the
// master side. The child becomes a session leader with the PTY as its
// controlling terminal.
func Open(cmd *exec.Cmd, size schema.PtySize) (*os.File, error) {
	master, err := pty.StartWithSize(cmd, winsize(size))
	if err != nil {
		return nil, errors.Errorf("start %s: %v: %w", cmd.Path, err, schema.ErrSpawn)
	}
	return master, nil
}

// Resize changes the window size of an open PTY.
func Resize(master *os.File, size schema.PtySize) error {
	if !size.Valid() {
		return errors.Errorf("%dx%d: %w", size.Rows, size.Cols, schema.ErrInvalidSize)
	}
	if err := pty.Setsize(master, winsize(size)); err != nil {
		return errors.Errorf("resize: %v: %w", err, schema.ErrIO)
	}
	return nil
}

func winsize(size schema.PtySize) *pty.Winsize {
	return &pty.Winsize{Rows: size.Rows, Cols: size.Cols}
}
