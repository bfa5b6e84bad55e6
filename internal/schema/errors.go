package schema

import "github.com/go-errors/errors"

var (
	// ErrSpawn means the PTY could not be allocated or the child could not start.
	ErrSpawn = errors.New("spawn failed")
	// ErrIO is a read, write or resize failure on a PTY.
	ErrIO = errors.New("pty i/o failed")
	// ErrSessionNotFound is returned for unknown or already removed session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPaneNotFound is returned for pane ids not present in a tab's tree.
	ErrPaneNotFound = errors.New("pane not found")
	// ErrTabNotFound is returned for unknown tab ids.
	ErrTabNotFound = errors.New("tab not found")
	// ErrSerialization covers unreadable, malformed or inconsistent state files.
	ErrSerialization = errors.New("session state serialization failed")
	// ErrConfig is returned when configuration fails to load or validate.
	ErrConfig = errors.New("invalid configuration")
	// ErrInvalidSize is returned for a zero row or column count.
	ErrInvalidSize = errors.New("invalid pty size")
	// ErrDispatcherClosed is returned when events are published after shutdown.
	ErrDispatcherClosed = errors.New("event dispatcher closed")
	// ErrWorkspaceNotEmpty is returned when restoring over live tabs.
	ErrWorkspaceNotEmpty = errors.New("workspace is not empty")
)
