// Package schema holds the data model shared by the session, layout and
// persistence layers.
package schema

import "slices"

// SessionID identifies a PTY session. IDs are allocated monotonically and
// never reused while the process runs.
type SessionID uint32

// PaneID identifies a pane within a single tab.
type PaneID uint32

// TabID identifies a tab.
type TabID uint32

// Default PTY dimensions used when a config leaves them unset.
const (
	DefaultRows uint16 = 24
	DefaultCols uint16 = 80
)

// PtySize is a terminal size in character cells.
type PtySize struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Valid reports whether both dimensions are non-zero.
func (s PtySize) Valid() bool {
	return s.Rows > 0 && s.Cols > 0
}

// PtyConfig describes how to spawn a PTY session.
type PtyConfig struct {
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	Cwd            string   `json:"cwd,omitempty"`
	InitialCommand string   `json:"initial_command,omitempty"`
	Env            []string `json:"env,omitempty"`
	Rows           uint16   `json:"rows"`
	Cols           uint16   `json:"cols"`
}

// Size returns the configured size with defaults applied.
func (c PtyConfig) Size() PtySize {
	size := PtySize{Rows: c.Rows, Cols: c.Cols}
	if size.Rows == 0 {
		size.Rows = DefaultRows
	}
	if size.Cols == 0 {
		size.Cols = DefaultCols
	}
	return size
}

// Clone returns a deep copy so a spawned session's record cannot be mutated
// through the caller's slices.
func (c PtyConfig) Clone() PtyConfig {
	c.Args = slices.Clone(c.Args)
	c.Env = slices.Clone(c.Env)
	return c
}

// ExitEvent reports how a session's child process terminated.
type ExitEvent struct {
	SessionID SessionID `json:"session_id"`
	ExitCode  int       `json:"exit_code"`
	// Signal names the terminating signal, empty for a normal exit.
	Signal string `json:"signal,omitempty"`
}

// Hyperlink is an OSC 8 hyperlink. An empty URI ends the current link.
type Hyperlink struct {
	ID  string `json:"id,omitempty"`
	URI string `json:"uri"`
}

// ShellEventKind is the OSC 133 mark type.
type ShellEventKind int

const (
	PromptStart     ShellEventKind = iota // OSC 133;A
	CommandStart                          // OSC 133;B
	CommandExecuted                       // OSC 133;C
	CommandFinished                       // OSC 133;D
)

func (k ShellEventKind) String() string {
	switch k {
	case PromptStart:
		return "prompt_start"
	case CommandStart:
		return "command_start"
	case CommandExecuted:
		return "command_executed"
	case CommandFinished:
		return "command_finished"
	default:
		return "unknown"
	}
}

// ShellIntegrationEvent is a semantic prompt mark emitted by an integrated shell.
type ShellIntegrationEvent struct {
	Kind ShellEventKind `json:"kind"`
	// ExitCode is set on CommandFinished when the shell reported one.
	ExitCode *int `json:"exit_code,omitempty"`
}

// TabInfo is a read-only summary of a tab.
type TabInfo struct {
	TabID        TabID  `json:"tab_id"`
	Title        string `json:"title"`
	ActivePaneID PaneID `json:"active_pane_id"`
	PaneCount    int    `json:"pane_count"`
	Active       bool   `json:"active"`
}
