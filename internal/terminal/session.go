// Package terminal runs child processes on pseudo-terminals and turns their
// output into a stream of typed events.
package terminal

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-errors/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/abdullathedruid/tabmux/internal/process"
	"github.com/abdullathedruid/tabmux/internal/schema"
)

const (
	readBufferSize = 32 * 1024

	// drainGrace bounds how long an exited session waits for its reader
	// to hit EOF before closing the master.
	drainGrace = 500 * time.Millisecond

	// killGrace is how long Kill waits after SIGHUP before sending SIGKILL.
	killGrace = 2 * time.Second
)

// State is the lifecycle state of a session.
type State int32

const (
	StateSpawning State = iota
	StateRunning
	StateExited
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Sink accepts session events. Publish may block to apply backpressure.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Option configures a Session.
type Option func(*Session)

// OnTerminated registers fn to run after the exit event has been published.
func OnTerminated(fn func(*Session)) Option {
	return func(s *Session) {
		s.onTerminated = fn
	}
}

// Session is one child process attached to a PTY.
type Session struct {
	id     schema.SessionID
	cfg    schema.PtyConfig
	cmd    *exec.Cmd
	master *os.File
	sink   Sink
	log    *zap.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	size schema.PtySize
	cwd  string
	exit schema.ExitEvent

	// pubMu orders reader output ahead of the exit event.
	pubMu    sync.Mutex
	finished bool

	state        atomic.Int32
	closed       atomic.Bool
	closeOnce    sync.Once
	readerDone   chan struct{}
	exited       chan struct{}
	done         chan struct{}
	onTerminated func(*Session)
}

// Start spawns the process described by cfg on a new PTY and begins streaming
// its output to sink.
func Start(id schema.SessionID, cfg schema.PtyConfig, sink Sink, log *zap.Logger, opts ...Option) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.Clone()
	cmd, err := Command(cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:         id,
		cfg:        cfg,
		cmd:        cmd,
		sink:       sink,
		size:       cfg.Size(),
		log:        log.With(zap.Uint32("session", uint32(id))),
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateSpawning))

	master, err := Open(cmd, s.size)
	if err != nil {
		return nil, err
	}
	s.master = master
	s.state.Store(int32(StateRunning))
	s.log.Debug("session started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("command", cfg.Command),
		zap.Strings("args", cfg.Args))

	go s.readLoop()
	go s.waitLoop()

	if cfg.InitialCommand != "" {
		if err := s.Write([]byte(cfg.InitialCommand + "\r")); err != nil {
			s.log.Warn("failed to send initial command", zap.Error(err))
		}
	}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() schema.SessionID { return s.id }

// Pid returns the child's process id.
func (s *Session) Pid() int { return s.cmd.Process.Pid }

// Config returns a copy of the config the session was spawned from.
func (s *Session) Config() schema.PtyConfig { return s.cfg.Clone() }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Alive reports whether the child has not yet terminated.
func (s *Session) Alive() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Size returns the last size applied to the PTY.
func (s *Session) Size() schema.PtySize {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Cwd returns the working directory last reported by the shell via OSC 7,
// falling back to the live process and then the configured directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	cwd := s.cwd
	s.mu.Unlock()
	if cwd != "" {
		return cwd
	}
	if s.Alive() {
		if dir, err := process.WorkingDir(s.Pid()); err == nil {
			return dir
		}
	}
	return s.cfg.Cwd
}

// Write sends input to the child.
func (s *Session) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return errors.Errorf("session %d: write on closed pty: %w", s.id, schema.ErrIO)
	}
	if _, err := s.master.Write(p); err != nil {
		return errors.Errorf("session %d: write: %v: %w", s.id, err, schema.ErrIO)
	}
	return nil
}

// Resize changes the PTY window size without restarting the child.
func (s *Session) Resize(size schema.PtySize) error {
	if !size.Valid() {
		return errors.Errorf("session %d: %dx%d: %w", s.id, size.Rows, size.Cols, schema.ErrInvalidSize)
	}
	if s.closed.Load() {
		return errors.Errorf("session %d: resize on closed pty: %w", s.id, schema.ErrIO)
	}
	if err := Resize(s.master, size); err != nil {
		return errors.Errorf("session %d: %w", s.id, err)
	}
	s.mu.Lock()
	s.size = size
	s.mu.Unlock()
	return nil
}

// Kill hangs up the child's process group, escalating to SIGKILL if it is
// still running after a grace period. Killing an exited session is a no-op.
func (s *Session) Kill() error {
	if !s.Alive() {
		return nil
	}
	s.state.CompareAndSwap(int32(StateRunning), int32(StateKilled))
	if err := s.signal(unix.SIGHUP); err != nil {
		return err
	}
	time.AfterFunc(killGrace, func() {
		if s.Alive() {
			s.log.Debug("child ignored hangup, sending SIGKILL")
			_ = s.signal(unix.SIGKILL)
		}
	})
	return nil
}

// Close kills the child and releases the PTY master.
func (s *Session) Close() error {
	err := s.Kill()
	s.closeMaster()
	return err
}

// WaitExit blocks until the child has terminated or ctx is done.
func (s *Session) WaitExit(ctx context.Context) (schema.ExitEvent, error) {
	select {
	case <-s.exited:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exit, nil
	case <-ctx.Done():
		return schema.ExitEvent{}, ctx.Err()
	}
}

// Done is closed once the exit event has been published.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) signal(sig syscall.Signal) error {
	// The child leads its own process group, so -pid reaches its jobs too.
	err := unix.Kill(-s.Pid(), sig)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return errors.Errorf("session %d: %s: %v: %w", s.id, unix.SignalName(sig), err, schema.ErrIO)
	}
	return nil
}

func (s *Session) closeMaster() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if err := s.master.Close(); err != nil {
			s.log.Debug("closing pty master", zap.Error(err))
		}
	})
}

func (s *Session) readLoop() {
	defer close(s.readerDone)

	var parser Parser
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.master.Read(buf)
		if n > 0 {
			if !s.publishChunk(&parser, bytes.Clone(buf[:n])) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				s.log.Warn("pty read failed", zap.Error(err))
			}
			return
		}
	}
}

func (s *Session) publishChunk(parser *Parser, chunk []byte) bool {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.finished {
		return false
	}
	for _, ev := range parser.Feed(s.id, chunk) {
		if ev.Kind == EventCwd {
			s.mu.Lock()
			s.cwd = ev.Cwd
			s.mu.Unlock()
		}
		if err := s.sink.Publish(context.Background(), ev); err != nil {
			s.log.Debug("dropping output", zap.Error(err))
			return false
		}
	}
	return true
}

func (s *Session) waitLoop() {
	if err := s.cmd.Wait(); err != nil && s.cmd.ProcessState == nil {
		s.log.Warn("wait failed", zap.Error(err))
	}
	exit := exitEvent(s.id, s.cmd.ProcessState)

	s.mu.Lock()
	s.exit = exit
	s.mu.Unlock()
	s.state.CompareAndSwap(int32(StateRunning), int32(StateExited))
	close(s.exited)

	// Deliver everything the child wrote before reporting its exit. A
	// grandchild holding the slave open would keep the reader blocked.
	select {
	case <-s.readerDone:
	case <-time.After(drainGrace):
		s.log.Debug("pty still open after child exit")
	}
	s.closeMaster()

	s.pubMu.Lock()
	s.finished = true
	if err := s.sink.Publish(context.Background(), Event{Kind: EventExit, SessionID: s.id, Exit: exit}); err != nil {
		s.log.Debug("exit event not delivered", zap.Error(err))
	}
	s.pubMu.Unlock()

	s.log.Debug("session exited",
		zap.Int("exit_code", exit.ExitCode),
		zap.String("signal", exit.Signal),
		zap.Stringer("state", s.State()))
	close(s.done)
	if s.onTerminated != nil {
		s.onTerminated(s)
	}
}

func exitEvent(id schema.SessionID, state *os.ProcessState) schema.ExitEvent {
	ev := schema.ExitEvent{SessionID: id}
	if state == nil {
		ev.ExitCode = -1
		return ev
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		ev.ExitCode = 128 + int(ws.Signal())
		ev.Signal = unix.SignalName(ws.Signal())
		return ev
	}
	ev.ExitCode = state.ExitCode()
	return ev
}
