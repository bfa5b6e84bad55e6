// Package session tracks the live PTY sessions of a workspace.
package session

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-errors/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abdullathedruid/tabmux/internal/metrics"
	"github.com/abdullathedruid/tabmux/internal/process"
	"github.com/abdullathedruid/tabmux/internal/schema"
	"github.com/abdullathedruid/tabmux/internal/terminal"
)

// Options configures a Manager.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// SSHCommand is the ssh client binary used by SpawnSSH.
	SSHCommand string
}

// Manager owns every live session and routes their events through a shared
// dispatcher.
type Manager struct {
	mu       sync.RWMutex
	sessions map[schema.SessionID]*terminal.Session

	// claimed holds ids reserved by Claim and not yet spawned. Guarded by mu.
	claimed map[schema.SessionID]bool

	// lastID is the most recently allocated id. IDs start at 1.
	lastID atomic.Uint32

	dispatcher *terminal.Dispatcher
	sshCommand string
	log        *zap.Logger
	metrics    *metrics.Metrics
}

// NewManager creates a session manager publishing to d.
func NewManager(d *terminal.Dispatcher, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.SSHCommand == "" {
		opts.SSHCommand = "ssh"
	}
	return &Manager{
		sessions:   make(map[schema.SessionID]*terminal.Session),
		claimed:    make(map[schema.SessionID]bool),
		dispatcher: d,
		sshCommand: opts.SSHCommand,
		log:        opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Spawn starts a session whose events go to the dispatcher's default callbacks.
func (m *Manager) Spawn(ctx context.Context, cfg schema.PtyConfig) (schema.SessionID, error) {
	return m.start(ctx, m.allocate(), cfg, nil, metrics.KindLocal)
}

// SpawnNative starts a session whose events go to cb.
func (m *Manager) SpawnNative(ctx context.Context, cfg schema.PtyConfig, cb terminal.Callbacks) (schema.SessionID, error) {
	return m.start(ctx, m.allocate(), cfg, cb, metrics.KindLocal)
}

// SSHTarget names a remote host for SpawnSSH.
type SSHTarget struct {
	Host string
	User string
	Port int
}

// SSHConfig builds the PtyConfig that connects to target with an interactive
// remote shell.
func (m *Manager) SSHConfig(target SSHTarget, rows, cols uint16) (schema.PtyConfig, error) {
	if target.Host == "" {
		return schema.PtyConfig{}, errors.Errorf("ssh: empty host: %w", schema.ErrSpawn)
	}
	args := []string{"-t"}
	if target.Port != 0 {
		args = append(args, "-p", strconv.Itoa(target.Port))
	}
	dest := target.Host
	if target.User != "" {
		dest = target.User + "@" + target.Host
	}
	args = append(args, dest)
	return schema.PtyConfig{Command: m.sshCommand, Args: args, Rows: rows, Cols: cols}, nil
}

// SpawnSSH starts an ssh client session to target.
func (m *Manager) SpawnSSH(ctx context.Context, target SSHTarget, rows, cols uint16, cb terminal.Callbacks) (schema.SessionID, error) {
	cfg, err := m.SSHConfig(target, rows, cols)
	if err != nil {
		return 0, err
	}
	return m.start(ctx, m.allocate(), cfg, cb, metrics.KindSSH)
}

// Claim reserves an id for each of ids so a restore can spawn under them.
// The ids are kept when every one of them is above all ids handed out so far.
// Otherwise the whole set is mapped, in ascending order, onto fresh ids, so
// an id is never given to a second session. The result maps each requested
// id to the id reserved for it.
func (m *Manager) Claim(ids []schema.SessionID) map[schema.SessionID]schema.SessionID {
	want := slices.DeleteFunc(dedupe(ids), func(id schema.SessionID) bool { return id == 0 })
	out := make(map[schema.SessionID]schema.SessionID, len(want))
	if len(want) == 0 {
		return out
	}
	lo, hi := uint32(want[0]), uint32(want[len(want)-1])

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		cur := m.lastID.Load()
		if lo <= cur {
			n := uint32(len(want))
			base := m.lastID.Add(n) - n
			for i, id := range want {
				out[id] = schema.SessionID(base + uint32(i) + 1)
			}
			break
		}
		// Fails when a concurrent Spawn allocated in between; retry.
		if m.lastID.CompareAndSwap(cur, hi) {
			for _, id := range want {
				out[id] = id
			}
			break
		}
	}
	for _, id := range out {
		m.claimed[id] = true
	}
	return out
}

// SpawnWithID starts a session under an id reserved by Claim. Each claimed
// id can be spawned once; a failed spawn burns it.
func (m *Manager) SpawnWithID(ctx context.Context, id schema.SessionID, cfg schema.PtyConfig, cb terminal.Callbacks) error {
	m.mu.Lock()
	ok := m.claimed[id]
	delete(m.claimed, id)
	m.mu.Unlock()
	if !ok {
		return errors.Errorf("session %d was not claimed: %w", id, schema.ErrSpawn)
	}
	_, err := m.start(ctx, id, cfg, cb, metrics.KindRestored)
	return err
}

func (m *Manager) allocate() schema.SessionID {
	return schema.SessionID(m.lastID.Add(1))
}

func (m *Manager) start(ctx context.Context, id schema.SessionID, cfg schema.PtyConfig, cb terminal.Callbacks, kind string) (schema.SessionID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if cb != nil {
		m.dispatcher.Route(id, cb)
	}
	s, err := terminal.Start(id, cfg, m.dispatcher, m.log, terminal.OnTerminated(m.terminated))
	if err != nil {
		m.dispatcher.Unroute(id)
		m.metrics.SpawnFailures.Inc()
		m.log.Warn("spawn failed", zap.Uint32("session", uint32(id)), zap.String("command", cfg.Command), zap.Error(err))
		return 0, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.metrics.SessionsActive.Inc()
	m.metrics.SessionsSpawned.WithLabelValues(kind).Inc()

	// A child that exits immediately may finish before it was registered.
	select {
	case <-s.Done():
		m.forget(s)
	default:
	}
	return id, nil
}

func (m *Manager) terminated(s *terminal.Session) {
	m.metrics.SessionExits.WithLabelValues(s.State().String()).Inc()
	m.forget(s)
}

// forget drops s from the registry if it is still the registered session.
func (m *Manager) forget(s *terminal.Session) {
	m.mu.Lock()
	cur, ok := m.sessions[s.ID()]
	if ok && cur == s {
		delete(m.sessions, s.ID())
	}
	m.mu.Unlock()
	if ok && cur == s {
		m.metrics.SessionsActive.Dec()
	}
}

func (m *Manager) get(id schema.SessionID) (*terminal.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Errorf("session %d: %w", id, schema.ErrSessionNotFound)
	}
	return s, nil
}

// Write sends data to a session's input.
func (m *Manager) Write(id schema.SessionID, data []byte) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.Write(data)
}

// WriteMany sends the same data to several sessions concurrently. Sessions
// that fail do not stop delivery to the others; their errors are collected in
// a *PartialWriteError.
func (m *Manager) WriteMany(ids []schema.SessionID, data []byte) error {
	var (
		mu     sync.Mutex
		g      errgroup.Group
		failed = make(map[schema.SessionID]error)
	)
	for _, id := range dedupe(ids) {
		g.Go(func() error {
			if err := m.Write(id, data); err != nil {
				mu.Lock()
				failed[id] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(failed) == 0 {
		return nil
	}
	return &PartialWriteError{Failed: failed}
}

// Resize changes a session's PTY size.
func (m *Manager) Resize(id schema.SessionID, rows, cols uint16) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.Resize(schema.PtySize{Rows: rows, Cols: cols})
}

// Pid returns the process id of a session's child.
func (m *Manager) Pid(id schema.SessionID) (int, error) {
	s, err := m.get(id)
	if err != nil {
		return 0, err
	}
	return s.Pid(), nil
}

// Kill signals a session's child to terminate. The record stays until the
// exit is observed.
func (m *Manager) Kill(id schema.SessionID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	return s.Kill()
}

// Close kills a session, releases its PTY and removes its record. When the
// child cannot be signalled the record is kept, so the process stays
// reachable and is retried by CloseAll.
func (m *Manager) Close(id schema.SessionID) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		m.log.Warn("session not stopped", zap.Uint32("session", uint32(id)), zap.Error(err))
		return err
	}
	m.forget(s)
	return nil
}

// CloseAll closes every session.
func (m *Manager) CloseAll() {
	for _, id := range m.IDs() {
		if err := m.Close(id); err != nil && !errors.Is(err, schema.ErrSessionNotFound) {
			m.log.Warn("close failed", zap.Uint32("session", uint32(id)), zap.Error(err))
		}
	}
}

// Process returns the foreground process running in a session.
func (m *Manager) Process(id schema.SessionID) (process.Info, error) {
	s, err := m.get(id)
	if err != nil {
		return process.Info{}, err
	}
	info, err := process.Foreground(s.Pid())
	if err != nil {
		return process.Info{}, errors.Errorf("session %d: %v: %w", id, err, schema.ErrIO)
	}
	return info, nil
}

// Size returns a session's current PTY size.
func (m *Manager) Size(id schema.SessionID) (schema.PtySize, error) {
	s, err := m.get(id)
	if err != nil {
		return schema.PtySize{}, err
	}
	return s.Size(), nil
}

// IsAlive reports whether a session's child is still running.
func (m *Manager) IsAlive(id schema.SessionID) (bool, error) {
	s, err := m.get(id)
	if err != nil {
		return false, err
	}
	return s.Alive(), nil
}

// Exited reports whether a session's exit event has been published. Unknown
// ids count as exited.
func (m *Manager) Exited(id schema.SessionID) bool {
	s, err := m.get(id)
	if err != nil {
		return true
	}
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// Cwd returns a session's current working directory.
func (m *Manager) Cwd(id schema.SessionID) (string, error) {
	s, err := m.get(id)
	if err != nil {
		return "", err
	}
	return s.Cwd(), nil
}

// Config returns the config a session was spawned from.
func (m *Manager) Config(id schema.SessionID) (schema.PtyConfig, error) {
	s, err := m.get(id)
	if err != nil {
		return schema.PtyConfig{}, err
	}
	return s.Config(), nil
}

// WaitExit blocks until the session's child terminates or ctx is done.
func (m *Manager) WaitExit(ctx context.Context, id schema.SessionID) (schema.ExitEvent, error) {
	s, err := m.get(id)
	if err != nil {
		return schema.ExitEvent{}, err
	}
	return s.WaitExit(ctx)
}

// IDs returns the ids of all registered sessions in ascending order.
func (m *Manager) IDs() []schema.SessionID {
	m.mu.RLock()
	ids := make([]schema.SessionID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func dedupe(ids []schema.SessionID) []schema.SessionID {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
