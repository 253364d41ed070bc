// Package daemon implements the PTY daemon half of KILD: SessionState,
// DaemonSession, SessionManager, the PTY reader/reaper tasks, and the
// unix-socket listener/dispatcher. Grounded on loppo-llc/kojo's
// internal/session/manager.go for the single-actor shape and on
// original_source/crates/kild-daemon/src/session/manager.rs for the
// exact method contracts of spec §4.5.
package daemon

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kildhq/kild/internal/kilderr"
	"github.com/kildhq/kild/internal/pty"
)

// exitNotice is what the reader task sends on the reaper channel when a
// PTY's master reports EOF, per spec §4.6 step 4.
type exitNotice struct {
	sessionID string
	exitCode  *int
}

// Manager is the single-threaded actor of spec §4.5 and §5: it owns the
// session map, the PtyManager, and the monotonic ClientId allocator.
// All mutating methods take Manager.mu, matching kojo's Manager.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	pty      *PtyManager
	logger   *slog.Logger

	nextClientID uint64
	exitCh       chan exitNotice
	shuttingDown bool

	// OnSessionEvent is called with kind "stopped" when a running
	// session's PTY exits; the listener uses it for its OnStopped hook,
	// while the session_event frames to subscribers are written by the
	// listener's subscription pumps. nil is allowed (e.g. in tests that
	// don't run a listener).
	OnSessionEvent func(sessionID string, kind string, exitCode *int)

	// OnClientLagged is called whenever a subscriber's broadcast channel
	// was full and a chunk of output was dropped for it, so the listener can emit a
	// stream_lagged frame on that client's own connection (spec §4.7:
	// "When the receiver reports lag, emit a stream_lagged frame"); nil
	// is allowed (e.g. in tests that don't run a listener).
	OnClientLagged func(sessionID string, clientID uint64)
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		pty:      newPtyManager(),
		logger:   logger,
		exitCh:   make(chan exitNotice, 64), // unbounded in spirit; generously sized
	}
	go m.reaperLoop()
	return m
}

// NextClientID allocates the next ClientId; the counter wraps (spec §5:
// "no reuse necessary -- the counter wraps").
func (m *Manager) NextClientID() uint64 {
	return atomic.AddUint64(&m.nextClientID, 1)
}

// CreateSession implements spec §4.5's create_session.
func (m *Manager) CreateSession(id, cwd, command string, args []string, env []string, rows, cols uint16, useLoginShell bool, scrollbackCap int) (*Session, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, kilderr.SessionAlreadyExists(id)
	}
	sess := newSession(id, cwd, command, args, useLoginShell, scrollbackCap)
	m.sessions[id] = sess
	m.mu.Unlock()

	p, err := pty.Create(command, args, cwd, rows, cols, env, useLoginShell)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, kilderr.Wrap(kilderr.CodeIoError, "pty create failed", err)
	}

	if err := m.pty.Create(id, p); err != nil {
		_ = p.Destroy()
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		return nil, err
	}

	sess.setPty(p)
	if err := sess.setRunning(); err != nil {
		return nil, err
	}

	m.logger.Info("session created", "event", "daemon.session.created", "session_id", id, "pid", p.ChildProcessID())

	go m.readLoop(sess)

	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// AttachClient implements spec §4.5's attach_client.
func (m *Manager) AttachClient(sessionID string, clientID uint64) (chan []byte, []byte, error) {
	sess, ok := m.Get(sessionID)
	if !ok {
		return nil, nil, kilderr.SessionNotFound(sessionID)
	}
	if sess.State() != Running {
		return nil, nil, kilderr.SessionNotRunning(sessionID)
	}
	ch, snapshot := sess.Subscribe(clientID)
	return ch, snapshot, nil
}

// DetachClient is idempotent: no error if the client was never attached.
func (m *Manager) DetachClient(sessionID string, clientID uint64) {
	sess, ok := m.Get(sessionID)
	if !ok {
		return
	}
	sess.Unsubscribe(clientID)
}

// DetachClientFromAll is called on connection drop, per spec §5.
func (m *Manager) DetachClientFromAll(clientID uint64) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	for _, s := range sessions {
		s.Unsubscribe(clientID)
	}
}

// ResizePty forwards to the ManagedPty.
func (m *Manager) ResizePty(sessionID string, rows, cols uint16) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return kilderr.SessionNotFound(sessionID)
	}
	return sess.Resize(rows, cols)
}

// WriteStdin forwards to the ManagedPty.
func (m *Manager) WriteStdin(sessionID string, data []byte) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return kilderr.SessionNotFound(sessionID)
	}
	_, err := sess.WriteStdin(data)
	return err
}

// ReadScrollback returns the current scrollback snapshot.
func (m *Manager) ReadScrollback(sessionID string) ([]byte, error) {
	sess, ok := m.Get(sessionID)
	if !ok {
		return nil, kilderr.SessionNotFound(sessionID)
	}
	return sess.ScrollbackSnapshot(), nil
}

// StopSession implements spec §4.5's stop_session: idempotent on
// Stopped, NotFound if absent; a PTY already reaped is treated as
// success.
func (m *Manager) StopSession(sessionID string) error {
	sess, ok := m.Get(sessionID)
	if !ok {
		return kilderr.SessionNotFound(sessionID)
	}
	if sess.State() == Stopped {
		return nil
	}
	if err := m.pty.Destroy(sessionID); err != nil {
		m.logger.Warn("stop_session pty destroy failed", "event", "daemon.session.stop_failed", "session_id", sessionID, "err", err)
	}
	sess.markStopped(nil)
	m.logger.Info("session stopped", "event", "daemon.session.stopped", "session_id", sessionID)
	return nil
}

// DestroySession implements spec §4.5's destroy_session: unconditional
// record removal; when !force a PTY kill failure is surfaced even
// though the record has already been removed.
func (m *Manager) DestroySession(sessionID string, force bool) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return kilderr.SessionNotFound(sessionID)
	}

	killErr := m.pty.Destroy(sessionID)
	sess.markStopped(nil)
	m.logger.Info("session destroyed", "event", "daemon.session.destroyed", "session_id", sessionID, "force", force)

	if killErr != nil && !force {
		return killErr
	}
	if killErr != nil {
		m.logger.Warn("destroy_session pty kill error swallowed under force", "event", "daemon.session.destroy_force_swallow", "session_id", sessionID, "err", killErr)
	}
	return nil
}

// HandlePtyExit implements spec §4.5's handle_pty_exit, invoked by the
// reaper when a reader observes EOF. Re-entrant: a second invocation for
// an already-Stopped session is a no-op and must not double-publish.
func (m *Manager) HandlePtyExit(sessionID string, exitCode *int) {
	sess, ok := m.Get(sessionID)
	if !ok {
		return
	}
	wasRunning := sess.State() != Stopped
	m.pty.Remove(sessionID)
	sess.markStopped(exitCode)

	if wasRunning {
		m.logger.Info("pty exited", "event", "daemon.session.pty_exit", "session_id", sessionID, "exit_code", exitCode)
		if m.OnSessionEvent != nil {
			m.OnSessionEvent(sessionID, "stopped", exitCode)
		}
	}
}

// StopAll iterates over all Running sessions and stops each; failures
// are logged, never abort the loop.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.shuttingDown = true
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if s.State() == Running {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.StopSession(id); err != nil {
			m.logger.Warn("stop_all failed for session", "event", "daemon.stop_all.failed", "session_id", id, "err", err)
		}
	}
}

// readLoop is the PTY reader task of spec §4.6.
func (m *Manager) readLoop(sess *Session) {
	p := sess.getPty()
	if p == nil {
		return
	}
	reader := p.Reader()

	buf := make([]byte, 8*1024)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			lagged := sess.broadcast(data)
			for _, clientID := range lagged {
				m.logger.Debug("subscriber lagged", "event", "daemon.session.stream_lagged", "session_id", sess.ID, "client_id", clientID)
				if m.OnClientLagged != nil {
					m.OnClientLagged(sess.ID, clientID)
				}
			}
		}
		if err != nil {
			break
		}
	}

	exitCode, _ := p.Wait()
	ec := exitCode
	m.exitCh <- exitNotice{sessionID: sess.ID, exitCode: &ec}
}

// reaperLoop is the dedicated reaper task of spec §5: it drains PTY
// exit notifications and drives HandlePtyExit.
func (m *Manager) reaperLoop() {
	for notice := range m.exitCh {
		m.HandlePtyExit(notice.sessionID, notice.exitCode)
	}
}

// SessionCount is a diagnostics helper.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
