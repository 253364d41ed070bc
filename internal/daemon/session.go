package daemon

import (
	"sync"
	"time"

	"github.com/kildhq/kild/internal/kilderr"
	"github.com/kildhq/kild/internal/pty"
	"github.com/kildhq/kild/internal/ring"
)

// broadcastCapacity is the bounded channel size of spec §5: a slow
// consumer is told it lagged rather than allowed to pause the reader.
const broadcastCapacity = 64

// Session is the daemon's in-memory DaemonSession entity of spec §3.
// All mutation happens through SessionManager's single actor; Session's
// own mutex only guards fields touched by the reader task and by
// subscriber fan-out, which run concurrently with the actor by design
// (spec §5's "reader tasks communicate exclusively by sending on... a
// per-session bounded broadcast channel").
type Session struct {
	ID               string
	WorkingDirectory string
	Command          string
	Args             []string
	CreatedAt        time.Time
	UseLoginShell    bool

	mu        sync.Mutex
	state     State
	pty       *pty.ManagedPty
	exitCode  *int
	scrollback *ring.Buffer
	attached  map[uint64]chan []byte
	pid       int
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Session) setPty(p *pty.ManagedPty) {
	s.mu.Lock()
	s.pty = p
	if p != nil {
		s.pid = p.ChildProcessID()
	}
	s.mu.Unlock()
}

func (s *Session) getPty() *pty.ManagedPty {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pty
}

func newSession(id, workDir, command string, args []string, useLoginShell bool, scrollbackCap int) *Session {
	return &Session{
		ID:               id,
		WorkingDirectory: workDir,
		Command:          command,
		Args:             args,
		CreatedAt:        time.Now(),
		UseLoginShell:    useLoginShell,
		state:            New,
		scrollback:       ring.New(scrollbackCap),
		attached:         make(map[uint64]chan []byte),
		done:             make(chan struct{}),
	}
}

// State returns the current FSM state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done closes when the session has transitioned to Stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// setRunning transitions New -> Running, per spec §4.4.
func (s *Session) setRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.SetRunning()
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Session) markStopped(exitCode *int) {
	s.mu.Lock()
	next, err := s.state.SetStopped()
	alreadyStopped := s.state == Stopped
	s.state = next
	if exitCode != nil {
		s.exitCode = exitCode
	}
	s.mu.Unlock()
	_ = err // SetStopped never errors from New/Running/Stopped; see state.go
	if !alreadyStopped {
		s.closeOnce.Do(func() { close(s.done) })
	}
}

// ExitCode returns the recorded exit code, if the session has stopped
// and one was captured.
func (s *Session) ExitCode() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// PID returns the child PID, or 0 if none is recorded (e.g. stopped).
func (s *Session) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pid
}

// Subscribe registers a new subscriber channel and returns it along
// with a scrollback snapshot the caller should replay before consuming
// further broadcasts, per spec §4.6/§4.7.
func (s *Session) Subscribe(clientID uint64) (chan []byte, []byte) {
	ch := make(chan []byte, broadcastCapacity)
	s.mu.Lock()
	s.attached[clientID] = ch
	snapshot := s.scrollback.Snapshot()
	s.mu.Unlock()
	return ch, snapshot
}

// Unsubscribe removes a subscriber. Idempotent.
func (s *Session) Unsubscribe(clientID uint64) {
	s.mu.Lock()
	ch, ok := s.attached[clientID]
	delete(s.attached, clientID)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// IsAttached reports whether clientID currently holds a subscription.
func (s *Session) IsAttached(clientID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[clientID]
	return ok
}

// broadcast appends data to scrollback and fans it out to every
// attached subscriber. A full subscriber channel is a lag: the chunk is
// dropped for that subscriber and its client id is returned, and the
// reader loop in manager.go reports it through Manager.OnClientLagged.
// This never blocks the reader task, per spec §5's back-pressure rule.
func (s *Session) broadcast(data []byte) (laggedClients []uint64) {
	s.mu.Lock()
	s.scrollback.Append(data)
	for id, ch := range s.attached {
		select {
		case ch <- data:
		default:
			laggedClients = append(laggedClients, id)
		}
	}
	s.mu.Unlock()
	return laggedClients
}

// WriteStdin forwards to the PTY.
func (s *Session) WriteStdin(data []byte) (int, error) {
	s.mu.Lock()
	p := s.pty
	state := s.state
	s.mu.Unlock()
	if state != Running || p == nil {
		return 0, kilderr.SessionNotRunning(s.ID)
	}
	return p.WriteStdin(data)
}

// Resize forwards to the PTY.
func (s *Session) Resize(rows, cols uint16) error {
	s.mu.Lock()
	p := s.pty
	s.mu.Unlock()
	if p == nil {
		return kilderr.SessionNotRunning(s.ID)
	}
	return p.Resize(rows, cols)
}

// Info is a consistent snapshot of fields the listener serialises into
// a session_info response (spec §6.1).
type Info struct {
	ID               string
	Status           string
	ExitCode         *int
	CreatedAt        time.Time
	Command          string
	Args             []string
	WorkingDirectory string
	PID              int
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := "running"
	if s.state == Stopped {
		status = "stopped"
	}
	return Info{
		ID:               s.ID,
		Status:           status,
		ExitCode:         s.exitCode,
		CreatedAt:        s.CreatedAt,
		Command:          s.Command,
		Args:             s.Args,
		WorkingDirectory: s.WorkingDirectory,
		PID:              s.pid,
	}
}

// ScrollbackSnapshot returns the current scrollback tail.
func (s *Session) ScrollbackSnapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrollback.Snapshot()
}
