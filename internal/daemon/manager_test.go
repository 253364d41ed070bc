package daemon

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("condition not met within %s", timeout)
	}
}

// TestCreateWriteRead is the literal spec §8 scenario 1: create a "cat"
// session, write to stdin, and observe the echoed bytes in scrollback.
func TestCreateWriteRead(t *testing.T) {
	m := NewManager(nil)
	sess, err := m.CreateSession("p1/feat", "/tmp", "cat", nil, nil, 24, 80, false, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.State() != Running {
		t.Fatalf("state = %s, want running", sess.State())
	}
	if sess.PID() < 1 {
		t.Fatalf("pid = %d, want >= 1", sess.PID())
	}

	if err := m.WriteStdin("p1/feat", []byte("hello\n")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		data, _ := m.ReadScrollback("p1/feat")
		return bytes.HasSuffix(data, []byte("hello\n"))
	})

	_ = m.DestroySession("p1/feat", true)
}

// TestEarlyExit is spec §8 scenario 2: a command that exits immediately
// must be observable as Stopped with an exit code once the reaper has
// caught up with it.
func TestEarlyExit(t *testing.T) {
	m := NewManager(nil)
	sess, err := m.CreateSession("p1/bad", "/tmp", "false", nil, nil, 24, 80, false, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return sess.State() == Stopped })

	info := sess.Info()
	if info.Status != "stopped" {
		t.Fatalf("status = %s, want stopped", info.Status)
	}
	if info.ExitCode == nil || *info.ExitCode != 1 {
		t.Fatalf("exit code = %v, want 1", info.ExitCode)
	}
}

// TestDuplicateCreate is spec §8 scenario 3.
func TestDuplicateCreate(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.CreateSession("p1/x", "/tmp", "cat", nil, nil, 24, 80, false, 0); err != nil {
		t.Fatalf("first create: %v", err)
	}
	defer m.DestroySession("p1/x", true)

	_, err := m.CreateSession("p1/x", "/tmp", "cat", nil, nil, 24, 80, false, 0)
	if err == nil {
		t.Fatal("second create: want error, got nil")
	}
	de, ok := err.(interface{ ErrorCode() string })
	if !ok {
		t.Fatalf("error %v does not implement ErrorCode()", err)
	}
	if de.ErrorCode() != "SESSION_ALREADY_EXISTS" {
		t.Fatalf("code = %s, want SESSION_ALREADY_EXISTS", de.ErrorCode())
	}
}

// TestHandlePtyExitIdempotent covers invariant 4 and the re-entrancy
// note in §4.5: a second HandlePtyExit for the same session must not
// double-publish a session_event.
func TestHandlePtyExitIdempotent(t *testing.T) {
	m := NewManager(nil)
	_, err := m.CreateSession("p1/exit", "/tmp", "true", nil, nil, 24, 80, false, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	var events int
	m.OnSessionEvent = func(string, string, *int) { events++ }

	waitFor(t, 2*time.Second, func() bool {
		s, ok := m.Get("p1/exit")
		return ok && s.State() == Stopped
	})
	// Give the reaper loop a moment past the first HandlePtyExit.
	time.Sleep(20 * time.Millisecond)

	m.HandlePtyExit("p1/exit", nil) // second, re-entrant call
	if events > 1 {
		t.Fatalf("events = %d, want at most 1 (no double-publish)", events)
	}
	if m.pty.Count() != 0 {
		t.Fatalf("pty table count = %d, want 0 after exit", m.pty.Count())
	}
}

// TestStopSessionIdempotent covers the round-trip property: stop on an
// already-Stopped session is a no-op that returns Ok.
func TestStopSessionIdempotent(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.CreateSession("p1/stop", "/tmp", "cat", nil, nil, 24, 80, false, 0); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.StopSession("p1/stop"); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := m.StopSession("p1/stop"); err != nil {
		t.Fatalf("second stop (idempotent): %v", err)
	}
}

// TestDestroyTwiceSecondNotFound covers the round-trip property:
// destroy twice on the same id succeeds then returns NotFound, with no
// partial state left behind.
func TestDestroyTwiceSecondNotFound(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.CreateSession("p1/destroy", "/tmp", "cat", nil, nil, 24, 80, false, 0); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := m.DestroySession("p1/destroy", false); err != nil {
		t.Fatalf("first destroy: %v", err)
	}
	err := m.DestroySession("p1/destroy", false)
	if err == nil {
		t.Fatal("second destroy: want error, got nil")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, ok := m.Get("p1/destroy"); ok {
		t.Fatal("session still present after destroy")
	}
}

// TestDetachNeverAttachedIsOk covers: detach for a client that was
// never attached is Ok (no panic, no error surfaced to the caller).
func TestDetachNeverAttachedIsOk(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.CreateSession("p1/detach", "/tmp", "cat", nil, nil, 24, 80, false, 0); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	defer m.DestroySession("p1/detach", true)
	m.DetachClient("p1/detach", 99999) // never attached; must not panic
}

// TestAttachRequiresRunning covers attach_client's SessionNotRunning
// failure mode once a session has stopped.
func TestAttachRequiresRunning(t *testing.T) {
	m := NewManager(nil)
	sess, err := m.CreateSession("p1/attach", "/tmp", "true", nil, nil, 24, 80, false, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return sess.State() == Stopped })

	_, _, err = m.AttachClient("p1/attach", 1)
	if err == nil {
		t.Fatal("want error attaching to a stopped session")
	}
}

// TestClientLaggedNotifiesLaggedClient covers spec §4.7's stream_lagged
// requirement at the Manager/Session level: a subscriber whose channel
// is full when the reader broadcasts must trigger OnClientLagged for
// its own clientID, not just a debug log line.
func TestClientLaggedNotifiesLaggedClient(t *testing.T) {
	m := NewManager(nil)
	sess, err := m.CreateSession("p1/lag", "/tmp", "cat", nil, nil, 24, 80, false, 0)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	defer m.DestroySession("p1/lag", true)

	var mu sync.Mutex
	var laggedFor uint64
	var laggedSession string
	m.OnClientLagged = func(sessionID string, clientID uint64) {
		mu.Lock()
		laggedSession, laggedFor = sessionID, clientID
		mu.Unlock()
	}

	const clientID = uint64(7)
	ch, _, err := m.AttachClient("p1/lag", clientID)
	if err != nil {
		t.Fatalf("AttachClient: %v", err)
	}
	// Fill the subscriber channel to capacity without draining it so the
	// next broadcast has nowhere to put data for this client.
	for len(ch) < cap(ch) {
		ch <- []byte("x")
	}

	if err := m.WriteStdin("p1/lag", []byte("trigger\n")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return laggedFor == clientID
	})
	mu.Lock()
	defer mu.Unlock()
	if laggedSession != sess.ID {
		t.Fatalf("laggedSession = %q, want %q", laggedSession, sess.ID)
	}
}

// TestAttachUnknownSession covers attach_client's SessionNotFound path.
func TestAttachUnknownSession(t *testing.T) {
	m := NewManager(nil)
	_, _, err := m.AttachClient("does/not-exist", 1)
	if err == nil {
		t.Fatal("want error attaching to an unknown session")
	}
}
