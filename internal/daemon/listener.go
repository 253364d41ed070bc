package daemon

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/kildhq/kild/internal/ipc"
	"github.com/kildhq/kild/internal/kilderr"
)

// Listener binds the well-known unix stream socket (spec §6.1), accepts
// connections, and spawns a per-connection task, per spec §4.7.
// Grounded on kojo's internal/server/websocket.go for the
// read-loop/write-loop split, translated from one HTTP+WS connection
// per session into one raw socket connection that may subscribe/
// unsubscribe to many sessions over its lifetime.
type Listener struct {
	manager    *Manager
	logger     *slog.Logger
	socketPath string

	mu       sync.Mutex
	ln       net.Listener
	draining bool
	wg       sync.WaitGroup

	// outChans maps a connected client's id to the outCh its write loop
	// drains, so a lag notification raised from Manager/Session (which
	// only knows a bare clientID) can be routed back to the right
	// connection without threading a channel through the broadcast path.
	outChansMu sync.Mutex
	outChans   map[uint64]chan []byte

	// OnStopped, if set, is invoked when a running session's PTY exits
	// (through Manager.OnSessionEvent). It is not ordered against the
	// session_event frames that the subscription pumps write to
	// attached clients. cmd/kild-daemon wires this to internal/notify so the
	// daemon package itself stays free of notification-channel
	// specifics.
	OnStopped func(sessionID string, exitCode *int)
}

func NewListener(manager *Manager, socketPath string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{manager: manager, logger: logger, socketPath: socketPath, outChans: make(map[uint64]chan []byte)}
	manager.OnSessionEvent = l.publishSessionEvent
	manager.OnClientLagged = l.publishClientLagged
	return l
}

// Serve binds the socket and runs the accept loop until Shutdown is
// called or an unrecoverable accept error occurs.
func (l *Listener) Serve() error {
	_ = os.Remove(l.socketPath) // stale socket from a crashed daemon
	ln, err := net.Listen("unix", l.socketPath)
	if err != nil {
		return kilderr.IoError(err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			draining := l.draining
			l.mu.Unlock()
			if draining {
				return nil
			}
			return kilderr.IoError(err)
		}
		clientID := l.manager.NextClientID()
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(clientID, conn)
		}()
	}
}

// Shutdown stops accepting, drains existing connections, stops all
// sessions, and returns once everything has wound down, per spec §5.
func (l *Listener) Shutdown() {
	l.mu.Lock()
	l.draining = true
	ln := l.ln
	l.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	l.manager.StopAll()
	l.wg.Wait()
}

// connState tracks what one accepted connection is subscribed to.
type connState struct {
	clientID      uint64
	subscriptions map[string]chan []byte
	mu            sync.Mutex
}

func (l *Listener) handleConn(clientID uint64, conn net.Conn) {
	defer conn.Close()
	defer l.manager.DetachClientFromAll(clientID)

	cs := &connState{clientID: clientID, subscriptions: make(map[string]chan []byte)}
	outCh := make(chan []byte, 256)
	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { close(done) }) }

	l.outChansMu.Lock()
	l.outChans[clientID] = outCh
	l.outChansMu.Unlock()
	defer func() {
		l.outChansMu.Lock()
		delete(l.outChans, clientID)
		l.outChansMu.Unlock()
	}()

	go l.connWriteLoop(conn, outCh, done)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			l.dispatch(clientID, cs, line, outCh)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.logger.Debug("connection read error", "event", "daemon.conn.read_error", "client_id", clientID, "err", err)
			}
			break
		}
	}
	closeConn()

	cs.mu.Lock()
	for sessionID, ch := range cs.subscriptions {
		l.manager.DetachClient(sessionID, clientID)
		_ = ch
	}
	cs.mu.Unlock()
}

func (l *Listener) connWriteLoop(conn net.Conn, outCh chan []byte, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case data, ok := <-outCh:
			if !ok {
				return
			}
			if _, err := conn.Write(data); err != nil {
				return
			}
		}
	}
}

func (l *Listener) dispatch(clientID uint64, cs *connState, line []byte, outCh chan []byte) {
	var req ipc.Request
	if err := json.Unmarshal(line, &req); err != nil {
		l.writeResponse(outCh, &ipc.Response{Type: ipc.TypeError, Code: "protocol_error", Message: err.Error()})
		return
	}

	switch req.Type {
	case ipc.TypePing:
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypePong})

	case ipc.TypeCreateSession:
		sess, err := l.manager.CreateSession(req.SessionID, req.WorkingDirectory, req.Command, req.Args, envMapToSlice(req.EnvVars), req.Rows, req.Cols, req.UseLoginShell, 0)
		if err != nil {
			l.writeError(outCh, req.ID, err)
			return
		}
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeSessionInfo, Session: toWireInfo(sess.Info())})

	case ipc.TypeGetSession:
		sess, ok := l.manager.Get(req.SessionID)
		if !ok {
			l.writeErrorCode(outCh, req.ID, ipc.ErrSessionNotFound, "session not found")
			return
		}
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeSessionInfo, Session: toWireInfo(sess.Info())})

	case ipc.TypeStopSession:
		if err := l.manager.StopSession(req.SessionID); err != nil {
			l.writeError(outCh, req.ID, err)
			return
		}
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeOk})

	case ipc.TypeDestroySession:
		if err := l.manager.DestroySession(req.SessionID, req.Force); err != nil {
			l.writeError(outCh, req.ID, err)
			return
		}
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeOk})

	case ipc.TypeReadScrollback:
		data, err := l.manager.ReadScrollback(req.SessionID)
		if err != nil {
			l.writeError(outCh, req.ID, err)
			return
		}
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeScrollback, Data: base64.StdEncoding.EncodeToString(data)})

	case ipc.TypeWriteStdin:
		data, decErr := base64.StdEncoding.DecodeString(req.Data)
		if decErr != nil {
			l.writeErrorCode(outCh, req.ID, "protocol_error", "invalid base64 data")
			return
		}
		if err := l.manager.WriteStdin(req.SessionID, data); err != nil {
			l.writeError(outCh, req.ID, err)
			return
		}
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeOk})

	case ipc.TypeResizePty:
		if err := l.manager.ResizePty(req.SessionID, req.Rows, req.Cols); err != nil {
			l.writeError(outCh, req.ID, err)
			return
		}
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeOk})

	case ipc.TypeAttach:
		ch, snapshot, err := l.manager.AttachClient(req.SessionID, clientID)
		if err != nil {
			l.writeError(outCh, req.ID, err)
			return
		}
		cs.mu.Lock()
		cs.subscriptions[req.SessionID] = ch
		cs.mu.Unlock()
		go l.pumpSubscription(req.SessionID, clientID, ch, outCh)
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeScrollback, Data: base64.StdEncoding.EncodeToString(snapshot)})

	case ipc.TypeDetach:
		l.manager.DetachClient(req.SessionID, clientID)
		cs.mu.Lock()
		delete(cs.subscriptions, req.SessionID)
		cs.mu.Unlock()
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeOk})

	case ipc.TypeDaemonStop:
		l.writeResponse(outCh, &ipc.Response{ID: req.ID, Type: ipc.TypeOk})
		go l.Shutdown()

	default:
		l.writeErrorCode(outCh, req.ID, "protocol_error", "unknown request type: "+req.Type)
	}
}

// pumpSubscription forwards a session's broadcast channel onto the
// connection's shared outCh as pty_output frames, and emits a
// session_event "stopped" frame once the session stops. It returns
// without a frame if the channel is closed (Unsubscribe). stream_lagged
// frames are not sent here but through Manager.OnClientLagged.
func (l *Listener) pumpSubscription(sessionID string, clientID uint64, ch chan []byte, outCh chan []byte) {
	sess, ok := l.manager.Get(sessionID)
	if !ok {
		return
	}
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return
			}
			l.writeResponse(outCh, &ipc.Response{Type: ipc.TypePtyOutput, SessionID: sessionID, Data: base64.StdEncoding.EncodeToString(data)})
		case <-sess.Done():
			info := sess.Info()
			l.writeResponse(outCh, &ipc.Response{Type: ipc.TypeSessionEvent, SessionID: sessionID, Kind: "stopped", ExitCode: info.ExitCode})
			return
		}
	}
}

// publishSessionEvent is registered as Manager.OnSessionEvent. The
// unsolicited session_event frame to attached subscribers is already
// emitted by pumpSubscription when it observes sess.Done(); this hook
// exists so non-socket observers (internal/notify, wired in cmd/) have
// a single stable extension point independent of subscription state.
func (l *Listener) publishSessionEvent(sessionID, kind string, exitCode *int) {
	if kind != "stopped" || l.OnStopped == nil {
		return
	}
	l.OnStopped(sessionID, exitCode)
}

// publishClientLagged is registered as Manager.OnClientLagged. It looks
// up the lagged client's own connection and writes a stream_lagged
// frame directly onto it, per spec §4.7/§6.1.
func (l *Listener) publishClientLagged(sessionID string, clientID uint64) {
	l.outChansMu.Lock()
	outCh, ok := l.outChans[clientID]
	l.outChansMu.Unlock()
	if !ok {
		return
	}
	l.writeResponse(outCh, &ipc.Response{Type: ipc.TypeStreamLagged, SessionID: sessionID})
}

func (l *Listener) writeResponse(outCh chan []byte, resp *ipc.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	b = append(b, '\n')
	select {
	case outCh <- b:
	default:
		l.logger.Warn("connection output channel full, dropping frame", "event", "daemon.conn.output_overflow")
	}
}

// wireErrorCode maps internal kilderr codes (uppercase, the general
// client-facing taxonomy of spec §7) onto the lowercase wire-protocol
// error codes of spec §6.1, which is a distinct, smaller vocabulary
// scoped to the daemon socket.
func wireErrorCode(internalCode string) string {
	switch internalCode {
	case string(kilderr.CodeSessionNotFound):
		return ipc.ErrSessionNotFound
	case string(kilderr.CodeSessionAlreadyExists):
		return ipc.ErrSessionAlreadyExists
	case string(kilderr.CodeSessionNotRunning):
		return ipc.ErrSessionNotRunning
	case string(kilderr.CodeInvalidStateTransition):
		return ipc.ErrInvalidStateTransition
	case string(kilderr.CodeIoError):
		return ipc.ErrPtyError
	default:
		return "internal_error"
	}
}

func (l *Listener) writeError(outCh chan []byte, id string, err error) {
	code, msg := "internal_error", err.Error()
	if de, ok := err.(interface{ ErrorCode() string }); ok {
		code = wireErrorCode(de.ErrorCode())
	}
	l.writeErrorCode(outCh, id, code, msg)
}

func (l *Listener) writeErrorCode(outCh chan []byte, id, code, msg string) {
	l.writeResponse(outCh, &ipc.Response{ID: id, Type: ipc.TypeError, Code: code, Message: msg})
}

func toWireInfo(info Info) *ipc.SessionInfo {
	return &ipc.SessionInfo{
		ID:               info.ID,
		Status:           info.Status,
		ExitCode:         info.ExitCode,
		CreatedAt:        info.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		Command:          info.Command,
		WorkingDirectory: info.WorkingDirectory,
		PID:              info.PID,
	}
}

func envMapToSlice(env map[string]string) []string {
	if len(env) == 0 {
		return os.Environ()
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
