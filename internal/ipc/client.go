package ipc

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kildhq/kild/internal/kilderr"
)

// Timeouts per spec §5: short-lived ops use 2s, long ones (create) use 30s.
const (
	ShortTimeout  = 2 * time.Second
	CreateTimeout = 30 * time.Second
)

// Client issues one short-lived request/response exchange per call, per
// spec §4.12: never reuse a buffered reader across calls.
type Client struct {
	socketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// connect opens a fresh connection. A missing socket or a refused
// connection is reported as NotRunning; anything else is ConnectionFailed.
func (c *Client) connect() (net.Conn, error) {
	if _, err := os.Stat(c.socketPath); errors.Is(err, os.ErrNotExist) {
		return nil, kilderr.NotRunning("daemon socket not found: " + c.socketPath)
	}
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		if isConnRefused(err) {
			return nil, kilderr.NotRunning("daemon not running: connection refused")
		}
		return nil, kilderr.ConnectionFailed(err)
	}
	return conn, nil
}

func isConnRefused(err error) bool {
	return strings.Contains(err.Error(), "connection refused")
}

// sendRequest opens a fresh connection, writes one request line, and
// reads exactly one response line.
func (c *Client) sendRequest(req *Request, timeout time.Duration) (*Response, error) {
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(timeout))

	line, err := req.Encode()
	if err != nil {
		return nil, kilderr.ProtocolError("failed to encode request: " + err.Error())
	}
	if _, err := conn.Write(line); err != nil {
		return nil, kilderr.ConnectionFailed(err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, kilderr.ConnectionFailed(err)
	}

	resp, err := DecodeResponse(respLine)
	if err != nil {
		return nil, kilderr.ProtocolError("malformed response: " + err.Error())
	}
	return resp, nil
}

// asError maps an error-type response to a DaemonError, collapsing the
// not_found/unknown_session marker substrings to (nil, nil) at the
// helper layer per spec §4.12.
func asError(resp *Response) (*Response, error) {
	if resp.Type != TypeError {
		return resp, nil
	}
	if strings.Contains(resp.Code, "not_found") || strings.Contains(resp.Code, "unknown_session") {
		return nil, nil
	}
	return nil, &kilderr.DaemonError{Code: resp.Code, Message: resp.Message}
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	resp, err := c.sendRequest(&Request{ID: newID(), Type: TypePing}, ShortTimeout)
	if err != nil {
		return err
	}
	if resp.Type == TypeError {
		_, err := asError(resp)
		return err
	}
	return nil
}

// CreatePtySession sends create_session and returns the session info.
func (c *Client) CreatePtySession(sessionID, workDir, command string, args []string, env map[string]string, rows, cols uint16, useLoginShell bool) (*SessionInfo, error) {
	req := &Request{
		ID:               newID(),
		Type:             TypeCreateSession,
		SessionID:        sessionID,
		WorkingDirectory: workDir,
		Command:          command,
		Args:             args,
		EnvVars:          env,
		Rows:             rows,
		Cols:             cols,
		UseLoginShell:    useLoginShell,
	}
	resp, err := c.sendRequest(req, CreateTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Type == TypeError {
		if _, err := asError(resp); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return resp.Session, nil
}

// GetSessionInfo fetches current status, including exit_code.
func (c *Client) GetSessionInfo(sessionID string) (*SessionInfo, error) {
	resp, err := c.sendRequest(&Request{ID: newID(), Type: TypeGetSession, SessionID: sessionID}, ShortTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Type == TypeError {
		if _, err := asError(resp); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return resp.Session, nil
}

// GetSessionStatus is a thin alias used by callers that only need
// status, mirroring the spec §4.12 helper of the same name.
func (c *Client) GetSessionStatus(sessionID string) (*SessionInfo, error) {
	return c.GetSessionInfo(sessionID)
}

// StopDaemonSession requests a graceful stop.
func (c *Client) StopDaemonSession(sessionID string) error {
	resp, err := c.sendRequest(&Request{ID: newID(), Type: TypeStopSession, SessionID: sessionID}, ShortTimeout)
	if err != nil {
		return err
	}
	_, err = asError(resp)
	return err
}

// DestroyDaemonSession requests unconditional removal; force controls
// whether a PTY-kill failure is swallowed.
func (c *Client) DestroyDaemonSession(sessionID string, force bool) error {
	resp, err := c.sendRequest(&Request{ID: newID(), Type: TypeDestroySession, SessionID: sessionID, Force: force}, ShortTimeout)
	if err != nil {
		return err
	}
	_, err = asError(resp)
	return err
}

// ReadScrollback returns the base64-decoded scrollback snapshot.
func (c *Client) ReadScrollback(sessionID string) ([]byte, error) {
	resp, err := c.sendRequest(&Request{ID: newID(), Type: TypeReadScrollback, SessionID: sessionID}, ShortTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Type == TypeError {
		if _, err := asError(resp); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(resp.Data)
}

// WriteStdin writes bytes to the session's PTY.
func (c *Client) WriteStdin(sessionID string, data []byte) error {
	req := &Request{ID: newID(), Type: TypeWriteStdin, SessionID: sessionID, Data: base64.StdEncoding.EncodeToString(data)}
	resp, err := c.sendRequest(req, ShortTimeout)
	if err != nil {
		return err
	}
	_, err = asError(resp)
	return err
}

// ResizePty forwards a resize to the daemon.
func (c *Client) ResizePty(sessionID string, rows, cols uint16) error {
	req := &Request{ID: newID(), Type: TypeResizePty, SessionID: sessionID, Rows: rows, Cols: cols}
	resp, err := c.sendRequest(req, ShortTimeout)
	if err != nil {
		return err
	}
	_, err = asError(resp)
	return err
}

// RequestShutdown asks the daemon to stop accepting and drain.
func (c *Client) RequestShutdown() error {
	resp, err := c.sendRequest(&Request{ID: newID(), Type: TypeDaemonStop}, ShortTimeout)
	if err != nil {
		return err
	}
	_, err = asError(resp)
	return err
}

var idCounter int64

// newID generates a free-form correlation id. A simple process-local
// counter is sufficient since ids only need to be unique within one
// connection's lifetime.
func newID() string {
	idCounter++
	return fmt.Sprintf("c%d-%d", os.Getpid(), idCounter) + strconv.FormatInt(time.Now().UnixNano(), 36)
}
