// Package kilderr implements the error taxonomy of the KILD core: every
// error carries a stable code and a flag distinguishing user-facing
// mistakes from internal failures, so front-ends can decide how to
// present them without type-switching on Go error types.
package kilderr

import "fmt"

// Code is one of the stable, front-end-visible error codes.
type Code string

const (
	CodeClientError            Code = "CLIENT_ERROR"
	CodeNotRunning             Code = "DAEMON_NOT_RUNNING"
	CodeConnectionFailed       Code = "CONNECTION_FAILED"
	CodeProtocolError          Code = "PROTOCOL_ERROR"
	CodeDaemonError            Code = "DAEMON_ERROR"
	CodeGitError               Code = "GIT_ERROR"
	CodeProcessNotFound        Code = "PROCESS_NOT_FOUND"
	CodeProcessKillFailed      Code = "PROCESS_KILL_FAILED"
	CodePidReused              Code = "PID_REUSED"
	CodeTerminalError          Code = "TERMINAL_ERROR"
	CodePtyExitedEarly         Code = "PTY_EXITED_EARLY"
	CodeIoError                Code = "IO_ERROR"
	CodeInvalidStateTransition Code = "INVALID_STATE_TRANSITION"
	CodeSessionNotFound        Code = "SESSION_NOT_FOUND"
	CodeUnknownSession         Code = "UNKNOWN_SESSION"
	CodeSessionAlreadyExists   Code = "SESSION_ALREADY_EXISTS"
	CodeSessionNotRunning      Code = "SESSION_NOT_RUNNING"
	CodeUncommittedChanges     Code = "SESSION_UNCOMMITTED_CHANGES"
	CodeNotInRepository        Code = "NOT_IN_REPOSITORY"
	CodePortRangeExhausted     Code = "PORT_RANGE_EXHAUSTED"
	CodeInvalidPortCount       Code = "INVALID_PORT_COUNT"
)

// userFacing lists codes that represent invalid input rather than a bug.
var userFacing = map[Code]bool{
	CodeClientError:          true,
	CodeNotRunning:           true,
	CodeGitError:             true,
	CodeUncommittedChanges:   true,
	CodeNotInRepository:      true,
	CodeSessionAlreadyExists: true,
	CodeSessionNotFound:      true,
	CodePortRangeExhausted:   true,
	CodeInvalidPortCount:     true,
	CodePtyExitedEarly:       true,
}

// Error is the general concrete error type implementing the taxonomy;
// DaemonError, ProcessError and PtyExitedEarly below are separate
// concrete types for errors that carry extra fields.
type Error struct {
	code    Code
	message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

// ErrorCode returns the stable front-end-visible code.
func (e *Error) ErrorCode() string { return string(e.code) }

// IsUserError reports whether this is "tell the user to fix their
// input" rather than "this is a bug".
func (e *Error) IsUserError() bool { return userFacing[e.code] }

func (e *Error) Unwrap() error { return e.wrapped }

func new(code Code, msg string, wrapped error) *Error {
	return &Error{code: code, message: msg, wrapped: wrapped}
}

func New(code Code, msg string) *Error               { return new(code, msg, nil) }
func Wrap(code Code, msg string, err error) *Error    { return new(code, msg, err) }
func ClientError(msg string) *Error                   { return new(CodeClientError, msg, nil) }
func NotRunning(msg string) *Error                    { return new(CodeNotRunning, msg, nil) }
func ConnectionFailed(err error) *Error                { return new(CodeConnectionFailed, "connection failed", err) }
func ProtocolError(msg string) *Error                  { return new(CodeProtocolError, msg, nil) }
func IoError(err error) *Error                         { return new(CodeIoError, "io error", err) }
func InvalidStateTransition(from, to string) *Error {
	return new(CodeInvalidStateTransition, fmt.Sprintf("invalid state transition %s -> %s", from, to), nil)
}
func SessionNotFound(id string) *Error {
	return new(CodeSessionNotFound, fmt.Sprintf("session not found: %s", id), nil)
}
func UnknownSession(id string) *Error {
	return new(CodeUnknownSession, fmt.Sprintf("unknown session: %s", id), nil)
}
func SessionAlreadyExists(id string) *Error {
	return new(CodeSessionAlreadyExists, fmt.Sprintf("session already exists: %s", id), nil)
}
func SessionNotRunning(id string) *Error {
	return new(CodeSessionNotRunning, fmt.Sprintf("session not running: %s", id), nil)
}

// DaemonError wraps an explicit error frame returned by the daemon over IPC.
type DaemonError struct {
	Code    string
	Message string
}

func (e *DaemonError) Error() string      { return fmt.Sprintf("daemon error [%s]: %s", e.Code, e.Message) }
func (e *DaemonError) ErrorCode() string  { return e.Code }
func (e *DaemonError) IsUserError() bool {
	switch e.Code {
	case string(CodeSessionNotFound), string(CodeUnknownSession), string(CodeSessionAlreadyExists), string(CodeSessionNotRunning):
		return true
	default:
		return false
	}
}

// GitError reports a git/worktree failure.
func GitError(msg string, err error) *Error { return new(CodeGitError, msg, err) }

// UncommittedChanges reports that a destroy without force was blocked by
// a dirty worktree.
func UncommittedChanges(path string) *Error {
	return new(CodeUncommittedChanges, fmt.Sprintf("worktree has uncommitted changes: %s", path), nil)
}

// NotInRepository reports that no Git repo could be discovered upward
// from the working directory.
func NotInRepository(path string) *Error {
	return new(CodeNotInRepository, fmt.Sprintf("not inside a git repository: %s", path), nil)
}

// ProcessError taxonomy: NotFound / KillFailed / PidReused.
type ProcessError struct {
	code     Code
	PID      int
	Message  string
	Expected string
	Actual   string
}

func (e *ProcessError) Error() string {
	switch e.code {
	case CodeProcessNotFound:
		return fmt.Sprintf("process not found: pid=%d", e.PID)
	case CodePidReused:
		return fmt.Sprintf("pid reused: pid=%d expected=%q actual=%q", e.PID, e.Expected, e.Actual)
	default:
		return fmt.Sprintf("kill failed: pid=%d: %s", e.PID, e.Message)
	}
}
func (e *ProcessError) ErrorCode() string { return string(e.code) }
func (e *ProcessError) IsUserError() bool { return false }

func ProcessNotFound(pid int) *ProcessError {
	return &ProcessError{code: CodeProcessNotFound, PID: pid}
}
func KillFailed(pid int, msg string) *ProcessError {
	return &ProcessError{code: CodeProcessKillFailed, PID: pid, Message: msg}
}
func PidReused(pid int, expected, actual string) *ProcessError {
	return &ProcessError{code: CodePidReused, PID: pid, Expected: expected, Actual: actual}
}

// PtyExitedEarly is surfaced by create when the early-exit probe detects
// an immediate exit.
type PtyExitedEarly struct {
	ExitCode       int
	ScrollbackTail string
}

func (e *PtyExitedEarly) Error() string {
	return fmt.Sprintf("pty exited early with code %d", e.ExitCode)
}
func (e *PtyExitedEarly) ErrorCode() string { return string(CodePtyExitedEarly) }
func (e *PtyExitedEarly) IsUserError() bool { return true }

// PortRangeExhausted / InvalidPortCount for the port allocator.
func PortRangeExhausted() *Error {
	return new(CodePortRangeExhausted, "no contiguous port range available", nil)
}
func InvalidPortCount(k int) *Error {
	return new(CodeInvalidPortCount, fmt.Sprintf("invalid port count: %d", k), nil)
}
