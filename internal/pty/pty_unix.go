//go:build !windows

// Package pty implements spec §4.2's ManagedPty: it owns one PTY master
// file descriptor, the spawned child process, and the writer half, and
// exposes resize/write/wait/kill. This file backs it with
// github.com/creack/pty/v2 on unix platforms; see pty_windows.go for the
// conpty-backed Windows implementation.
package pty

import (
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/creack/pty/v2"
)

// Winsize mirrors pty.Winsize so callers outside this package don't need
// to import creack/pty directly.
type Winsize struct {
	Rows uint16
	Cols uint16
}

// ManagedPty owns a PTY master + child process, per spec §4.2.
type ManagedPty struct {
	mu     sync.Mutex
	master *os.File
	cmd    *exec.Cmd
}

// Create opens a PTY pair and spawns cmd on the slave. The caller's
// handle to the slave fd is released immediately after the child
// inherits it, per spec §3's ManagedPty invariant, so EOF on the master
// reliably signals child termination.
//
// When useLoginShell is true, the command is wrapped to run under the
// user's login shell (spec §4.2's create contract), grounded on kojo's
// internal/session/tmux.go loginShellPath/buildShellCommand: "unset
// PATH; exec $SHELL -lc '<quoted command>'" so PATH, SSH agent,
// credential helpers etc. match the user's standard terminal
// environment instead of whatever minimal PATH the daemon inherited.
func Create(name string, args []string, cwd string, rows, cols uint16, env []string, useLoginShell bool) (*ManagedPty, error) {
	var cmd *exec.Cmd
	if useLoginShell {
		shell := loginShellPath()
		wrapped := "unset PATH; exec " + shellQuote(shell) + " -lc " + shellQuote(buildShellCommand(name, args))
		cmd = exec.Command(shell, "-c", wrapped)
	} else {
		cmd = exec.Command(name, args...)
	}
	cmd.Dir = cwd
	cmd.Env = env

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, err
	}

	return &ManagedPty{master: master, cmd: cmd}, nil
}

// loginShellPath returns the user's login shell path from $SHELL,
// falling back to /bin/sh, per kojo's tmux.go loginShellPath.
func loginShellPath() string {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return shell
}

// shellQuote wraps a string in single quotes, escaping any embedded
// single quotes, per kojo's tmux.go shellQuote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildShellCommand constructs a shell-safe command string from a
// command name and its arguments, per kojo's tmux.go buildShellCommand.
func buildShellCommand(name string, args []string) string {
	parts := make([]string, 0, 1+len(args))
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// Resize updates the kernel winsize on the master, delivering SIGWINCH
// to the child. Idempotent for repeated identical dimensions (the
// kernel ioctl itself is idempotent; callers are not required to dedup).
func (p *ManagedPty) Resize(rows, cols uint16) error {
	p.mu.Lock()
	master := p.master
	p.mu.Unlock()
	if master == nil {
		return os.ErrClosed
	}
	return pty.Setsize(master, &pty.Winsize{Rows: rows, Cols: cols})
}

// WriteStdin writes to the master. Errors if the master has been closed.
func (p *ManagedPty) WriteStdin(data []byte) (int, error) {
	p.mu.Lock()
	master := p.master
	p.mu.Unlock()
	if master == nil {
		return 0, os.ErrClosed
	}
	return master.Write(data)
}

// Reader returns the master for reading PTY output. Callers must not
// close it directly; use Destroy.
func (p *ManagedPty) Reader() *os.File {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master
}

// Wait blocks until the child exits and returns its exit code. Must be
// called after the reader has observed EOF; returns immediately without
// blocking in that case because the child has already been reaped by
// the OS by the time EOF is visible on most platforms, and Wait is
// idempotent on an already-exited *exec.Cmd via ProcessState.
func (p *ManagedPty) Wait() (int, error) {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return -1, os.ErrClosed
	}
	err := cmd.Wait()
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}

// ChildProcessID returns the opaque platform PID, for observability and
// cleanup hints only (per spec §4.2).
func (p *ManagedPty) ChildProcessID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Destroy signals the child and closes handles. A no-op if the child
// has already exited.
func (p *ManagedPty) Destroy() error {
	p.mu.Lock()
	cmd := p.cmd
	master := p.master
	p.master = nil
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	if master != nil {
		return master.Close()
	}
	return nil
}
