//go:build windows

package pty

import (
	"strings"
	"sync"

	"github.com/UserExistsError/conpty"
)

// ManagedPty is the Windows backend for spec §4.2's ManagedPty,
// implemented over ConPTY via github.com/UserExistsError/conpty (the
// teacher's own dependency for Windows PTY support).
type ManagedPty struct {
	mu  sync.Mutex
	cpty *conpty.ConPty
}

// useLoginShell has no effect on Windows: ConPTY has no equivalent of a
// unix login shell wrapping a command, so the flag is accepted for
// signature parity with the unix backend and ignored.
func Create(name string, args []string, cwd string, rows, cols uint16, env []string, useLoginShell bool) (*ManagedPty, error) {
	commandLine := strings.Join(append([]string{name}, args...), " ")
	cpty, err := conpty.Start(
		commandLine,
		conpty.ConPtyDimensions(int(cols), int(rows)),
		conpty.ConPtyWorkDir(cwd),
		conpty.ConPtyEnv(env),
	)
	if err != nil {
		return nil, err
	}
	return &ManagedPty{cpty: cpty}, nil
}

func (p *ManagedPty) Resize(rows, cols uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpty.Resize(int(cols), int(rows))
}

func (p *ManagedPty) WriteStdin(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpty.Write(data)
}

// readerAdapter exposes conpty's Read over the same io.Reader shape the
// unix backend exposes via *os.File, so daemon reader-task code is
// platform-agnostic.
type readerAdapter struct{ p *ManagedPty }

func (r readerAdapter) Read(buf []byte) (int, error) { return r.p.cpty.Read(buf) }

func (p *ManagedPty) Reader() readerAdapter { return readerAdapter{p: p} }

func (p *ManagedPty) Wait() (int, error) {
	code, err := p.cpty.Wait(nil)
	return int(code), err
}

func (p *ManagedPty) ChildProcessID() int {
	return p.cpty.Pid()
}

func (p *ManagedPty) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpty.Close()
}
