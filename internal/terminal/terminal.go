// Package terminal implements the Terminal runtime mode of spec §4.8
// step 8 and the "trait objects for terminal backends" design note of
// spec §9: a tagged variant TerminalKind (Ghostty, ITerm, TerminalApp,
// Native) with a small capability table (spawn, close, focus, is_open)
// instead of an inheritance hierarchy.
//
// Grounded on original_source/crates/shards-core/src/terminal/traits.rs
// for the capability table shape and
// original_source/crates/kild-core/src/terminal/backends/ghostty.rs for
// the spawn/close/focus command patterns (open -na / osascript /
// pkill -f), simplified to drop the window-enumeration half (xcap,
// Accessibility APIs) that spec §1 places out of scope as
// screenshot/UI-automation utilities.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/kildhq/kild/internal/kilderr"
)

// Kind is the TerminalKind tagged variant of spec §9.
type Kind string

const (
	Ghostty     Kind = "ghostty"
	ITerm       Kind = "iterm"
	TerminalApp Kind = "terminalapp"
	Native      Kind = "native"
)

// SpawnConfig is the input to Backend.Spawn.
type SpawnConfig struct {
	WorkDir string
	Command string
	Title   string // window title; the Ghostty backend also uses it as the window identifier for close/is_open
}

// Backend is the capability table of spec §9: spawn, close, focus,
// is_open, one implementation per TerminalKind.
type Backend interface {
	Name() string
	DisplayName() string
	IsAvailable() bool
	// Spawn launches the terminal and returns the child PID (0 if the
	// backend doesn't own a direct child, e.g. an AppleScript-driven
	// GUI app) and a window identifier for later Close/Focus/IsOpen.
	Spawn(cfg SpawnConfig) (windowID string, pid int, err error)
	// Close is fire-and-forget, per spec §4.8 destroy step 2: failures
	// are never fatal to session destruction.
	Close(windowID string)
	Focus(windowID string) error
	IsOpen(windowID string) bool
}

// New returns the Backend for kind. Native is the fallback for any
// unrecognised kind.
func New(kind Kind) Backend {
	switch kind {
	case Ghostty:
		return ghosttyBackend{}
	case ITerm:
		return appleScriptBackend{app: "iTerm"}
	case TerminalApp:
		return appleScriptBackend{app: "Terminal"}
	default:
		return nativeBackend{}
	}
}

// shellQuote wraps a string in single quotes, escaping embedded single
// quotes, grounded on kojo's internal/session/tmux.go shellQuote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// nativeBackend runs the command directly via os/exec with no terminal
// emulator window, the fallback TerminalKind when no GUI app is
// configured or available.
type nativeBackend struct{}

func (nativeBackend) Name() string        { return "native" }
func (nativeBackend) DisplayName() string { return "Native" }
func (nativeBackend) IsAvailable() bool   { return true }

func (nativeBackend) Spawn(cfg SpawnConfig) (string, int, error) {
	cmd := exec.Command("sh", "-c", cfg.Command)
	cmd.Dir = cfg.WorkDir
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return "", 0, kilderr.Wrap(kilderr.CodeTerminalError, "native terminal spawn failed", err)
	}
	pid := cmd.Process.Pid
	go cmd.Wait() // reap; native backend doesn't track exit status itself
	return strconv.Itoa(pid), pid, nil
}

func (nativeBackend) Close(windowID string) {
	pid, err := strconv.Atoi(windowID)
	if err != nil {
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
}

func (nativeBackend) Focus(string) error {
	return kilderr.New(kilderr.CodeTerminalError, "native backend has no window to focus")
}

func (nativeBackend) IsOpen(windowID string) bool {
	pid, err := strconv.Atoi(windowID)
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// ghosttyBackend spawns Ghostty.app via `open -na`, per
// terminal/backends/ghostty.rs's execute_spawn. Ghostty has no
// AppleScript dictionary, so close/is_open go through pkill/pgrep
// against the window title embedded in the spawned shell's command
// line, exactly as the original does; focus only activates the app
// through osascript.
type ghosttyBackend struct{}

func (ghosttyBackend) Name() string        { return "ghostty" }
func (ghosttyBackend) DisplayName() string { return "Ghostty" }
func (ghosttyBackend) IsAvailable() bool   { return appExistsMacOS("Ghostty") }

func (ghosttyBackend) Spawn(cfg SpawnConfig) (string, int, error) {
	title := cfg.Title
	if title == "" {
		title = "kild-session"
	}
	script := fmt.Sprintf("cd %s && %s # %s", shellQuote(cfg.WorkDir), cfg.Command, title)
	cmd := exec.Command("open", "-na", "Ghostty.app", "--args", "-e", "sh", "-c", script)
	if err := cmd.Run(); err != nil {
		return "", 0, kilderr.Wrap(kilderr.CodeTerminalError, "ghostty spawn failed", err)
	}
	return title, 0, nil
}

func (ghosttyBackend) Close(windowID string) {
	if windowID == "" {
		return
	}
	_ = exec.Command("pkill", "-f", "Ghostty.*"+windowID).Run()
}

func (ghosttyBackend) Focus(string) error {
	return exec.Command("osascript", "-e", `tell application "Ghostty" to activate`).Run()
}

func (ghosttyBackend) IsOpen(windowID string) bool {
	if windowID == "" {
		return false
	}
	return exec.Command("pgrep", "-f", "Ghostty.*"+windowID).Run() == nil
}

// appleScriptBackend drives iTerm/Terminal.app via osascript `do
// script`, per terminal/native/macos.rs's general pattern of shelling
// out to osascript for spawn/focus.
type appleScriptBackend struct{ app string }

func (b appleScriptBackend) Name() string        { return strings.ToLower(b.app) }
func (b appleScriptBackend) DisplayName() string { return b.app }
func (b appleScriptBackend) IsAvailable() bool   { return appExistsMacOS(b.app) }

func (b appleScriptBackend) Spawn(cfg SpawnConfig) (string, int, error) {
	cdCmd := fmt.Sprintf("cd %s && %s", shellQuote(cfg.WorkDir), cfg.Command)
	script := fmt.Sprintf(`tell application %q
		set w to do script %q
		return id of window 1
	end tell`, b.app, cdCmd)
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return "", 0, kilderr.Wrap(kilderr.CodeTerminalError, b.app+" spawn failed", err)
	}
	return strings.TrimSpace(string(out)), 0, nil
}

func (b appleScriptBackend) Close(windowID string) {
	if windowID == "" {
		return
	}
	script := fmt.Sprintf(`tell application %q to close (every window whose id is %s)`, b.app, windowID)
	_ = exec.Command("osascript", "-e", script).Run()
}

func (b appleScriptBackend) Focus(windowID string) error {
	script := fmt.Sprintf(`tell application %q to activate`, b.app)
	return exec.Command("osascript", "-e", script).Run()
}

func (b appleScriptBackend) IsOpen(windowID string) bool {
	if windowID == "" {
		return false
	}
	script := fmt.Sprintf(`tell application %q to (exists window id %s)`, b.app, windowID)
	out, err := exec.Command("osascript", "-e", script).Output()
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// appExistsMacOS checks for an installed GUI app, grounded on
// ghostty.rs's app_exists_macos.
func appExistsMacOS(name string) bool {
	for _, dir := range []string{"/Applications", "/System/Applications"} {
		if info, err := os.Stat(dir + "/" + name + ".app"); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
