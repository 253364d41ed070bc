// Execution engine for parsed tmux commands: translates each Command
// into internal/ipc calls against the single real daemon PTY session,
// reading and writing the PaneRegistry as needed.
//
// Grounded on original_source/crates/kild-tmux-shim/src/commands.rs's
// handle_* functions, translated handler-for-handler into Go.
package shim

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kildhq/kild/internal/config"
	"github.com/kildhq/kild/internal/ipc"
	"github.com/kildhq/kild/internal/kilderr"
)

// Engine executes parsed Commands against one outer daemon session's
// shim state.
type Engine struct {
	ctx    *config.Context
	client *ipc.Client
	store  *Store
	out    io.Writer
}

func NewEngine(ctx *config.Context) *Engine {
	return &Engine{
		ctx:    ctx,
		client: ipc.NewClient(ctx.SocketPath),
		store:  NewStore(ctx.ShimDir),
		out:    os.Stdout,
	}
}

// Execute runs cmd and returns the process exit code tmux itself would
// use (0 success, 1 for has-session's "not found", nonzero on error).
func (e *Engine) Execute(cmd *Command) (int, error) {
	switch cmd.Kind {
	case KindVersion:
		fmt.Fprintln(e.out, "tmux 3.4")
		return 0, nil
	case KindSplitWindow:
		return e.handleSplitWindow(cmd.SplitWindow)
	case KindSendKeys:
		return e.handleSendKeys(cmd.SendKeys)
	case KindListPanes:
		return e.handleListPanes(cmd.ListPanes)
	case KindKillPane:
		return e.handleKillPane(cmd.KillPane)
	case KindDisplayMessage:
		return e.handleDisplayMessage(cmd.DisplayMessage)
	case KindSelectPane:
		return e.handleSelectPane(cmd.SelectPane)
	case KindSetOption:
		return e.handleSetOption(cmd.SetOption)
	case KindSelectLayout:
		return 0, nil // layout is meaningless without a real multiplexer
	case KindResizePane:
		return 0, nil // MVP: could forward resize_pty in the future
	case KindHasSession:
		return e.handleHasSession(cmd.HasSession)
	case KindNewSession:
		return e.handleNewSession(cmd.NewSession)
	case KindNewWindow:
		return e.handleNewWindow(cmd.NewWindow)
	case KindListWindows:
		return e.handleListWindows(cmd.ListWindows)
	case KindBreakPane:
		return e.handleBreakPane(cmd.BreakPane)
	case KindJoinPane:
		return e.handleJoinPane(cmd.JoinPane)
	default:
		return 1, kilderr.ClientError("tmux: unsupported command")
	}
}

func sessionID() (string, error) {
	sid := os.Getenv("KILD_SHIM_SESSION")
	if sid == "" {
		return "", kilderr.NotRunning(
			"not running inside a kild daemon session. " +
				"This tmux binary is a shim for agent teams. " +
				"Use 'kild create --daemon' to start a session, " +
				"or use the system tmux at /usr/bin/tmux.")
	}
	return sid, nil
}

func currentPaneID() string {
	if p := os.Getenv("TMUX_PANE"); p != "" {
		return p
	}
	return "%0"
}

// resolvePaneID accepts a direct "%N" id, a "session:window.%N"
// target, or falls back to the current pane.
func resolvePaneID(target *string) string {
	if target == nil {
		return currentPaneID()
	}
	t := *target
	if strings.HasPrefix(t, "%") {
		return t
	}
	if dot := strings.LastIndexByte(t, '.'); dot >= 0 {
		panePart := t[dot+1:]
		if strings.HasPrefix(panePart, "%") {
			return panePart
		}
	}
	return currentPaneID()
}

func (e *Engine) buildChildEnv() map[string]string {
	env := make(map[string]string)
	for _, key := range []string{"PATH", "HOME", "SHELL", "USER", "LANG", "TERM"} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}

	kildBin := e.ctx.ShimBinPath[:strings.LastIndexByte(e.ctx.ShimBinPath, '/')]
	current := env["PATH"]
	if !pathHasComponent(current, kildBin) {
		if current == "" {
			env["PATH"] = kildBin
		} else {
			env["PATH"] = kildBin + ":" + current
		}
	}

	if v, ok := os.LookupEnv("TMUX"); ok {
		env["TMUX"] = v
	}
	if v, ok := os.LookupEnv("KILD_SHIM_SESSION"); ok {
		env["KILD_SHIM_SESSION"] = v
	}
	return env
}

func pathHasComponent(path, component string) bool {
	for _, part := range strings.Split(path, ":") {
		if part == component {
			return true
		}
	}
	return false
}

func shellCommand() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

// createPtyPane allocates a pane id, asks the daemon to spawn a shell
// PTY for it, and registers it under windowID.
func (e *Engine) createPtyPane(reg *PaneRegistry, windowID string) (string, error) {
	sid, err := sessionID()
	if err != nil {
		return "", err
	}
	paneID := allocatePaneID(reg)
	daemonSessionIndex := reg.NextPaneID - 1
	daemonSessionID := fmt.Sprintf("%s_shim_%d", sid, daemonSessionIndex)

	cwd, err := os.Getwd()
	if err != nil {
		cwd = os.Getenv("HOME")
		if cwd == "" {
			cwd = "/"
		}
	}

	env := e.buildChildEnv()
	env["TMUX_PANE"] = paneID

	if _, err := e.client.CreatePtySession(daemonSessionID, cwd, shellCommand(), nil, env, 24, 80, true); err != nil {
		return "", err
	}

	reg.Panes[paneID] = &PaneEntry{DaemonSessionID: daemonSessionID, WindowID: windowID}
	if w, ok := reg.Windows[windowID]; ok {
		w.PaneIDs = append(w.PaneIDs, paneID)
	}
	return paneID, nil
}

func (e *Engine) handleSplitWindow(a *SplitWindowArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	var paneID, windowID, sessionName, windowName string
	err = e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		parent := resolvePaneID(a.Target)
		windowID = "0"
		if p, ok := reg.Panes[parent]; ok {
			windowID = p.WindowID
		}
		var createErr error
		paneID, createErr = e.createPtyPane(reg, windowID)
		if createErr != nil {
			return createErr
		}
		sessionName = reg.SessionName
		windowName = "main"
		if w, ok := reg.Windows[windowID]; ok {
			windowName = w.Name
		}
		return nil
	})
	if err != nil {
		return 1, err
	}
	if a.PrintInfo {
		format := "#{pane_id}"
		if a.Format != nil {
			format = *a.Format
		}
		fmt.Fprintln(e.out, expandFormat(format, paneID, sessionName, windowID, windowName, ""))
	}
	return 0, nil
}

func (e *Engine) handleSendKeys(a *SendKeysArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	reg, err := e.store.Load(sid)
	if err != nil {
		return 1, err
	}
	paneID := resolvePaneID(a.Target)
	pane, ok := reg.Panes[paneID]
	if !ok {
		return 1, kilderr.NotRunning(fmt.Sprintf("pane %s not found in registry", paneID))
	}
	if err := e.client.WriteStdin(pane.DaemonSessionID, translateKeys(a.Keys)); err != nil {
		return 1, err
	}
	return 0, nil
}

func (e *Engine) handleListPanes(a *ListPanesArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	reg, err := e.store.Load(sid)
	if err != nil {
		return 1, err
	}
	format := "#{pane_id}"
	if a.Format != nil {
		format = *a.Format
	}
	var targetWindow string
	if a.Target != nil {
		parts := strings.SplitN(*a.Target, ":", 2)
		if len(parts) == 2 {
			targetWindow = parts[1]
		}
	}
	for _, paneID := range sortedPaneIDs(reg.Panes) {
		pane := reg.Panes[paneID]
		if pane.Hidden {
			continue
		}
		if targetWindow != "" && pane.WindowID != targetWindow {
			continue
		}
		windowName := ""
		if w, ok := reg.Windows[pane.WindowID]; ok {
			windowName = w.Name
		}
		fmt.Fprintln(e.out, expandFormat(format, paneID, reg.SessionName, pane.WindowID, windowName, pane.Title))
	}
	return 0, nil
}

func (e *Engine) handleKillPane(a *KillPaneArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	return 0, e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		paneID := resolvePaneID(a.Target)
		pane, ok := reg.Panes[paneID]
		if !ok {
			return kilderr.NotRunning(fmt.Sprintf("pane %s not found in registry", paneID))
		}
		if err := e.client.DestroyDaemonSession(pane.DaemonSessionID, true); err != nil {
			// daemon-unreachable is safe to treat as "already dead"
			// (asError already collapses not-found responses to nil);
			// any other error leaves the registry entry in place to
			// avoid orphaning a live PTY.
			type errorCoder interface{ ErrorCode() string }
			coder, ok := err.(errorCoder)
			if !ok || coder.ErrorCode() != string(kilderr.CodeNotRunning) {
				return fmt.Errorf("failed to destroy pane %s: %w", paneID, err)
			}
		}
		reg.removePane(paneID)
		return nil
	})
}

func (e *Engine) handleDisplayMessage(a *DisplayMsgArgs) (int, error) {
	format := ""
	if a.Format != nil {
		format = *a.Format
	}
	paneID := currentPaneID()

	switch {
	case format == "#{pane_id}":
		fmt.Fprintln(e.out, paneID)
	case strings.Contains(format, "#{session_name}") || strings.Contains(format, "#{window_index}") ||
		strings.Contains(format, "#{window_name}") || strings.Contains(format, "#{pane_title}"):
		sid, err := sessionID()
		if err != nil {
			return 1, err
		}
		reg, err := e.store.Load(sid)
		if err != nil {
			return 1, err
		}
		windowID := "0"
		title := ""
		if p, ok := reg.Panes[paneID]; ok {
			windowID = p.WindowID
			title = p.Title
		}
		windowName := "main"
		if w, ok := reg.Windows[windowID]; ok {
			windowName = w.Name
		}
		fmt.Fprintln(e.out, expandFormat(format, paneID, reg.SessionName, windowID, windowName, title))
	default:
		fmt.Fprintln(e.out, format)
	}
	return 0, nil
}

func (e *Engine) handleSelectPane(a *SelectPaneArgs) (int, error) {
	if a.Style == nil && a.Title == nil {
		return 0, nil // focus is a no-op in the shim
	}
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	return 0, e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		paneID := resolvePaneID(a.Target)
		pane, ok := reg.Panes[paneID]
		if !ok {
			return nil
		}
		if a.Style != nil {
			pane.BorderStyle = *a.Style
		}
		if a.Title != nil {
			pane.Title = *a.Title
		}
		return nil
	})
}

func (e *Engine) handleSetOption(a *SetOptionArgs) (int, error) {
	if a.Scope != ScopePane {
		return 0, nil // window/session options are no-ops
	}
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	return 0, e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		paneID := resolvePaneID(a.Target)
		pane, ok := reg.Panes[paneID]
		if !ok {
			return nil
		}
		if a.Key == "pane-border-style" || strings.HasSuffix(a.Key, "-style") {
			pane.BorderStyle = a.Value
		}
		return nil
	})
}

func (e *Engine) handleHasSession(a *HasSessionArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	reg, err := e.store.Load(sid)
	if err != nil {
		return 1, err
	}
	if _, ok := reg.Sessions[a.Target]; ok {
		return 0, nil
	}
	return 1, nil
}

func (e *Engine) handleNewSession(a *NewSessionArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	var paneID, sessionName string
	err = e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		sessionName = fmt.Sprintf("kild_%d", len(reg.Sessions))
		if a.SessionName != nil {
			sessionName = *a.SessionName
		}
		windowName := "main"
		if a.WindowName != nil {
			windowName = *a.WindowName
		}
		windowID := fmt.Sprintf("%d", len(reg.Windows))
		reg.Windows[windowID] = &WindowEntry{Name: windowName}

		var createErr error
		paneID, createErr = e.createPtyPane(reg, windowID)
		if createErr != nil {
			return createErr
		}

		reg.Sessions[sessionName] = &SessionEntry{Name: sessionName, Windows: []string{windowID}}
		return nil
	})
	if err != nil {
		return 1, err
	}
	if a.PrintInfo {
		format := "#{pane_id}"
		if a.Format != nil {
			format = *a.Format
		}
		fmt.Fprintln(e.out, expandFormat(format, paneID, sessionName, "0", "main", ""))
	}
	return 0, nil
}

func (e *Engine) handleNewWindow(a *NewWindowArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	var paneID, windowID, windowName, sessionKey string
	err = e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		windowName = "window"
		if a.Name != nil {
			windowName = *a.Name
		}
		windowID = fmt.Sprintf("%d", len(reg.Windows))
		reg.Windows[windowID] = &WindowEntry{Name: windowName}

		var createErr error
		paneID, createErr = e.createPtyPane(reg, windowID)
		if createErr != nil {
			return createErr
		}

		sessionKey = reg.SessionName
		if a.Target != nil {
			sessionKey = strings.SplitN(*a.Target, ":", 2)[0]
		}
		if session, ok := reg.Sessions[sessionKey]; ok {
			session.Windows = append(session.Windows, windowID)
		}
		return nil
	})
	if err != nil {
		return 1, err
	}
	if a.PrintInfo {
		format := "#{pane_id}"
		if a.Format != nil {
			format = *a.Format
		}
		fmt.Fprintln(e.out, expandFormat(format, paneID, sessionKey, windowID, windowName, ""))
	}
	return 0, nil
}

func (e *Engine) handleListWindows(a *ListWindowsArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	reg, err := e.store.Load(sid)
	if err != nil {
		return 1, err
	}
	format := "#{window_name}"
	if a.Format != nil {
		format = *a.Format
	}

	var windowFilter map[string]bool
	if a.Target != nil {
		sname := strings.SplitN(*a.Target, ":", 2)[0]
		if session, ok := reg.Sessions[sname]; ok {
			windowFilter = make(map[string]bool, len(session.Windows))
			for _, w := range session.Windows {
				windowFilter[w] = true
			}
		}
	}

	for _, windowID := range sortedWindowIDs(reg.Windows) {
		if windowFilter != nil && !windowFilter[windowID] {
			continue
		}
		window := reg.Windows[windowID]
		fmt.Fprintln(e.out, expandFormat(format, "", reg.SessionName, windowID, window.Name, ""))
	}
	return 0, nil
}

func (e *Engine) handleBreakPane(a *BreakPaneArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	return 0, e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		paneID := resolvePaneID(a.Source)
		if pane, ok := reg.Panes[paneID]; ok {
			pane.Hidden = true
		}
		return nil
	})
}

func (e *Engine) handleJoinPane(a *JoinPaneArgs) (int, error) {
	sid, err := sessionID()
	if err != nil {
		return 1, err
	}
	return 0, e.store.WithRegistry(sid, func(reg *PaneRegistry) error {
		paneID := resolvePaneID(a.Source)
		if pane, ok := reg.Panes[paneID]; ok {
			pane.Hidden = false
		}
		return nil
	})
}
