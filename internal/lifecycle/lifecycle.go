// Package lifecycle implements the client-side session lifecycle engine
// of spec §4.8: validate a create request, detect the enclosing Git
// project, allocate a port range, create a worktree, ask the daemon to
// spawn a PTY, and persist the session record — plus the inverse
// destroy flow and the supplemental DestroySafetyInfo report.
//
// Grounded on original_source/crates/kild-core/src/sessions/create.rs
// and destroy.rs for step ordering and error handling, and on kojo's
// internal/session/manager.go Create/Restart/Stop for the Go idiom of
// composing validate -> side effects -> persist.
package lifecycle

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/kildhq/kild/internal/config"
	"github.com/kildhq/kild/internal/gitrepo"
	"github.com/kildhq/kild/internal/ipc"
	"github.com/kildhq/kild/internal/kilderr"
	"github.com/kildhq/kild/internal/ports"
	"github.com/kildhq/kild/internal/process"
	"github.com/kildhq/kild/internal/projectcache"
	"github.com/kildhq/kild/internal/store"
	"github.com/kildhq/kild/internal/terminal"
)

// Config tunes engine behavior. EarlyExitProbe resolves spec §9 open
// question 3: the 200ms heuristic is kept as the default but made
// overridable.
type Config struct {
	DefaultPortCount int
	BasePortRange    int
	EarlyExitProbe   time.Duration
	IncludePatterns  []string
}

// DefaultConfig mirrors the literal constants used in spec §8's worked
// scenarios.
func DefaultConfig() Config {
	return Config{
		DefaultPortCount: 10,
		BasePortRange:    3000,
		EarlyExitProbe:   200 * time.Millisecond,
	}
}

// Engine composes the building blocks into the two top-level flows of
// spec §4.8.
type Engine struct {
	ctx      *config.Context
	cfg      Config
	client   *ipc.Client
	store    *store.Store
	cache    *projectcache.Cache
}

func New(ctx *config.Context, cfg Config, cache *projectcache.Cache) *Engine {
	return &Engine{
		ctx:    ctx,
		cfg:    cfg,
		client: ipc.NewClient(ctx.SocketPath),
		store:  store.New(ctx.SessionsDir, ctx.Logger),
		cache:  cache,
	}
}

// AgentMode selects how the spawned process is chosen, per spec §4.8
// step 1.
type AgentMode struct {
	BareShell bool
	Agent     string // empty unless an explicit agent was requested
}

// CreateRequest is the input to CreateSession.
type CreateRequest struct {
	Branch      string
	AgentMode   AgentMode
	AgentCmd    string // resolved command line for AgentMode.Agent, supplied by the CLI layer
	ProjectPath string // explicit project path (GUI); empty means "use cwd" (CLI)
	Note        string

	// DisableLoginShell opts a session out of the default login-shell
	// wrapping (spec §4.2's use_login_shell), grounded on kojo's
	// internal/session/manager.go startTmuxAttach, which unconditionally
	// wraps every launched tool in the user's login shell so PATH, SSH
	// agent, and credential helpers match a real terminal. Left false
	// (the zero value) for every caller that doesn't need the opt-out.
	DisableLoginShell bool

	// Runtime selects Daemon (default) vs Terminal runtime mode, per
	// spec §3/§4.8 step 8. The zero value ("") is treated as
	// store.RuntimeDaemon.
	Runtime store.RuntimeMode
	// TerminalKind selects the backend when Runtime is RuntimeTerminal.
	// The zero value resolves to terminal.Native.
	TerminalKind terminal.Kind
}

// resumeCapableAgents lists agent names whose CLI accepts --session-id
// for conversation resumption, per spec §4.8 step 2.
var resumeCapableAgents = map[string]bool{
	"claude": true,
}

func supportsResume(agent string) bool { return resumeCapableAgents[agent] }

// CreateSession runs spec §4.8's nine-step create flow.
func (e *Engine) CreateSession(req CreateRequest) (*store.Session, error) {
	agent, command, err := e.resolveAgent(req)
	if err != nil {
		return nil, err
	}

	var agentSessionID string
	if supportsResume(agent) {
		agentSessionID = uuid.NewString()
		command = fmt.Sprintf("%s --session-id %s", command, agentSessionID)
	}

	if err := gitrepo.ValidateBranchName(req.Branch); err != nil {
		return nil, err
	}

	startPath := req.ProjectPath
	if startPath == "" {
		startPath, err = os.Getwd()
		if err != nil {
			return nil, kilderr.IoError(err)
		}
	}
	repo, projectRoot, err := gitrepo.DiscoverRepo(startPath)
	if err != nil {
		return nil, err
	}
	projectID, err := e.projectID(projectRoot)
	if err != nil {
		return nil, err
	}
	sessionID := projectID + "/" + req.Branch

	existing, err := e.existingRanges(projectID)
	if err != nil {
		return nil, err
	}
	portRange, err := ports.Allocate(existing, e.cfg.DefaultPortCount, e.cfg.BasePortRange)
	if err != nil {
		return nil, err
	}

	// Pre-emptive cleanup of debris from a previously crashed run.
	// Daemon-not-running and session-not-found are expected and ignored.
	_ = e.client.DestroyDaemonSession(sessionID, true)

	branchExists, err := gitrepo.BranchExists(repo, req.Branch)
	if err != nil {
		return nil, err
	}
	projectName := projectNameFromPath(projectRoot)
	currentBranch, _ := gitrepo.CurrentBranch(repo)
	worktreePath := gitrepo.WorktreePath(e.ctx.WorktreesDir, projectName, req.Branch, req.Branch == currentBranch)
	if err := gitrepo.CreateWorktree(projectRoot, worktreePath, req.Branch, branchExists); err != nil {
		return nil, err
	}
	for _, failure := range gitrepo.CopyIncludeFiles(projectRoot, worktreePath, e.cfg.IncludePatterns) {
		e.ctx.Logger.Warn("failed to copy include-pattern file into worktree",
			"event", "lifecycle.create.include_copy_failed", "session_id", sessionID, "error", failure)
	}

	runtimeMode := req.Runtime
	if runtimeMode == "" {
		runtimeMode = store.RuntimeDaemon
	}

	var agentProc store.AgentProcess
	if runtimeMode == store.RuntimeTerminal {
		agentProc, err = e.launchTerminal(req, sessionID, worktreePath, command)
	} else {
		agentProc, err = e.launchDaemon(sessionID, worktreePath, command, !req.DisableLoginShell)
	}
	if err != nil {
		_ = e.client.DestroyDaemonSession(sessionID, true)
		_ = gitrepo.RemoveWorktree(projectRoot, worktreePath, true)
		return nil, err
	}

	now := time.Now()
	agentProc.Agent = agent
	agentProc.SpawnID = sessionID + "_0"
	agentProc.Command = command
	agentProc.CreatedAt = now
	sess := &store.Session{
		SessionID:      sessionID,
		ProjectID:      projectID,
		Branch:         req.Branch,
		WorktreePath:   worktreePath,
		AgentName:      agent,
		Status:         store.StatusActive,
		CreatedAt:      now,
		PortRangeStart: portRange.Start,
		PortRangeEnd:   portRange.End,
		PortCount:      e.cfg.DefaultPortCount,
		LastActivity:   now,
		Note:           req.Note,
		RuntimeMode:    runtimeMode,
		Processes:      []store.AgentProcess{agentProc},
	}

	if err := e.store.Save(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// launchDaemon implements spec §4.8 step 8's Daemon runtime mode: ask
// the daemon for a PTY, probe for an early exit, and fill in the
// AgentProcess record's process identity so a later non-force destroy
// can verify it's signalling the right PID (spec §5's PID-reuse check).
func (e *Engine) launchDaemon(sessionID, worktreePath, command string, useLoginShell bool) (store.AgentProcess, error) {
	info, err := e.client.CreatePtySession(sessionID, worktreePath, command, nil, e.buildEnv(sessionID), 24, 80, useLoginShell)
	if err != nil {
		return store.AgentProcess{}, err
	}

	time.Sleep(e.cfg.EarlyExitProbe)
	if status, statusErr := e.client.GetSessionInfo(sessionID); statusErr == nil && status != nil && status.Status == "stopped" {
		tail, _ := e.client.ReadScrollback(sessionID)
		_ = e.client.DestroyDaemonSession(sessionID, true)
		exitCode := 0
		if status.ExitCode != nil {
			exitCode = *status.ExitCode
		}
		return store.AgentProcess{}, &kilderr.PtyExitedEarly{ExitCode: exitCode, ScrollbackTail: scrollbackTail(tail, 20)}
	}

	pid := info.PID
	proc := store.AgentProcess{ProcessID: &pid, DaemonSessionID: sessionID}
	e.fillProcessIdentity(&proc, pid)
	return proc, nil
}

// launchTerminal implements spec §4.8 step 8's Terminal runtime mode:
// spawn an external terminal application at the worktree path, per
// spec §3's AgentProcess.terminal_type/terminal_window_id fields.
func (e *Engine) launchTerminal(req CreateRequest, sessionID, worktreePath, command string) (store.AgentProcess, error) {
	kind := req.TerminalKind
	if kind == "" {
		kind = terminal.Native
	}
	backend := terminal.New(kind)
	windowID, pid, err := backend.Spawn(terminal.SpawnConfig{WorkDir: worktreePath, Command: command, Title: sessionID})
	if err != nil {
		return store.AgentProcess{}, err
	}

	proc := store.AgentProcess{TerminalType: string(kind), TerminalWindowID: windowID}
	if pid > 0 {
		proc.ProcessID = &pid
		e.fillProcessIdentity(&proc, pid)
	}
	return proc, nil
}

// fillProcessIdentity records the live (name, start_time) identity of a
// just-spawned PID onto proc so a later process.Kill/VerifyIdentity call
// (spec §5's PID-reuse safety) has something real to compare against
// instead of matching an empty recorded name against every live
// process. A failure here is logged and left empty rather than failing
// session creation: the identity is best-effort observability, per
// spec §4.2's note that the PID is for "observability and cleanup
// hints only".
func (e *Engine) fillProcessIdentity(proc *store.AgentProcess, pid int) {
	identity, err := process.LiveIdentity(pid)
	if err != nil {
		e.ctx.Logger.Warn("failed to read live process identity right after spawn",
			"event", "lifecycle.create.identity_read_failed", "pid", pid, "error", err)
		return
	}
	proc.ProcessName = identity.Name
	proc.ProcessStartTime = identity.StartTime
}

// resolveAgent picks the shell or agent command per spec §4.8 step 1,
// warning (non-fatally) if the binary is not on PATH.
func (e *Engine) resolveAgent(req CreateRequest) (agent, command string, err error) {
	if req.AgentMode.BareShell {
		shell := os.Getenv("SHELL")
		if shell == "" {
			e.ctx.Logger.Warn("$SHELL not set, falling back to /bin/sh", "event", "lifecycle.create.shell_env_missing")
			shell = "/bin/sh"
		}
		return "shell", shell, nil
	}

	name := req.AgentMode.Agent
	command = req.AgentCmd
	if command == "" {
		return "", "", kilderr.ClientError("no command configured for agent: " + name)
	}
	if _, lookErr := exec.LookPath(firstToken(command)); lookErr != nil {
		e.ctx.Logger.Warn("agent CLI not found in PATH, session may fail to start",
			"event", "lifecycle.create.agent_not_available", "agent", name)
	}
	return name, command, nil
}

func firstToken(s string) string {
	for i, r := range s {
		if r == ' ' {
			return s[:i]
		}
	}
	return s
}

// buildEnv curates the child environment, including the shim discovery
// variable and PATH prefix of spec §6.3/§6.4.
func (e *Engine) buildEnv(sessionID string) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		for i, r := range kv {
			if r == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	env["KILD_SHIM_SESSION"] = sessionID
	shimBinDir := shimBinDir(e.ctx.ShimBinPath)
	if path, ok := env["PATH"]; ok && !pathContains(path, shimBinDir) {
		env["PATH"] = shimBinDir + ":" + path
	} else if !ok {
		env["PATH"] = shimBinDir
	}
	return env
}

func shimBinDir(shimBinPath string) string {
	for i := len(shimBinPath) - 1; i >= 0; i-- {
		if shimBinPath[i] == '/' {
			return shimBinPath[:i]
		}
	}
	return shimBinPath
}

func pathContains(path, dir string) bool {
	for _, entry := range splitPath(path) {
		if entry == dir {
			return true
		}
	}
	return false
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == ':' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return parts
}

func (e *Engine) projectID(projectRoot string) (string, error) {
	if e.cache != nil {
		return e.cache.ProjectID(projectRoot)
	}
	return projectcache.ComputeProjectID(projectRoot), nil
}

func (e *Engine) existingRanges(projectID string) ([]ports.Range, error) {
	result, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	var ranges []ports.Range
	for _, s := range result.Sessions {
		if s.ProjectID != projectID {
			continue
		}
		ranges = append(ranges, ports.Range{Start: s.PortRangeStart, End: s.PortRangeEnd})
	}
	return ranges, nil
}

// DestroySession runs spec §4.8's destroy flow.
func (e *Engine) DestroySession(name string, force bool) error {
	sess, err := e.store.FindByBranch(name)
	if err != nil {
		return err
	}
	if sess == nil {
		return kilderr.SessionNotFound(name)
	}

	// Destroy step 2: close any terminal windows before touching
	// processes, per spec §4.8 destroy step 2. Fire-and-forget: a
	// terminal that failed to close is never a reason to abort destroy.
	for _, agentProc := range sess.Processes {
		if agentProc.TerminalType == "" || agentProc.TerminalWindowID == "" {
			continue
		}
		terminal.New(terminal.Kind(agentProc.TerminalType)).Close(agentProc.TerminalWindowID)
	}

	var killErrors []string
	for _, agentProc := range sess.Processes {
		if agentProc.ProcessID == nil {
			continue
		}
		identity := process.Identity{PID: *agentProc.ProcessID, Name: agentProc.ProcessName, StartTime: agentProc.ProcessStartTime}
		err := process.Kill(identity, syscall.SIGTERM)
		if err == nil {
			continue
		}
		if force {
			e.ctx.Logger.Warn("process kill failed, continuing under force",
				"event", "lifecycle.destroy.kill_failed_force_continue", "pid", identity.PID, "error", err)
			continue
		}
		killErrors = append(killErrors, fmt.Sprintf("%d: %v", identity.PID, err))
	}
	if agentProc := daemonSpawn(sess); agentProc != nil {
		_ = e.client.DestroyDaemonSession(agentProc.DaemonSessionID, force)
	}

	if len(killErrors) > 0 && !force {
		msg := fmt.Sprintf("%d process(es) still running. Kill them manually or use --force: %v", len(killErrors), killErrors)
		return kilderr.ClientError(msg)
	}

	repo, projectRoot, repoErr := gitrepo.DiscoverRepo(sess.WorktreePath)
	if repoErr != nil {
		projectRoot = sess.WorktreePath
		_ = repo
	}
	if err := gitrepo.RemoveWorktree(projectRoot, sess.WorktreePath, force); err != nil {
		return err
	}

	// best-effort: surface any sidecars for forensic logging
	if sidecars := e.store.LoadSidecars(sess.SessionID); len(sidecars) > 0 {
		e.ctx.Logger.Info("session sidecars present at destroy",
			"event", "core.session.destroy_sidecars", "session_id", sess.SessionID, "count", len(sidecars))
	}
	if err := e.store.Remove(sess.SessionID); err != nil {
		return err
	}
	return nil
}

func daemonSpawn(sess *store.Session) *store.AgentProcess {
	for i := range sess.Processes {
		if sess.Processes[i].DaemonSessionID != "" {
			return &sess.Processes[i]
		}
	}
	return nil
}

// SafetyInfo is the supplemental DestroySafetyInfo report of
// SPEC_FULL.md §E.2: what would be lost by destroying this session.
type SafetyInfo struct {
	HasUncommittedChanges bool
	StatusCheckFailed     bool
	LiveProcessPIDs       []int
}

// ShouldBlock reports whether a non-forced destroy would refuse to
// proceed.
func (s *SafetyInfo) ShouldBlock() bool {
	return s.HasUncommittedChanges || len(s.LiveProcessPIDs) > 0
}

// DestroySafetyInfo gathers destroy-time risk information without
// performing any destructive action, per SPEC_FULL.md §E.2. On any
// check failure the conservative fallback is "dirty" (assume unsafe),
// matching destroy.rs's own stated fallback policy.
func (e *Engine) DestroySafetyInfo(name string) (*SafetyInfo, error) {
	sess, err := e.store.FindByBranch(name)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, kilderr.SessionNotFound(name)
	}

	info := &SafetyInfo{}
	if _, statErr := os.Stat(sess.WorktreePath); statErr != nil {
		info.HasUncommittedChanges = true
		info.StatusCheckFailed = true
	} else if dirty, dirtyErr := gitrepo.IsDirty(sess.WorktreePath); dirtyErr != nil {
		info.HasUncommittedChanges = true
		info.StatusCheckFailed = true
	} else {
		info.HasUncommittedChanges = dirty
	}

	for _, agentProc := range sess.Processes {
		if agentProc.ProcessID == nil {
			continue
		}
		identity := process.Identity{PID: *agentProc.ProcessID, Name: agentProc.ProcessName, StartTime: agentProc.ProcessStartTime}
		if verifyErr := process.VerifyIdentity(identity); verifyErr == nil {
			info.LiveProcessPIDs = append(info.LiveProcessPIDs, identity.PID)
		}
	}
	return info, nil
}

func projectNameFromPath(root string) string {
	for i := len(root) - 1; i >= 0; i-- {
		if root[i] == '/' {
			return root[i+1:]
		}
	}
	return root
}

func scrollbackTail(data []byte, lines int) string {
	if len(data) == 0 {
		return ""
	}
	s := string(data)
	count := 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			count++
			if count > lines {
				return s[i+1:]
			}
		}
	}
	return s
}
