// Package config centralises the "global mutable state" design note of
// spec §9: one SystemContext struct, built once at process startup and
// threaded explicitly through every constructor instead of relying on
// package-level globals.
package config

import (
	"log/slog"
	"os"
	"path/filepath"
)

// Context bundles every path and shared dependency a KILD component
// needs, per spec §6.
type Context struct {
	HomeDir         string
	KildDir         string
	SocketPath      string
	SessionsDir     string
	WorktreesDir    string
	ShimDir         string
	ShimBinPath     string
	ProjectCacheDB  string
	Logger          *slog.Logger
}

// socketPathEnv overrides the daemon socket path (spec §6.1: "override
// via env").
const socketPathEnv = "KILD_DAEMON_SOCKET"

// New builds a Context from the environment, the way kojo's main.go
// derives its config directory from $HOME.
func New(logger *slog.Logger) (*Context, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	base := filepath.Join(home, ".kild")

	socketPath := os.Getenv(socketPathEnv)
	if socketPath == "" {
		socketPath = filepath.Join(base, "daemon.sock")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return &Context{
		HomeDir:        home,
		KildDir:        base,
		SocketPath:     socketPath,
		SessionsDir:    filepath.Join(base, "sessions"),
		WorktreesDir:   filepath.Join(base, "worktrees"),
		ShimDir:        filepath.Join(base, "shim"),
		ShimBinPath:    filepath.Join(base, "bin", "tmux"),
		ProjectCacheDB: filepath.Join(base, "projects.db"),
		Logger:         logger,
	}, nil
}

// EnsureDirs creates every on-disk directory this Context references.
func (c *Context) EnsureDirs() error {
	for _, dir := range []string{
		filepath.Dir(c.SocketPath),
		c.SessionsDir,
		c.WorktreesDir,
		c.ShimDir,
		filepath.Dir(c.ShimBinPath),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
