// Command tmux is the kild shim binary: a drop-in tmux replacement
// that agent CLIs invoke inside a daemon session. It is installed at
// ~/.kild/bin/tmux and put ahead of the real tmux on PATH for spawned
// processes (internal/lifecycle.buildEnv, internal/shim.buildChildEnv).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/kildhq/kild/internal/config"
	"github.com/kildhq/kild/internal/shim"
)

func main() {
	cmd, err := shim.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "tmux:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, err := config.New(logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tmux:", err)
		os.Exit(1)
	}

	engine := shim.NewEngine(ctx)
	code, err := engine.Execute(cmd)
	if err != nil {
		logger.Debug("shim command failed", "event", "shim.execute_failed", "error", err)
		fmt.Fprintln(os.Stderr, "tmux:", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}
