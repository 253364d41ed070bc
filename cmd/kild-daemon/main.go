// Command kild-daemon is the long-running PTY daemon of spec §4: it
// binds the unix socket, owns every session's PTY, and serves the
// client engine (internal/lifecycle), the shim (internal/shim), and
// any attached terminal.
//
// Grounded on kojo's cmd/kojo/main.go for the flag/slog/
// signal.NotifyContext graceful-shutdown idiom, adapted from an HTTP
// server to a unix-socket daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kildhq/kild/internal/config"
	"github.com/kildhq/kild/internal/daemon"
	"github.com/kildhq/kild/internal/janitor"
	"github.com/kildhq/kild/internal/notify"
)

var version = "0.1.0"

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	sweepSpec := flag.String("sweep-schedule", "*/10 * * * *", "cron schedule for background cleanup")
	slackWebhook := flag.String("slack-webhook", os.Getenv("KILD_SLACK_WEBHOOK"), "Slack incoming webhook URL for exit notifications")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Println("kild-daemon", version)
		return
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, err := config.New(logger)
	if err != nil {
		logger.Error("failed to build config context", "event", "daemon.config_failed", "error", err)
		os.Exit(1)
	}
	if err := ctx.EnsureDirs(); err != nil {
		logger.Error("failed to create kild directories", "event", "daemon.mkdir_failed", "error", err)
		os.Exit(1)
	}

	manager := daemon.NewManager(logger)
	listener := daemon.NewListener(manager, ctx.SocketPath, logger)

	notifier, err := notify.NewManager(ctx.KildDir, *slackWebhook, logger)
	if err != nil {
		logger.Warn("failed to initialize notifications, continuing without them",
			"event", "daemon.notify_init_failed", "error", err)
	} else {
		listener.OnStopped = notifier.SessionStopped
	}

	sweeper := janitor.New(ctx)
	if err := sweeper.Start(*sweepSpec); err != nil {
		logger.Warn("failed to start janitor sweep", "event", "daemon.janitor_start_failed", "error", err)
	} else {
		defer sweeper.Stop()
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		logger.Info("shutting down", "event", "daemon.shutdown_signal")
		listener.Shutdown()
	}()

	logger.Info("daemon listening", "event", "daemon.listening", "socket", ctx.SocketPath)
	if err := listener.Serve(); err != nil {
		logger.Error("listener exited with error", "event", "daemon.serve_failed", "error", err)
		os.Exit(1)
	}
}
