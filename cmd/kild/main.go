// Command kild is the CLI front-end for the client-side lifecycle
// engine (internal/lifecycle). Per spec §1's Non-goals, a full argument
// parser, help text, and human-readable table formatting are
// collaborator surfaces outside this core; this entrypoint wires just
// enough flag handling to exercise create/destroy/list end-to-end.
//
// Grounded on kojo's cmd/kojo/main.go for the flag + slog idiom.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/kildhq/kild/internal/config"
	"github.com/kildhq/kild/internal/lifecycle"
	"github.com/kildhq/kild/internal/projectcache"
	"github.com/kildhq/kild/internal/store"
)

var version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("KILD_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, err := config.New(logger)
	if err != nil {
		fail(err)
	}
	if err := ctx.EnsureDirs(); err != nil {
		fail(err)
	}

	cache, err := projectcache.Open(ctx.ProjectCacheDB)
	if err != nil {
		logger.Warn("project id cache unavailable, recomputing every time",
			"event", "cli.project_cache_unavailable", "error", err)
		cache = nil
	}

	engine := lifecycle.New(ctx, lifecycle.DefaultConfig(), cache)

	switch os.Args[1] {
	case "version":
		fmt.Println("kild", version)
	case "create":
		runCreate(engine, os.Args[2:])
	case "destroy":
		runDestroy(engine, os.Args[2:])
	case "list":
		runList(ctx)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: kild <create|destroy|list|version> [flags]")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "kild:", err)
	os.Exit(1)
}

func runCreate(engine *lifecycle.Engine, args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	agent := fs.String("agent", "", "agent name to launch (empty with -shell for a bare shell)")
	shell := fs.Bool("shell", false, "launch a bare shell instead of an agent")
	agentCmd := fs.String("agent-cmd", "", "resolved command line for -agent")
	note := fs.String("note", "", "freeform note to attach to the session")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "kild create: branch name required")
		os.Exit(2)
	}
	branch := fs.Arg(0)

	sess, err := engine.CreateSession(lifecycle.CreateRequest{
		Branch:    branch,
		AgentMode: lifecycle.AgentMode{BareShell: *shell, Agent: *agent},
		AgentCmd:  *agentCmd,
		Note:      *note,
	})
	if err != nil {
		fail(err)
	}
	fmt.Println(sess.SessionID)
}

func runDestroy(engine *lifecycle.Engine, args []string) {
	fs := flag.NewFlagSet("destroy", flag.ExitOnError)
	force := fs.Bool("force", false, "kill stuck processes and discard uncommitted changes")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "kild destroy: branch name required")
		os.Exit(2)
	}
	if err := engine.DestroySession(fs.Arg(0), *force); err != nil {
		fail(err)
	}
}

func runList(ctx *config.Context) {
	st := store.New(ctx.SessionsDir, ctx.Logger)
	result, err := st.Load()
	if err != nil {
		fail(err)
	}
	for _, sess := range result.Sessions {
		fmt.Printf("%s\t%s\t%s\n", sess.SessionID, sess.Status, sess.WorktreePath)
	}
}
