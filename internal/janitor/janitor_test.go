package janitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kildhq/kild/internal/config"
)

func testContext(t *testing.T) *config.Context {
	t.Helper()
	base := t.TempDir()
	ctx := &config.Context{
		SessionsDir: filepath.Join(base, "sessions"),
		ShimDir:     filepath.Join(base, "shim"),
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	}
	for _, dir := range []string{ctx.SessionsDir, ctx.ShimDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return ctx
}

func TestRemoveStaleTempFiles(t *testing.T) {
	ctx := testContext(t)
	s := New(ctx)

	stale := filepath.Join(ctx.SessionsDir, "proj_branch.json.tmp")
	fresh := filepath.Join(ctx.SessionsDir, "proj_other.json.tmp")
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	oldTime := time.Now().Add(-staleTempAge - time.Minute)
	if err := os.Chtimes(stale, oldTime, oldTime); err != nil {
		t.Fatal(err)
	}

	removed := s.removeStaleTempFiles(ctx.SessionsDir)
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected stale temp file to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("expected fresh temp file to survive")
	}
}

func TestRemoveOrphanedShimState(t *testing.T) {
	ctx := testContext(t)
	s := New(ctx)

	orphan := filepath.Join(ctx.ShimDir, "proj1_orphan")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatal(err)
	}

	removed := s.removeOrphanedShimState()
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("expected orphaned shim dir to be removed")
	}
}

func TestSweepDoesNotPanicOnEmptyDirs(t *testing.T) {
	ctx := testContext(t)
	s := New(ctx)
	s.Sweep()
}
