package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestSession(t *testing.T, id, branch string) *Session {
	t.Helper()
	wt := t.TempDir()
	return &Session{
		SessionID:    id,
		ProjectID:    "proj1",
		Branch:       branch,
		WorktreePath: wt,
		AgentName:    "claude",
		Status:       StatusActive,
		CreatedAt:    time.Now(),
		LastActivity: time.Now(),
		PortCount:    0,
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, nil)
	sess := newTestSession(t, "p1/feat", "feat")

	if err := st.Save(sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	result, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.SkippedCount != 0 {
		t.Fatalf("expected 0 skipped, got %d", result.SkippedCount)
	}
	if len(result.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(result.Sessions))
	}
	got := result.Sessions[0]
	if got.SessionID != sess.SessionID || got.Branch != sess.Branch || got.WorktreePath != sess.WorktreePath {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, sess)
	}
}

func TestLoadEmptyDirNoError(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "missing"), nil)
	result, err := st.Load()
	if err != nil {
		t.Fatalf("unexpected error for missing dir: %v", err)
	}
	if len(result.Sessions) != 0 || result.SkippedCount != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestLoadSkipsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, nil)
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	result, err := st.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SkippedCount != 1 {
		t.Fatalf("expected 1 skipped, got %d", result.SkippedCount)
	}
}

func TestLoadSkipsMissingWorktree(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, nil)
	sess := newTestSession(t, "p1/gone", "gone")
	if err := st.Save(sess); err != nil {
		t.Fatal(err)
	}
	if err := os.RemoveAll(sess.WorktreePath); err != nil {
		t.Fatal(err)
	}

	result, err := st.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.SkippedCount != 1 || len(result.Sessions) != 0 {
		t.Fatalf("expected the record to be skipped as invalid, got %+v", result)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, nil)
	if err := st.Remove("p1/never-existed"); err != nil {
		t.Fatalf("remove of nonexistent file should not error: %v", err)
	}
}

func TestFindByBranch(t *testing.T) {
	dir := t.TempDir()
	st := New(dir, nil)
	sess := newTestSession(t, "p1/feat", "feat")
	if err := st.Save(sess); err != nil {
		t.Fatal(err)
	}
	found, err := st.FindByBranch("feat")
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.SessionID != "p1/feat" {
		t.Fatalf("expected to find p1/feat, got %+v", found)
	}
	notFound, err := st.FindByBranch("nope")
	if err != nil {
		t.Fatal(err)
	}
	if notFound != nil {
		t.Fatalf("expected nil for unknown branch, got %+v", notFound)
	}
}
