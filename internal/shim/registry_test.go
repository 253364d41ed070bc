package shim

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewRegistryInitialState(t *testing.T) {
	reg := newRegistry("proj123/main")
	if reg.NextPaneID != 1 {
		t.Errorf("NextPaneID = %d, want 1", reg.NextPaneID)
	}
	pane, ok := reg.Panes["%0"]
	if !ok {
		t.Fatal("expected initial pane %0")
	}
	if pane.DaemonSessionID != "proj123/main" {
		t.Errorf("daemon session id = %q", pane.DaemonSessionID)
	}
	window, ok := reg.Windows["0"]
	if !ok || window.Name != "main" {
		t.Fatalf("expected window 0 named main, got %+v", window)
	}
	if len(window.PaneIDs) != 1 || window.PaneIDs[0] != "%0" {
		t.Errorf("window pane ids = %v", window.PaneIDs)
	}
	if _, ok := reg.Sessions[reg.SessionName]; !ok {
		t.Errorf("expected session entry for %q", reg.SessionName)
	}
}

func TestAllocatePaneID(t *testing.T) {
	reg := newRegistry("sid")
	id := allocatePaneID(reg)
	if id != "%1" {
		t.Errorf("allocatePaneID = %q, want %%1", id)
	}
	if reg.NextPaneID != 2 {
		t.Errorf("NextPaneID = %d, want 2", reg.NextPaneID)
	}
}

func TestRemovePane(t *testing.T) {
	reg := newRegistry("sid")
	reg.removePane("%0")
	if _, ok := reg.Panes["%0"]; ok {
		t.Error("expected pane %0 removed")
	}
	if len(reg.Windows["0"].PaneIDs) != 0 {
		t.Errorf("expected window pane list emptied, got %v", reg.Windows["0"].PaneIDs)
	}
}

func TestStoreLoadCreatesOnFirstUse(t *testing.T) {
	s := NewStore(t.TempDir())
	reg, err := s.Load("sid1")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if reg.SessionName != "kild_0" {
		t.Errorf("SessionName = %q", reg.SessionName)
	}
}

func TestStoreWithRegistryPersists(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	err := s.WithRegistry("sid2", func(reg *PaneRegistry) error {
		reg.Panes["%9"] = &PaneEntry{DaemonSessionID: "x", WindowID: "0"}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRegistry error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sid2", "panes.json")); err != nil {
		t.Fatalf("expected panes.json to exist: %v", err)
	}

	reg, err := s.Load("sid2")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if _, ok := reg.Panes["%9"]; !ok {
		t.Error("expected persisted pane %9")
	}
}
