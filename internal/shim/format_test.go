package shim

import "testing"

func TestExpandFormat(t *testing.T) {
	got := expandFormat("#{session_name}:#{window_index} #{pane_id} #{pane_title}", "%1", "kild_0", "0", "main", "hello")
	want := "kild_0:0 %1 hello"
	if got != want {
		t.Errorf("expandFormat = %q, want %q", got, want)
	}
}

func TestExpandFormatPassesThroughUnknownTokens(t *testing.T) {
	got := expandFormat("literal #{pane_pid} text", "%0", "s", "0", "main", "")
	if got != "literal #{pane_pid} text" {
		t.Errorf("expandFormat = %q", got)
	}
}

func TestResolvePaneIDDirect(t *testing.T) {
	target := "%3"
	if got := resolvePaneID(&target); got != "%3" {
		t.Errorf("resolvePaneID(%%3) = %q", got)
	}
}

func TestResolvePaneIDSessionWindowDotPane(t *testing.T) {
	target := "kild_0:0.%2"
	if got := resolvePaneID(&target); got != "%2" {
		t.Errorf("resolvePaneID = %q, want %%2", got)
	}
}

func TestResolvePaneIDFallsBackToCurrent(t *testing.T) {
	t.Setenv("TMUX_PANE", "%9")
	target := "not-a-pane-spec"
	if got := resolvePaneID(&target); got != "%9" {
		t.Errorf("resolvePaneID = %q, want %%9", got)
	}
	if got := resolvePaneID(nil); got != "%9" {
		t.Errorf("resolvePaneID(nil) = %q, want %%9", got)
	}
}

func TestResolvePaneIDDefaultsToPaneZero(t *testing.T) {
	t.Setenv("TMUX_PANE", "")
	if got := resolvePaneID(nil); got != "%0" {
		t.Errorf("resolvePaneID(nil) = %q, want %%0", got)
	}
}

func TestPathHasComponent(t *testing.T) {
	if !pathHasComponent("/usr/bin:/home/u/.kild/bin:/bin", "/home/u/.kild/bin") {
		t.Error("expected component found")
	}
	if pathHasComponent("/usr/bin:/bin", "/home/u/.kild/bin") {
		t.Error("expected component not found")
	}
}
