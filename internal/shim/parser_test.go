package shim

import "testing"

func mustParse(t *testing.T, args []string) *Command {
	t.Helper()
	cmd, err := Parse(args)
	if err != nil {
		t.Fatalf("Parse(%v) error: %v", args, err)
	}
	return cmd
}

func TestStripSocketFlag(t *testing.T) {
	cmd := mustParse(t, []string{"-L", "kild", "split-window", "-h", "-t", "%0"})
	if cmd.Kind != KindSplitWindow {
		t.Fatalf("kind = %v, want SplitWindow", cmd.Kind)
	}
	if !cmd.SplitWindow.Horizontal {
		t.Error("expected Horizontal = true")
	}
	if cmd.SplitWindow.Target == nil || *cmd.SplitWindow.Target != "%0" {
		t.Errorf("target = %v, want %%0", cmd.SplitWindow.Target)
	}
}

func TestSocketFlagPreservesRemainingArgs(t *testing.T) {
	cmd := mustParse(t, []string{"-L", "mysock", "send-keys", "-t", "%0", "hello", "Enter"})
	if cmd.Kind != KindSendKeys {
		t.Fatalf("kind = %v, want SendKeys", cmd.Kind)
	}
	if cmd.SendKeys.Target == nil || *cmd.SendKeys.Target != "%0" {
		t.Errorf("target = %v, want %%0", cmd.SendKeys.Target)
	}
	if len(cmd.SendKeys.Keys) != 2 || cmd.SendKeys.Keys[0] != "hello" || cmd.SendKeys.Keys[1] != "Enter" {
		t.Errorf("keys = %v, want [hello Enter]", cmd.SendKeys.Keys)
	}
}

func TestVersionFlag(t *testing.T) {
	cmd := mustParse(t, []string{"-V"})
	if cmd.Kind != KindVersion {
		t.Errorf("kind = %v, want Version", cmd.Kind)
	}
	cmd = mustParse(t, []string{"version"})
	if cmd.Kind != KindVersion {
		t.Errorf("kind = %v, want Version", cmd.Kind)
	}
}

func TestSplitWindowDefaults(t *testing.T) {
	cmd := mustParse(t, []string{"split-window"})
	a := cmd.SplitWindow
	if a.Horizontal {
		t.Error("expected Horizontal = false by default")
	}
	if a.Target != nil {
		t.Error("expected nil target")
	}
	if a.PrintInfo {
		t.Error("expected PrintInfo = false by default")
	}
}

func TestSplitWindowPrintInfoWithFormat(t *testing.T) {
	cmd := mustParse(t, []string{"splitw", "-P", "-F", "#{pane_id}"})
	a := cmd.SplitWindow
	if !a.PrintInfo {
		t.Error("expected PrintInfo = true")
	}
	if a.Format == nil || *a.Format != "#{pane_id}" {
		t.Errorf("format = %v", a.Format)
	}
}

func TestSendKeysAlias(t *testing.T) {
	cmd := mustParse(t, []string{"send", "-t", "%1", "Enter"})
	if cmd.SendKeys.Target == nil || *cmd.SendKeys.Target != "%1" {
		t.Errorf("target = %v", cmd.SendKeys.Target)
	}
	if len(cmd.SendKeys.Keys) != 1 || cmd.SendKeys.Keys[0] != "Enter" {
		t.Errorf("keys = %v", cmd.SendKeys.Keys)
	}
}

func TestListPanesAlias(t *testing.T) {
	cmd := mustParse(t, []string{"lsp", "-F", "#{pane_id} #{pane_title}"})
	if cmd.Kind != KindListPanes {
		t.Fatalf("kind = %v", cmd.Kind)
	}
	if cmd.ListPanes.Format == nil || *cmd.ListPanes.Format != "#{pane_id} #{pane_title}" {
		t.Errorf("format = %v", cmd.ListPanes.Format)
	}
}

func TestKillPaneAlias(t *testing.T) {
	cmd := mustParse(t, []string{"killp", "-t", "%2"})
	if cmd.Kind != KindKillPane {
		t.Fatalf("kind = %v", cmd.Kind)
	}
	if cmd.KillPane.Target == nil || *cmd.KillPane.Target != "%2" {
		t.Errorf("target = %v", cmd.KillPane.Target)
	}
}

func TestDisplayMessageFormat(t *testing.T) {
	cmd := mustParse(t, []string{"display", "-p", "#{session_name}"})
	if cmd.DisplayMessage.Format == nil || *cmd.DisplayMessage.Format != "#{session_name}" {
		t.Errorf("format = %v", cmd.DisplayMessage.Format)
	}
}

func TestSelectPaneStyleAndTitle(t *testing.T) {
	cmd := mustParse(t, []string{"selectp", "-t", "%0", "-P", "fg=red", "-T", "my title"})
	a := cmd.SelectPane
	if a.Target == nil || *a.Target != "%0" {
		t.Errorf("target = %v", a.Target)
	}
	if a.Style == nil || *a.Style != "fg=red" {
		t.Errorf("style = %v", a.Style)
	}
	if a.Title == nil || *a.Title != "my title" {
		t.Errorf("title = %v", a.Title)
	}
}

func TestSetOptionMissingValue(t *testing.T) {
	_, err := Parse([]string{"set", "-p", "pane-border-style"})
	if err == nil {
		t.Fatal("expected error for missing value")
	}
}

func TestSetOptionPaneScope(t *testing.T) {
	cmd := mustParse(t, []string{"set-option", "-p", "-t", "%0", "pane-border-style", "fg=blue"})
	a := cmd.SetOption
	if a.Scope != ScopePane {
		t.Error("expected pane scope")
	}
	if a.Key != "pane-border-style" || a.Value != "fg=blue" {
		t.Errorf("key/value = %q/%q", a.Key, a.Value)
	}
}

func TestSelectLayoutNoOp(t *testing.T) {
	cmd := mustParse(t, []string{"selectl", "-t", "%0", "even-horizontal"})
	if cmd.Kind != KindSelectLayout {
		t.Fatalf("kind = %v", cmd.Kind)
	}
	if cmd.SelectLayout.Layout == nil || *cmd.SelectLayout.Layout != "even-horizontal" {
		t.Errorf("layout = %v", cmd.SelectLayout.Layout)
	}
}

func TestResizePaneAlias(t *testing.T) {
	cmd := mustParse(t, []string{"resizep", "-t", "%0"})
	if cmd.Kind != KindResizePane {
		t.Fatalf("kind = %v", cmd.Kind)
	}
}

func TestHasSessionMissingTarget(t *testing.T) {
	_, err := Parse([]string{"has"})
	if err == nil {
		t.Fatal("expected error for missing -t")
	}
}

func TestHasSessionAlias(t *testing.T) {
	cmd := mustParse(t, []string{"has", "-t", "kild_0"})
	if cmd.HasSession.Target != "kild_0" {
		t.Errorf("target = %q", cmd.HasSession.Target)
	}
}

func TestNewSessionFull(t *testing.T) {
	cmd := mustParse(t, []string{"new-session", "-d", "-s", "kild_0", "-n", "main", "-P", "-F", "#{pane_id}"})
	a := cmd.NewSession
	if a.SessionName == nil || *a.SessionName != "kild_0" {
		t.Errorf("session name = %v", a.SessionName)
	}
	if a.WindowName == nil || *a.WindowName != "main" {
		t.Errorf("window name = %v", a.WindowName)
	}
	if !a.PrintInfo {
		t.Error("expected PrintInfo = true")
	}
	if a.Format == nil || *a.Format != "#{pane_id}" {
		t.Errorf("format = %v", a.Format)
	}
}

func TestNewSessionAlias(t *testing.T) {
	cmd := mustParse(t, []string{"new"})
	if cmd.Kind != KindNewSession {
		t.Fatalf("kind = %v", cmd.Kind)
	}
	if cmd.NewSession.SessionName != nil {
		t.Error("expected nil session name")
	}
}

func TestNewWindowAlias(t *testing.T) {
	cmd := mustParse(t, []string{"neww", "-t", "kild_0", "-n", "logs"})
	a := cmd.NewWindow
	if a.Target == nil || *a.Target != "kild_0" {
		t.Errorf("target = %v", a.Target)
	}
	if a.Name == nil || *a.Name != "logs" {
		t.Errorf("name = %v", a.Name)
	}
}

func TestListWindowsAlias(t *testing.T) {
	cmd := mustParse(t, []string{"lsw", "-t", "kild_0"})
	if cmd.Kind != KindListWindows {
		t.Fatalf("kind = %v", cmd.Kind)
	}
}

func TestBreakPaneAlias(t *testing.T) {
	cmd := mustParse(t, []string{"breakp", "-s", "%1"})
	if cmd.BreakPane.Source == nil || *cmd.BreakPane.Source != "%1" {
		t.Errorf("source = %v", cmd.BreakPane.Source)
	}
}

func TestJoinPaneDefaults(t *testing.T) {
	cmd := mustParse(t, []string{"joinp", "-s", "%1", "-t", "%0"})
	a := cmd.JoinPane
	if a.Source == nil || *a.Source != "%1" {
		t.Errorf("source = %v", a.Source)
	}
	if a.Target == nil || *a.Target != "%0" {
		t.Errorf("target = %v", a.Target)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := Parse([]string{"frobnicate"})
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestEmptyArgs(t *testing.T) {
	_, err := Parse([]string{})
	if err == nil {
		t.Fatal("expected error for empty args")
	}
}
