package lifecycle

import (
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"testing"

	"github.com/kildhq/kild/internal/config"
	"github.com/kildhq/kild/internal/store"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return &Engine{ctx: &config.Context{Logger: slog.New(slog.NewTextHandler(os.Stderr, nil))}, cfg: DefaultConfig()}
}

func TestSupportsResume(t *testing.T) {
	cases := []struct {
		agent string
		want  bool
	}{
		{"claude", true},
		{"kiro", false},
		{"", false},
	}
	for _, c := range cases {
		if got := supportsResume(c.agent); got != c.want {
			t.Errorf("supportsResume(%q) = %v, want %v", c.agent, got, c.want)
		}
	}
}

func TestFirstToken(t *testing.T) {
	cases := map[string]string{
		"claude --flag": "claude",
		"/bin/sh":       "/bin/sh",
		"":               "",
	}
	for in, want := range cases {
		if got := firstToken(in); got != want {
			t.Errorf("firstToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScrollbackTail(t *testing.T) {
	data := []byte("line1\nline2\nline3\n")
	if got := scrollbackTail(data, 2); got != "line2\nline3\n" {
		t.Errorf("scrollbackTail = %q", got)
	}
	if got := scrollbackTail(nil, 5); got != "" {
		t.Errorf("scrollbackTail(nil) = %q, want empty", got)
	}
	if got := scrollbackTail(data, 100); got != string(data) {
		t.Errorf("scrollbackTail with large N should return everything, got %q", got)
	}
}

func TestSafetyInfoShouldBlock(t *testing.T) {
	s := &SafetyInfo{}
	if s.ShouldBlock() {
		t.Error("clean safety info should not block")
	}
	s.HasUncommittedChanges = true
	if !s.ShouldBlock() {
		t.Error("dirty worktree should block")
	}
}

// TestFillProcessIdentityPopulatesNameAndStartTime is the regression
// test for the bug where AgentProcess.ProcessName/ProcessStartTime were
// never written at create time, making every later non-force destroy's
// process.NameMatches("", liveName) comparison fail.
func TestFillProcessIdentityPopulatesNameAndStartTime(t *testing.T) {
	e := testEngine(t)
	cmd := exec.Command("sleep", "5")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	defer cmd.Process.Kill()

	proc := &store.AgentProcess{}
	e.fillProcessIdentity(proc, cmd.Process.Pid)

	if proc.ProcessName == "" {
		t.Fatal("expected ProcessName to be populated from the live process")
	}
	if runtime.GOOS == "linux" && proc.ProcessStartTime == "" {
		t.Fatal("expected ProcessStartTime to be populated from /proc on linux")
	}
}

// TestFillProcessIdentityBestEffortOnUnknownPID covers the degrade-
// gracefully path: a PID that doesn't exist must leave the fields empty
// rather than erroring the caller out of session creation.
func TestFillProcessIdentityBestEffortOnUnknownPID(t *testing.T) {
	e := testEngine(t)
	proc := &store.AgentProcess{}
	e.fillProcessIdentity(proc, 999999999)

	if proc.ProcessName != "" {
		t.Fatalf("ProcessName = %q, want empty for an unknown pid", proc.ProcessName)
	}
}

func TestProjectNameFromPath(t *testing.T) {
	if got := projectNameFromPath("/home/user/projects/kild"); got != "kild" {
		t.Errorf("projectNameFromPath = %q, want kild", got)
	}
	if got := projectNameFromPath("kild"); got != "kild" {
		t.Errorf("projectNameFromPath with no slash = %q, want kild", got)
	}
}
