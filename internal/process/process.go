// Package process implements the PID-reuse-safe process identity checks
// of spec §5: before signalling a recorded PID, re-read its live
// (name, start_time) identity and refuse to signal on mismatch.
//
// Ported from original_source/crates/kild-core/src/process/operations.rs.
package process

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	ps "github.com/mitchellh/go-ps"

	"github.com/kildhq/kild/internal/kilderr"
)

// Identity is the recorded (name, start_time) pair for a tracked PID.
type Identity struct {
	PID       int
	Name      string
	StartTime string
}

// baseName strips any path components, matching the Rust original's
// base-name extraction (used for both process_name_matches tiers).
func baseName(name string) string {
	return filepath.Base(strings.TrimSpace(name))
}

// NameMatches compares a recorded process name against a live one using
// three tiers: exact match, base-name match, and prefix match (only
// when both base names are at least 5 characters, so "sh" never
// matches "bash").
func NameMatches(recorded, live string) bool {
	if recorded == live {
		return true
	}
	rb, lb := baseName(recorded), baseName(live)
	if rb == lb {
		return true
	}
	if len(rb) >= 5 && len(lb) >= 5 {
		if strings.HasPrefix(lb, rb) || strings.HasPrefix(rb, lb) {
			return true
		}
	}
	return false
}

// LiveIdentity returns the current (name, start_time) of pid, or an
// error if the process is not found.
func LiveIdentity(pid int) (Identity, error) {
	proc, err := ps.FindProcess(pid)
	if err != nil || proc == nil {
		return Identity{}, kilderr.ProcessNotFound(pid)
	}
	startTime, _ := readStartTimeToken(pid) // best-effort; empty off Linux
	return Identity{PID: pid, Name: proc.Executable(), StartTime: startTime}, nil
}

// readStartTimeToken returns an opaque, host-specific token that is
// stable for the lifetime of a PID and differs across PID reuse. On
// Linux this is /proc/<pid>/stat field 22 (ticks since boot); there is
// no portable equivalent available from any library in the example
// pack, so other platforms return an empty token and the identity
// check degrades to name-only comparison.
func readStartTimeToken(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return "", err
	}
	// Field 2 (comm) may contain spaces/parens; find the matching ')'.
	closeParen := strings.LastIndexByte(string(data), ')')
	if closeParen < 0 {
		return "", fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(string(data)[closeParen+2:])
	// After "pid (comm) ", fields[0] is field 3 (state); field 22 is
	// index 19 (22 - 3).
	const startTimeIndex = 19
	if len(fields) <= startTimeIndex {
		return "", fmt.Errorf("unexpected stat format for pid %d", pid)
	}
	return fields[startTimeIndex], nil
}

// VerifyIdentity re-reads the live identity of expected.PID and compares
// it against the recorded identity. Returns PidReused if either the
// name or (when both sides have one) the start time token differs.
func VerifyIdentity(expected Identity) error {
	live, err := LiveIdentity(expected.PID)
	if err != nil {
		return err
	}
	if !NameMatches(expected.Name, live.Name) {
		return kilderr.PidReused(expected.PID, expected.Name, live.Name)
	}
	if expected.StartTime != "" && live.StartTime != "" && expected.StartTime != live.StartTime {
		return kilderr.PidReused(expected.PID, expected.StartTime, live.StartTime)
	}
	return nil
}

// Kill verifies identity and, on success, sends sig (SIGTERM if sig is
// zero) to expected.PID. A process that is already gone is treated as
// success (already-dead is not an error).
func Kill(expected Identity, sig syscall.Signal) error {
	if err := VerifyIdentity(expected); err != nil {
		if pe, ok := err.(*kilderr.ProcessError); ok && pe.ErrorCode() == string(kilderr.CodeProcessNotFound) {
			return nil
		}
		return err
	}
	if sig == 0 {
		sig = syscall.SIGTERM
	}
	proc, err := os.FindProcess(expected.PID)
	if err != nil {
		return nil
	}
	if err := proc.Signal(sig); err != nil {
		if strings.Contains(err.Error(), "process already finished") {
			return nil
		}
		return kilderr.KillFailed(expected.PID, err.Error())
	}
	return nil
}

// FindByName returns PIDs of live processes whose name matches pattern
// per NameMatches. An empty pattern never matches anything, per spec §8.
func FindByName(pattern string) ([]int, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}
	procs, err := ps.Processes()
	if err != nil {
		return nil, kilderr.IoError(err)
	}
	var matches []int
	for _, p := range procs {
		if NameMatches(pattern, p.Executable()) {
			matches = append(matches, p.Pid())
		}
	}
	return matches, nil
}
