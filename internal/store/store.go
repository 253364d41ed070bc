// Package store implements the persistence store of spec §4.9/§6.2:
// atomic JSON session records on disk, one file per session, plus
// read-only sidecar loading.
//
// Grounded on loppo-llc/kojo's internal/session/store.go for the
// temp-file+rename Save and the ENOENT-vs-parse-error distinction in
// Load, and on original_source/crates/kild-core/src/sessions/
// persistence.rs for load_sessions' per-file skip-with-warning
// behavior and skipped_count tracking (kojo's Load doesn't track a
// skip count; added here to satisfy spec §8 invariant 2).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AgentProcess is one terminal/PTY spawn belonging to a Session, per
// spec §3.
type AgentProcess struct {
	Agent            string    `json:"agent"`
	SpawnID          string    `json:"spawn_id"`
	ProcessID        *int      `json:"process_id,omitempty"`
	ProcessName      string    `json:"process_name,omitempty"`
	ProcessStartTime string    `json:"process_start_time,omitempty"`
	TerminalType     string    `json:"terminal_type,omitempty"`
	TerminalWindowID string    `json:"terminal_window_id,omitempty"`
	DaemonSessionID  string    `json:"daemon_session_id,omitempty"`
	Command          string    `json:"command"`
	CreatedAt        time.Time `json:"created_at"`
}

// Status is Session.Status, per spec §3.
type Status string

const (
	StatusActive  Status = "Active"
	StatusStopped Status = "Stopped"
)

// RuntimeMode is Session.RuntimeMode, per spec §3 and §9's glossary.
type RuntimeMode string

const (
	RuntimeDaemon   RuntimeMode = "Daemon"
	RuntimeTerminal RuntimeMode = "Terminal"
)

// Session is the persisted per-project record of spec §3.
type Session struct {
	SessionID      string         `json:"session_id"`
	ProjectID      string         `json:"project_id"`
	Branch         string         `json:"branch"`
	WorktreePath   string         `json:"worktree_path"`
	AgentName      string         `json:"agent_name"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	PortRangeStart int            `json:"port_range_start"`
	PortRangeEnd   int            `json:"port_range_end"`
	PortCount      int            `json:"port_count"`
	LastActivity   time.Time      `json:"last_activity"`
	Note           string         `json:"note,omitempty"`
	Processes      []AgentProcess `json:"processes"`
	RuntimeMode    RuntimeMode    `json:"runtime_mode,omitempty"`
}

// FileName returns the sanitised on-disk filename for this session, per
// spec §3's identifier rules.
func FileName(sessionID string) string {
	return strings.ReplaceAll(sessionID, "/", "_") + ".json"
}

// Store is the atomic JSON persistence layer of spec §4.9.
type Store struct {
	dir    string
	logger *slog.Logger
}

func New(sessionsDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: sessionsDir, logger: logger}
}

// Save writes session to <dir>/<sanitised_id>.json atomically via
// temp-file + rename. On any error the temp file is cleaned up.
func (st *Store) Save(sess *Session) error {
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(st.dir, FileName(sess.SessionID))
	tmp := path + ".tmp"

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		st.cleanupTemp(tmp, err)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		st.cleanupTemp(tmp, err)
		return err
	}
	return nil
}

func (st *Store) cleanupTemp(tmp string, originalErr error) {
	if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		st.logger.Warn("failed to clean up temp file after save error",
			"event", "core.session.temp_file_cleanup_failed", "temp_file", tmp,
			"original_error", originalErr, "cleanup_error", err)
	}
}

// LoadResult is the outcome of a directory-wide Load: valid sessions
// plus the count of files skipped for being invalid JSON or failing
// structural validation, per spec §4.9 and §8 invariant 2.
type LoadResult struct {
	Sessions     []*Session
	SkippedCount int
}

// Load scans dir for .json session files, skipping (with a warning,
// never a hard failure) any file that is not valid JSON or that fails
// structural validation.
func (st *Store) Load() (*LoadResult, error) {
	result := &LoadResult{}

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(st.dir, entry.Name())

		content, err := os.ReadFile(path)
		if err != nil {
			result.SkippedCount++
			st.logger.Warn("failed to read session file, skipping",
				"event", "core.session.load_read_error", "file", path, "error", err)
			continue
		}

		var sess Session
		if err := json.Unmarshal(content, &sess); err != nil {
			result.SkippedCount++
			st.logger.Warn("failed to parse session JSON, skipping",
				"event", "core.session.load_invalid_json", "file", path, "error", err)
			continue
		}

		if err := validateStructure(&sess); err != nil {
			result.SkippedCount++
			st.logger.Warn("session file has invalid structure, skipping",
				"event", "core.session.load_invalid_structure", "file", path, "error", err)
			continue
		}

		result.Sessions = append(result.Sessions, &sess)
	}

	return result, nil
}

// validateStructure enforces spec §4.9: every required field non-empty,
// worktree_path points to an existing directory, timestamps non-empty.
func validateStructure(s *Session) error {
	if s.SessionID == "" || s.ProjectID == "" || s.Branch == "" {
		return fmt.Errorf("missing required identity fields")
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("missing created_at")
	}
	if s.WorktreePath == "" {
		return fmt.Errorf("missing worktree_path")
	}
	if info, err := os.Stat(s.WorktreePath); err != nil || !info.IsDir() {
		return fmt.Errorf("worktree_path does not exist: %s", s.WorktreePath)
	}
	return nil
}

// FindByBranch returns the session matching branch, or nil if none.
func (st *Store) FindByBranch(branch string) (*Session, error) {
	result, err := st.Load()
	if err != nil {
		return nil, err
	}
	for _, s := range result.Sessions {
		if s.Branch == branch {
			return s, nil
		}
	}
	return nil, nil
}

// Remove deletes the session file for sessionID. Idempotent: a missing
// file is warned about but not an error.
func (st *Store) Remove(sessionID string) error {
	path := filepath.Join(st.dir, FileName(sessionID))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		st.logger.Warn("attempted to remove session file that doesn't exist",
			"event", "core.session.remove_nonexistent_file", "session_id", sessionID, "file", path)
		return nil
	}
	return os.Remove(path)
}

// LoadSidecars best-effort loads every `<session_id>.*.json` sidecar
// file beside the session record (e.g. agent_status.json, pr_info.json,
// per spec §6.2). Missing or malformed sidecars never error; they are
// simply absent from the returned map.
func (st *Store) LoadSidecars(sessionID string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	prefix := strings.TrimSuffix(FileName(sessionID), ".json") + "."
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return out
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		kind := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		data, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			continue
		}
		var raw json.RawMessage
		if json.Unmarshal(data, &raw) != nil {
			continue
		}
		out[kind] = raw
	}
	return out
}
