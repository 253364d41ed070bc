package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gofrs/flock"

	"github.com/kildhq/kild/internal/kilderr"
)

// PaneEntry mirrors one tmux pane backed by a daemon PTY session.
type PaneEntry struct {
	DaemonSessionID string `json:"daemon_session_id"`
	Title           string `json:"title"`
	BorderStyle     string `json:"border_style"`
	WindowID        string `json:"window_id"`
	Hidden          bool   `json:"hidden"`
}

// WindowEntry groups an ordered list of pane ids under a name.
type WindowEntry struct {
	Name    string   `json:"name"`
	PaneIDs []string `json:"pane_ids"`
}

// SessionEntry groups an ordered list of window ids under a name.
type SessionEntry struct {
	Name    string   `json:"name"`
	Windows []string `json:"windows"`
}

// PaneRegistry is the full shim state for one daemon session, per spec
// §6.3, persisted as panes.json in the session's shim directory (see dir).
type PaneRegistry struct {
	NextPaneID  int                     `json:"next_pane_id"`
	SessionName string                  `json:"session_name"`
	Panes       map[string]*PaneEntry   `json:"panes"`
	Windows     map[string]*WindowEntry `json:"windows"`
	Sessions    map[string]*SessionEntry `json:"sessions"`
}

// newRegistry builds the initial state for a freshly created outer
// daemon session: one window "0" named "main" holding one pane "%0",
// and one tmux session named "kild_0",
// mirroring the literal initial state create.rs writes out before the
// agent process starts.
func newRegistry(outerSessionID string) *PaneRegistry {
	sessionName := "kild_0"
	return &PaneRegistry{
		NextPaneID:  1,
		SessionName: sessionName,
		Panes: map[string]*PaneEntry{
			"%0": {DaemonSessionID: outerSessionID, WindowID: "0"},
		},
		Windows: map[string]*WindowEntry{
			"0": {Name: "main", PaneIDs: []string{"%0"}},
		},
		Sessions: map[string]*SessionEntry{
			sessionName: {Name: sessionName, Windows: []string{"0"}},
		},
	}
}

// allocatePaneID returns the next "%N" pane id and advances the counter.
func allocatePaneID(r *PaneRegistry) string {
	id := fmt.Sprintf("%%%d", r.NextPaneID)
	r.NextPaneID++
	return id
}

// removePane deletes a pane and any reference to it from its window.
func (r *PaneRegistry) removePane(paneID string) {
	pane, ok := r.Panes[paneID]
	if !ok {
		return
	}
	delete(r.Panes, paneID)
	if w, ok := r.Windows[pane.WindowID]; ok {
		w.PaneIDs = removeString(w.PaneIDs, paneID)
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, item := range list {
		if item != s {
			out = append(out, item)
		}
	}
	return out
}

// dir returns ~/.kild/shim/<outerSessionID>.
func dir(shimDir, outerSessionID string) string {
	return filepath.Join(shimDir, outerSessionID)
}

func lockPath(shimDir, outerSessionID string) string {
	return filepath.Join(dir(shimDir, outerSessionID), "panes.lock")
}

func statePath(shimDir, outerSessionID string) string {
	return filepath.Join(dir(shimDir, outerSessionID), "panes.json")
}

// Store owns loading and saving a single session's PaneRegistry under
// an exclusive file lock (resolving spec §9 open question 1: shim
// commands race against each other from multiple agent-spawned
// processes, so every load-modify-save cycle holds panes.lock for its
// whole duration).
type Store struct {
	shimDir string
}

func NewStore(shimDir string) *Store {
	return &Store{shimDir: shimDir}
}

// WithRegistry loads the registry for outerSessionID (creating it on
// first use), runs fn, and persists the result, all under one held
// flock. This is the only way callers should mutate a registry.
func (s *Store) WithRegistry(outerSessionID string, fn func(*PaneRegistry) error) error {
	d := dir(s.shimDir, outerSessionID)
	if err := os.MkdirAll(d, 0o755); err != nil {
		return kilderr.IoError(err)
	}

	lock := flock.New(lockPath(s.shimDir, outerSessionID))
	if err := lock.Lock(); err != nil {
		return kilderr.IoError(err)
	}
	defer lock.Unlock()

	reg, err := s.loadLocked(outerSessionID)
	if err != nil {
		return err
	}
	if err := fn(reg); err != nil {
		return err
	}
	return s.saveLocked(outerSessionID, reg)
}

// Load reads the registry read-only, for commands that do not mutate
// state (list-panes, display-message, has-session).
func (s *Store) Load(outerSessionID string) (*PaneRegistry, error) {
	if err := os.MkdirAll(dir(s.shimDir, outerSessionID), 0o755); err != nil {
		return nil, kilderr.IoError(err)
	}
	lock := flock.New(lockPath(s.shimDir, outerSessionID))
	if err := lock.RLock(); err != nil {
		return nil, kilderr.IoError(err)
	}
	defer lock.Unlock()
	return s.loadLocked(outerSessionID)
}

func (s *Store) loadLocked(outerSessionID string) (*PaneRegistry, error) {
	path := statePath(s.shimDir, outerSessionID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return newRegistry(outerSessionID), nil
	}
	if err != nil {
		return nil, kilderr.IoError(err)
	}
	var reg PaneRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, kilderr.ProtocolError("corrupt shim state: " + err.Error())
	}
	return &reg, nil
}

func (s *Store) saveLocked(outerSessionID string, reg *PaneRegistry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return kilderr.IoError(err)
	}
	path := statePath(s.shimDir, outerSessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return kilderr.IoError(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return kilderr.IoError(err)
	}
	return nil
}

// sortedWindowIDs returns window ids in ascending numeric order, used
// by list-windows to produce stable output.
func sortedWindowIDs(windows map[string]*WindowEntry) []string {
	ids := make([]string, 0, len(windows))
	for id := range windows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

func sortedPaneIDs(panes map[string]*PaneEntry) []string {
	ids := make([]string, 0, len(panes))
	for id := range panes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
