package daemon

import (
	"sync"

	"github.com/kildhq/kild/internal/kilderr"
	"github.com/kildhq/kild/internal/pty"
)

// PtyManager is the keyed table from session_id to ManagedPty of spec
// §4.3. All mutation is serialised through SessionManager's single
// actor (spec §5), so PtyManager itself needs no locking beyond what's
// necessary for Count() to be callable from diagnostics goroutines.
type PtyManager struct {
	mu    sync.Mutex
	table map[string]*pty.ManagedPty
}

func newPtyManager() *PtyManager {
	return &PtyManager{table: make(map[string]*pty.ManagedPty)}
}

// Create registers p under id. Fails if the key already exists.
func (pm *PtyManager) Create(id string, p *pty.ManagedPty) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, exists := pm.table[id]; exists {
		return kilderr.SessionAlreadyExists(id)
	}
	pm.table[id] = p
	return nil
}

// Get returns the ManagedPty for id, if any.
func (pm *PtyManager) Get(id string) (*pty.ManagedPty, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	p, ok := pm.table[id]
	return p, ok
}

// Destroy signals the child (via ManagedPty.Destroy) and removes id.
// A no-op if id is absent.
func (pm *PtyManager) Destroy(id string) error {
	pm.mu.Lock()
	p, ok := pm.table[id]
	delete(pm.table, id)
	pm.mu.Unlock()
	if !ok {
		return nil
	}
	return p.Destroy()
}

// Remove removes id without signalling the child — used when EOF has
// already been observed by the reader task, per spec §4.3.
func (pm *PtyManager) Remove(id string) {
	pm.mu.Lock()
	delete(pm.table, id)
	pm.mu.Unlock()
}

// Count returns the number of tracked PTYs.
func (pm *PtyManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.table)
}
