// Package janitor implements SPEC_FULL.md §E.5's background sweep: a
// cron-scheduled pass that removes debris left behind by crashed or
// interrupted runs — stray .tmp files from internal/store's and
// internal/shim's atomic-write pattern, and shim pane-registry
// directories of projects that no longer have any session record.
//
// Grounded on kojo's use of a periodic background loop in
// internal/session/manager.go's reaper goroutine for the "keep a
// single background task owning cleanup" shape, scheduled here via
// github.com/robfig/cron/v3 instead of a bare ticker so the interval
// is configurable with standard cron syntax.
package janitor

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kildhq/kild/internal/config"
	"github.com/kildhq/kild/internal/store"
)

// Sweeper periodically cleans stale on-disk debris under a Context's
// directories.
type Sweeper struct {
	ctx    *config.Context
	store  *store.Store
	logger *slog.Logger
	cron   *cron.Cron
}

func New(ctx *config.Context) *Sweeper {
	return &Sweeper{
		ctx:    ctx,
		store:  store.New(ctx.SessionsDir, ctx.Logger),
		logger: ctx.Logger,
		cron:   cron.New(),
	}
}

// Start schedules Sweep on spec, e.g. "*/10 * * * *" for every ten
// minutes, and begins running it in the background.
func (s *Sweeper) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.Sweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight run to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one cleanup pass. Every step is best-effort: a failure in
// one step is logged and the rest still run.
func (s *Sweeper) Sweep() {
	start := time.Now()
	removedTemp := s.removeStaleTempFiles(s.ctx.SessionsDir)
	removedTemp += s.removeStaleTempFiles(s.ctx.ShimDir)
	removedShim := s.removeOrphanedShimState()

	s.logger.Info("janitor sweep completed",
		"event", "janitor.sweep_completed",
		"removed_temp_files", removedTemp,
		"removed_shim_dirs", removedShim,
		"duration_ms", time.Since(start).Milliseconds())
}

// removeStaleTempFiles deletes any *.tmp file older than
// staleTempAge, left behind by a process that crashed between
// WriteFile and Rename.
const staleTempAge = 10 * time.Minute

func (s *Sweeper) removeStaleTempFiles(dir string) int {
	removed := 0
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if time.Since(info.ModTime()) < staleTempAge {
			return nil
		}
		if err := os.Remove(path); err == nil {
			removed++
		} else {
			s.logger.Debug("failed to remove stale temp file",
				"event", "janitor.temp_file_remove_failed", "file", path, "error", err)
		}
		return nil
	})
	return removed
}

// removeOrphanedShimState deletes shim state left behind for sessions
// with no corresponding session record. A session's shim state lives
// at ~/.kild/shim/<project_id>/<branch> (session ids contain a '/'), so
// the sweep removes a top-level <project_id> directory only when no
// session record of that project remains; branch directories under a
// project that still has a live session are left in place.
func (s *Sweeper) removeOrphanedShimState() int {
	entries, err := os.ReadDir(s.ctx.ShimDir)
	if err != nil {
		return 0
	}

	result, err := s.store.Load()
	if err != nil {
		s.logger.Debug("janitor: failed to load sessions, skipping shim sweep",
			"event", "janitor.shim_sweep_load_failed", "error", err)
		return 0
	}
	live := make(map[string]bool, len(result.Sessions))
	for _, sess := range result.Sessions {
		live[strings.SplitN(sess.SessionID, "/", 2)[0]] = true
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || live[entry.Name()] {
			continue
		}
		path := filepath.Join(s.ctx.ShimDir, entry.Name())
		if err := os.RemoveAll(path); err == nil {
			removed++
		} else {
			s.logger.Debug("failed to remove orphaned shim state",
				"event", "janitor.shim_dir_remove_failed", "dir", path, "error", err)
		}
	}
	return removed
}
