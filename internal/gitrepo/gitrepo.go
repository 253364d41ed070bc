// Package gitrepo implements spec §4.8 steps 4 & 7: discover the
// enclosing Git repository, validate/create a branch, create or remove
// a Git worktree, and check for uncommitted changes.
//
// Grounded on loppo-llc/kojo's internal/git/git.go for the
// exec.Command-based style (worktree add/remove stay exec-based because
// go-git has no multi-worktree support); repo discovery, HEAD/branch
// inspection, and the dirty-worktree check are wired through
// github.com/go-git/go-git/v5 (present in the retrieved example pack's
// Tonksthebear-trybotster/go-hub/go.mod).
package gitrepo

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/kildhq/kild/internal/kilderr"
)

// branchNamePattern is spec §4.8 step 3's validation rule.
var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9/_-]+$`)

// ValidateBranchName enforces spec §8 invariant 7.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return kilderr.ClientError("branch name must not be empty")
	}
	if len(branch) > 255 {
		return kilderr.ClientError("branch name too long")
	}
	if strings.HasPrefix(branch, "-") {
		return kilderr.ClientError("branch name must not start with '-'")
	}
	if strings.HasPrefix(branch, "/") || strings.HasSuffix(branch, "/") {
		return kilderr.ClientError("branch name must not start or end with '/'")
	}
	if strings.Contains(branch, "..") {
		return kilderr.ClientError("branch name must not contain '..'")
	}
	if !branchNamePattern.MatchString(branch) {
		return kilderr.ClientError("branch name contains invalid characters")
	}
	return nil
}

// DiscoverRepo walks upward from startPath looking for a .git directory,
// per spec §4.8 step 4. Fails with NotInRepository if none is found.
func DiscoverRepo(startPath string) (*git.Repository, string, error) {
	repo, err := git.PlainOpenWithOptions(startPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, "", kilderr.NotInRepository(startPath)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", kilderr.GitError("failed to resolve worktree root", err)
	}
	return repo, wt.Filesystem.Root(), nil
}

// ProjectRoot is a thin convenience wrapper used when only the root
// path (not the *git.Repository) is needed.
func ProjectRoot(startPath string) (string, error) {
	_, root, err := DiscoverRepo(startPath)
	return root, err
}

// CurrentBranch returns the short name of HEAD, or "" if HEAD is
// detached or otherwise not a branch reference.
func CurrentBranch(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", kilderr.GitError("failed to resolve HEAD", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// BranchExists reports whether branch already exists locally.
func BranchExists(repo *git.Repository, branch string) (bool, error) {
	refs, err := repo.Branches()
	if err != nil {
		return false, kilderr.GitError("failed to list branches", err)
	}
	found := false
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().Short() == branch {
			found = true
		}
		return nil
	})
	if err != nil {
		return false, kilderr.GitError("failed to walk branches", err)
	}
	return found, nil
}

// WorktreePath derives the deterministic worktree directory for
// (baseDir, projectName, branch), per spec §4.8 step 7: a branch
// already equal to the current branch keeps its bare name; others get
// a kild_<branch> prefix.
func WorktreePath(baseDir, projectName, branch string, isCurrentBranch bool) string {
	safeBranch := strings.ReplaceAll(branch, "/", "_")
	name := "kild_" + safeBranch
	if isCurrentBranch {
		name = safeBranch
	}
	return filepath.Join(baseDir, projectName, name)
}

// CreateWorktree shells out to `git worktree add`, creating branch from
// HEAD if it does not already exist. go-git does not implement
// multi-worktree checkouts, so this step uses the real git CLI, in the
// same exec.Command idiom as kojo's internal/git/git.go.
func CreateWorktree(repoRoot, worktreePath, branch string, branchExists bool) error {
	var args []string
	if branchExists {
		args = []string{"worktree", "add", worktreePath, branch}
	} else {
		args = []string{"worktree", "add", "-b", branch, worktreePath, "HEAD"}
	}
	out, err := runGit(repoRoot, args...)
	if err != nil {
		return kilderr.GitError("failed to create worktree: "+string(out), err)
	}
	return nil
}

// RemoveWorktree removes a worktree. force bypasses the uncommitted-
// changes safety check and force-deletes the directory, per spec §4.8
// destroy flow step 5.
func RemoveWorktree(repoRoot, worktreePath string, force bool) error {
	if !force {
		dirty, err := IsDirty(worktreePath)
		if err != nil {
			// conservative fallback: treat an inspection failure as dirty,
			// per the "assume dirty on any check failure" rule (SPEC_FULL.md §E.2).
			return kilderr.UncommittedChanges(worktreePath)
		}
		if dirty {
			return kilderr.UncommittedChanges(worktreePath)
		}
	}
	args := []string{"worktree", "remove", worktreePath}
	if force {
		args = append(args, "--force")
	}
	if out, err := runGit(repoRoot, args...); err != nil {
		if force {
			// best-effort fallback: force-delete the directory outright.
			_ = os.RemoveAll(worktreePath)
			_, _ = runGit(repoRoot, "worktree", "prune")
			return nil
		}
		return kilderr.GitError("failed to remove worktree: "+string(out), err)
	}
	return nil
}

// IsDirty reports whether worktreePath has uncommitted changes
// (modified, staged, or untracked files), via go-git's Status().
func IsDirty(worktreePath string) (bool, error) {
	repo, err := git.PlainOpen(worktreePath)
	if err != nil {
		return true, kilderr.GitError("failed to open worktree for status check", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return true, kilderr.GitError("failed to resolve worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return true, kilderr.GitError("failed to compute worktree status", err)
	}
	return !status.IsClean(), nil
}

// CopyIncludeFiles copies configured "include pattern" files from the
// main repo into the worktree, per spec §4.8 step 7. File-copy errors
// are warnings, not fatal, so this returns the list of failures rather
// than aborting on the first one.
func CopyIncludeFiles(repoRoot, worktreePath string, patterns []string) (failures []error) {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(repoRoot, pattern))
		if err != nil {
			failures = append(failures, fmt.Errorf("glob %q: %w", pattern, err))
			continue
		}
		for _, src := range matches {
			rel, err := filepath.Rel(repoRoot, src)
			if err != nil {
				failures = append(failures, err)
				continue
			}
			dst := filepath.Join(worktreePath, rel)
			if err := copyFile(src, dst); err != nil {
				failures = append(failures, fmt.Errorf("copy %q: %w", rel, err))
			}
		}
	}
	return failures
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func runGit(dir string, args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}
