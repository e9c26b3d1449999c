// Package worktree isolates each work package in its own git worktree
// and branch, and owns the only path by which work reaches the
// integration line: Merge. Agent activity commits exclusively inside a
// work package's worktree; the target branch receives commits only
// through the serialized merge critical section.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// worktreesDir is where per-work-package worktrees live, relative to
// the repository root.
const worktreesDir = ".worktrees"

// Handle identifies one work package's isolated workspace. Branch and
// path are deterministic functions of the feature slug and the work
// package id, so a crashed run can rediscover its worktrees.
type Handle struct {
	WPID       string `json:"wp_id"`
	Branch     string `json:"branch_name"`
	Path       string `json:"path"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// Manager creates, merges and discards work package worktrees for one
// feature. Worktree creation and removal for different work packages
// are independent (distinct directories, distinct branches); Merge is
// serialized by an internal mutex because it mutates the shared target
// branch.
type Manager struct {
	repoDir      string
	featureSlug  string
	targetBranch string

	mergeMu sync.Mutex
}

// FindGitRoot finds the root of the git repository by traversing up
// from startDir. It returns the directory containing .git (a directory
// for a normal repo, a file for a worktree).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point)")
		}
		dir = parent
	}
}

// NewManager creates a Manager for the repository containing repoDir.
// If targetBranch is empty the repository's main branch (main, falling
// back to master) is used as the integration line.
func NewManager(repoDir, featureSlug, targetBranch string) (*Manager, error) {
	gitRoot, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %s", repoDir)
	}

	m := &Manager{
		repoDir:     gitRoot,
		featureSlug: featureSlug,
	}
	if targetBranch == "" {
		targetBranch = m.findMainBranch()
	}
	m.targetBranch = targetBranch
	return m, nil
}

// TargetBranch returns the integration branch this manager merges into.
func (m *Manager) TargetBranch() string {
	return m.targetBranch
}

// BranchName returns the deterministic branch name for a work package.
func (m *Manager) BranchName(wpID string) string {
	return fmt.Sprintf("%s-%s", m.featureSlug, wpID)
}

// WorktreePath returns the deterministic worktree path for a work
// package under the repository root.
func (m *Manager) WorktreePath(wpID string) string {
	return filepath.Join(m.repoDir, worktreesDir, m.BranchName(wpID))
}

// Create makes a new branch off the target line and a worktree for it.
// One live handle exists per non-terminal work package; the handle is
// removed again by Merge or Discard.
func (m *Manager) Create(wpID string) (*Handle, error) {
	branch := m.BranchName(wpID)
	path := m.WorktreePath(wpID)

	cmd := exec.Command("git", "worktree", "add", "-b", branch, path, m.targetBranch)
	cmd.Dir = m.repoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("failed to create worktree for %s: %w\n%s", wpID, err, string(output))
	}

	return &Handle{WPID: wpID, Branch: branch, Path: path}, nil
}

// Merge merges the handle's branch into the target line and removes
// the worktree and branch. Returns the merge commit hash. Merges are
// serialized: only one work package at a time may mutate the target
// branch.
func (m *Manager) Merge(h *Handle) (string, error) {
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	if err := m.checkoutTarget(); err != nil {
		return "", err
	}

	mergeMsg := fmt.Sprintf("Merge %s into %s", h.Branch, m.targetBranch)
	cmd := exec.Command("git", "merge", "--no-ff", "-m", mergeMsg, h.Branch)
	cmd.Dir = m.repoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		// Leave the target line clean on conflict; the failure is
		// surfaced on this work package, not the whole run.
		if strings.Contains(string(output), "CONFLICT") {
			abort := exec.Command("git", "merge", "--abort")
			abort.Dir = m.repoDir
			_ = abort.Run()
		}
		return "", fmt.Errorf("failed to merge %s: %w\n%s", h.Branch, err, string(output))
	}

	commit, err := m.revParseHead()
	if err != nil {
		return "", err
	}
	h.CommitHash = commit

	if err := m.remove(h); err != nil {
		return commit, err
	}
	return commit, nil
}

// Discard removes the worktree and branch without merging. Used when a
// work package fails permanently.
func (m *Manager) Discard(h *Handle) error {
	return m.remove(h)
}

// remove tears down the worktree directory and deletes the branch.
func (m *Manager) remove(h *Handle) error {
	cmd := exec.Command("git", "worktree", "remove", "--force", h.Path)
	cmd.Dir = m.repoDir
	if output, err := cmd.CombinedOutput(); err != nil {
		// If worktree remove fails, clean up manually and prune.
		_ = os.RemoveAll(h.Path)
		pruneCmd := exec.Command("git", "worktree", "prune")
		pruneCmd.Dir = m.repoDir
		_ = pruneCmd.Run()

		return fmt.Errorf("failed to remove worktree cleanly: %w\n%s", err, string(output))
	}

	branchCmd := exec.Command("git", "branch", "-D", h.Branch)
	branchCmd.Dir = m.repoDir
	_ = branchCmd.Run() // branch is already gone when remove follows a merge cleanup

	return nil
}

// List returns the paths of all worktrees known to the repository.
func (m *Manager) List() ([]string, error) {
	cmd := exec.Command("git", "worktree", "list", "--porcelain")
	cmd.Dir = m.repoDir

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var worktrees []string
	for _, line := range strings.Split(string(output), "\n") {
		if strings.HasPrefix(line, "worktree ") {
			worktrees = append(worktrees, strings.TrimPrefix(line, "worktree "))
		}
	}
	return worktrees, nil
}

// HasUncommittedChanges checks if a worktree has uncommitted changes.
func (m *Manager) HasUncommittedChanges(path string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = path

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check status: %w", err)
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// CommitAll commits all changes in a worktree. A worktree with nothing
// to commit is not an error.
func (m *Manager) CommitAll(path, message string) error {
	addCmd := exec.Command("git", "add", "-A")
	addCmd.Dir = path
	if output, err := addCmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to add changes: %w\n%s", err, string(output))
	}

	commitCmd := exec.Command("git", "commit", "-m", message)
	commitCmd.Dir = path
	if output, err := commitCmd.CombinedOutput(); err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return nil
		}
		return fmt.Errorf("failed to commit: %w\n%s", err, string(output))
	}
	return nil
}

// HasCommitsBeyondTarget returns true if the handle's branch has
// commits the target line does not.
func (m *Manager) HasCommitsBeyondTarget(h *Handle) (bool, error) {
	cmd := exec.Command("git", "rev-list", "--count", m.targetBranch+".."+h.Branch)
	cmd.Dir = m.repoDir

	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to count commits: %w", err)
	}

	count := 0
	_, _ = fmt.Sscanf(strings.TrimSpace(string(output)), "%d", &count)
	return count > 0, nil
}

// checkoutTarget ensures the repository root has the target branch
// checked out before a merge. Must be called with mergeMu held.
func (m *Manager) checkoutTarget() error {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = m.repoDir
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	if strings.TrimSpace(string(output)) == m.targetBranch {
		return nil
	}

	checkout := exec.Command("git", "checkout", m.targetBranch)
	checkout.Dir = m.repoDir
	if out, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to checkout %s: %w\n%s", m.targetBranch, err, string(out))
	}
	return nil
}

// revParseHead returns the commit hash at the tip of the repo root.
func (m *Manager) revParseHead() (string, error) {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = m.repoDir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to resolve merge commit: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// findMainBranch returns the name of the main branch (main or master).
func (m *Manager) findMainBranch() string {
	cmd := exec.Command("git", "rev-parse", "--verify", "main")
	cmd.Dir = m.repoDir
	if err := cmd.Run(); err == nil {
		return "main"
	}
	return "master"
}
