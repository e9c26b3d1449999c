package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s failed: %v\n%s", strings.Join(args, " "), err, output)
	}
	return strings.TrimSpace(string(output))
}

// initRepo creates a fresh repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init", "-b", "main")
	runGit(t, dir, "config", "user.email", "test@example.com")
	runGit(t, dir, "config", "user.name", "Test")

	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0644); err != nil {
		t.Fatal(err)
	}
	runGit(t, dir, "add", "-A")
	runGit(t, dir, "commit", "-m", "initial commit")
	return dir
}

func TestFindGitRoot(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	root, err := FindGitRoot(nested)
	if err != nil {
		t.Fatalf("FindGitRoot() error = %v", err)
	}
	// Resolve symlinks; macOS t.TempDir lives under /private.
	wantRoot, _ := filepath.EvalSymlinks(dir)
	gotRoot, _ := filepath.EvalSymlinks(root)
	if gotRoot != wantRoot {
		t.Errorf("FindGitRoot() = %q, want %q", gotRoot, wantRoot)
	}

	if _, err := FindGitRoot(t.TempDir()); err == nil {
		t.Error("FindGitRoot() on non-repo should error")
	}
}

func TestDeterministicNaming(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	m, err := NewManager(dir, "auth-feature", "")
	if err != nil {
		t.Fatal(err)
	}

	if got := m.BranchName("wp01"); got != "auth-feature-wp01" {
		t.Errorf("BranchName() = %q, want %q", got, "auth-feature-wp01")
	}
	wantPath := filepath.Join(m.repoDir, ".worktrees", "auth-feature-wp01")
	if got := m.WorktreePath("wp01"); got != wantPath {
		t.Errorf("WorktreePath() = %q, want %q", got, wantPath)
	}
	if m.TargetBranch() != "main" {
		t.Errorf("TargetBranch() = %q, want main", m.TargetBranch())
	}
}

func TestCreateAndDiscard(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	m, err := NewManager(dir, "feat", "main")
	if err != nil {
		t.Fatal(err)
	}

	h, err := m.Create("wp01")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := os.Stat(h.Path); err != nil {
		t.Fatalf("worktree path missing: %v", err)
	}

	worktrees, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(worktrees) != 2 { // root + one worktree
		t.Errorf("List() = %d entries, want 2", len(worktrees))
	}

	if err := m.Discard(h); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	if _, err := os.Stat(h.Path); !os.IsNotExist(err) {
		t.Error("worktree directory should be removed after Discard")
	}

	// Branch must be gone so a rerun can recreate it.
	cmd := exec.Command("git", "rev-parse", "--verify", h.Branch)
	cmd.Dir = dir
	if err := cmd.Run(); err == nil {
		t.Errorf("branch %s should be deleted after Discard", h.Branch)
	}
}

func TestCommitAllAndMerge(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	m, err := NewManager(dir, "feat", "main")
	if err != nil {
		t.Fatal(err)
	}

	h, err := m.Create("wp01")
	if err != nil {
		t.Fatal(err)
	}

	hasCommits, err := m.HasCommitsBeyondTarget(h)
	if err != nil {
		t.Fatal(err)
	}
	if hasCommits {
		t.Error("fresh branch should have no commits beyond target")
	}

	if err := os.WriteFile(filepath.Join(h.Path, "feature.go"), []byte("package feat\n"), 0644); err != nil {
		t.Fatal(err)
	}

	dirty, err := m.HasUncommittedChanges(h.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !dirty {
		t.Error("HasUncommittedChanges() = false, want true")
	}

	if err := m.CommitAll(h.Path, "wp01: add feature"); err != nil {
		t.Fatalf("CommitAll() error = %v", err)
	}
	// A second CommitAll with nothing new must not error.
	if err := m.CommitAll(h.Path, "wp01: noop"); err != nil {
		t.Fatalf("CommitAll() with clean tree error = %v", err)
	}

	hasCommits, err = m.HasCommitsBeyondTarget(h)
	if err != nil {
		t.Fatal(err)
	}
	if !hasCommits {
		t.Error("branch should have commits beyond target after CommitAll")
	}

	commit, err := m.Merge(h)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if commit == "" {
		t.Error("Merge() returned empty commit hash")
	}
	if h.CommitHash != commit {
		t.Errorf("handle CommitHash = %q, want %q", h.CommitHash, commit)
	}

	// The merged file must exist on main.
	if _, err := os.Stat(filepath.Join(dir, "feature.go")); err != nil {
		t.Errorf("merged file missing on target branch: %v", err)
	}
	if _, err := os.Stat(h.Path); !os.IsNotExist(err) {
		t.Error("worktree should be removed after Merge")
	}
}

func TestMergeConflictAborts(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	m, err := NewManager(dir, "feat", "main")
	if err != nil {
		t.Fatal(err)
	}

	h1, err := m.Create("wp01")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := m.Create("wp02")
	if err != nil {
		t.Fatal(err)
	}

	// Both branches change the same line of the same file.
	if err := os.WriteFile(filepath.Join(h1.Path, "README.md"), []byte("from wp01\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(h2.Path, "README.md"), []byte("from wp02\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := m.CommitAll(h1.Path, "wp01 change"); err != nil {
		t.Fatal(err)
	}
	if err := m.CommitAll(h2.Path, "wp02 change"); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Merge(h1); err != nil {
		t.Fatalf("first merge should succeed: %v", err)
	}
	if _, err := m.Merge(h2); err == nil {
		t.Fatal("conflicting merge should fail")
	}

	// The target line must be left clean after the aborted merge.
	status := runGit(t, dir, "status", "--porcelain")
	if status != "" {
		t.Errorf("repository dirty after aborted merge:\n%s", status)
	}

	data, err := os.ReadFile(filepath.Join(dir, "README.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "from wp01\n" {
		t.Errorf("README content = %q, want wp01's version intact", data)
	}
}

func TestConcurrentMergesSerialize(t *testing.T) {
	requireGit(t)
	dir := initRepo(t)

	m, err := NewManager(dir, "feat", "main")
	if err != nil {
		t.Fatal(err)
	}

	const n = 4
	handles := make([]*Handle, n)
	for i := range handles {
		h, err := m.Create(strings.ToLower(strings.Replace("wp0X", "X", string(rune('1'+i)), 1)))
		if err != nil {
			t.Fatal(err)
		}
		// Each branch touches its own file so merges never conflict.
		name := filepath.Join(h.Path, h.WPID+".txt")
		if err := os.WriteFile(name, []byte(h.WPID+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := m.CommitAll(h.Path, h.WPID+": work"); err != nil {
			t.Fatal(err)
		}
		handles[i] = h
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if _, err := m.Merge(h); err != nil {
				errs <- err
			}
		}(h)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Merge() error = %v", err)
	}

	for _, h := range handles {
		if _, err := os.Stat(filepath.Join(dir, h.WPID+".txt")); err != nil {
			t.Errorf("file for %s missing on target after merges: %v", h.WPID, err)
		}
	}
}
