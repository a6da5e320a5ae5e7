package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestRepo wraps a temporary git repository for testing.
type TestRepo struct {
	T   *testing.T
	Dir string
}

// NewTestRepo creates a temp dir, initializes git, and configures user identity.
func NewTestRepo(t *testing.T) *TestRepo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	dir := t.TempDir()
	r := &TestRepo{T: t, Dir: dir}
	r.Run("init")
	r.Run("config", "user.email", "test@test.com")
	r.Run("config", "user.name", "Test")
	return r
}

// Run executes a git command in the repo and fails the test on error.
func (r *TestRepo) Run(args ...string) string {
	r.T.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.T.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// WriteFile writes a file under the repo root.
func (r *TestRepo) WriteFile(filename, content string) {
	r.T.Helper()
	path := filepath.Join(r.Dir, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		r.T.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		r.T.Fatal(err)
	}
}

// CommitFile writes a file and commits it.
func (r *TestRepo) CommitFile(filename, content, msg string) {
	r.T.Helper()
	r.WriteFile(filename, content)
	r.Run("add", filename)
	r.Run("commit", "-m", msg)
}

func TestRepoRoot(t *testing.T) {
	r := NewTestRepo(t)
	r.CommitFile("sub/dir/file.txt", "hello\n", "init")

	root, err := RepoRoot(filepath.Join(r.Dir, "sub", "dir"))
	if err != nil {
		t.Fatal(err)
	}
	// Resolve symlinks: macOS temp dirs live under /private
	wantRoot, _ := filepath.EvalSymlinks(r.Dir)
	gotRoot, _ := filepath.EvalSymlinks(root)
	if gotRoot != wantRoot {
		t.Errorf("RepoRoot = %q, want %q", gotRoot, wantRoot)
	}
}

func TestHasUncommittedChanges(t *testing.T) {
	r := NewTestRepo(t)
	r.CommitFile("a.txt", "one\n", "init")

	dirty, err := HasUncommittedChanges(r.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if dirty {
		t.Error("clean repo reported dirty")
	}

	r.WriteFile("a.txt", "two\n")
	dirty, err = HasUncommittedChanges(r.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if !dirty {
		t.Error("modified repo reported clean")
	}
}

func TestDirtyDiffTrackedAndUntracked(t *testing.T) {
	r := NewTestRepo(t)
	r.CommitFile("a.txt", "one\n", "init")

	r.WriteFile("a.txt", "two\n")
	r.WriteFile("new.txt", "fresh\n")

	diff, err := DirtyDiff(r.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(diff, "-one") || !strings.Contains(diff, "+two") {
		t.Errorf("tracked change missing from diff:\n%s", diff)
	}
	if !strings.Contains(diff, "diff --git a/new.txt b/new.txt") {
		t.Errorf("untracked file missing from diff:\n%s", diff)
	}
	if !strings.Contains(diff, "+fresh") {
		t.Errorf("untracked content missing from diff:\n%s", diff)
	}
}

func TestDirtyDiffNoCommitsYet(t *testing.T) {
	r := NewTestRepo(t)
	r.WriteFile("a.txt", "staged\n")
	r.Run("add", "a.txt")

	diff, err := DirtyDiff(r.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(diff, "+staged") {
		t.Errorf("staged file missing from unborn-HEAD diff:\n%s", diff)
	}
}

func TestDirtyDiffExcludesLockFiles(t *testing.T) {
	r := NewTestRepo(t)
	r.CommitFile("a.txt", "one\n", "init")
	r.WriteFile("package-lock.json", "{}\n")
	r.WriteFile("go.sum", "abc\n")

	diff, err := DirtyDiff(r.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(diff, "package-lock.json") || strings.Contains(diff, "go.sum") {
		t.Errorf("lock file leaked into diff:\n%s", diff)
	}
}

func TestDiffRange(t *testing.T) {
	r := NewTestRepo(t)
	r.CommitFile("a.txt", "one\n", "first")
	base := r.Run("rev-parse", "HEAD")
	r.CommitFile("a.txt", "two\n", "second")

	diff, err := DiffRange(r.Dir, base+"..HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(diff, "-one") || !strings.Contains(diff, "+two") {
		t.Errorf("range diff missing change:\n%s", diff)
	}
}

func TestRepoRefPrefersRemote(t *testing.T) {
	r := NewTestRepo(t)
	r.CommitFile("a.txt", "one\n", "init")
	r.Run("remote", "add", "origin", "git@github.com:acme/widgets.git")

	if got := RepoRef(r.Dir); got != "github.com/acme/widgets" {
		t.Errorf("RepoRef = %q, want github.com/acme/widgets", got)
	}
}

func TestRepoRefFallsBackToRoot(t *testing.T) {
	r := NewTestRepo(t)
	r.CommitFile("a.txt", "one\n", "init")

	got := RepoRef(r.Dir)
	wantRoot, _ := filepath.EvalSymlinks(r.Dir)
	gotRoot, _ := filepath.EvalSymlinks(got)
	if gotRoot != wantRoot {
		t.Errorf("RepoRef = %q, want repo root %q", got, r.Dir)
	}
}

func TestNormalizeRemote(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"git@github.com:acme/widgets.git", "github.com/acme/widgets"},
		{"https://github.com/acme/widgets.git", "github.com/acme/widgets"},
		{"https://github.com/acme/widgets", "github.com/acme/widgets"},
		{"ssh://git@github.com/acme/widgets.git", "github.com/acme/widgets"},
		{"git://github.com/acme/widgets.git", "github.com/acme/widgets"},
		{"https://gitlab.example.com/group/sub/proj.git/", "gitlab.example.com/group/sub/proj"},
	}
	for _, tc := range cases {
		if got := NormalizeRemote(tc.in); got != tc.want {
			t.Errorf("NormalizeRemote(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsExcludedFile(t *testing.T) {
	excluded := []string{"go.sum", "sub/dir/yarn.lock", "Cargo.lock"}
	for _, f := range excluded {
		if !isExcludedFile(f) {
			t.Errorf("%s should be excluded", f)
		}
	}
	kept := []string{"main.go", "lock.go", "sub/go.summary"}
	for _, f := range kept {
		if isExcludedFile(f) {
			t.Errorf("%s should not be excluded", f)
		}
	}
}

func TestIsBinaryContent(t *testing.T) {
	if isBinaryContent([]byte("plain text\n")) {
		t.Error("text flagged binary")
	}
	if !isBinaryContent([]byte{0x89, 'P', 'N', 'G', 0x00}) {
		t.Error("null-byte content not flagged binary")
	}
}
