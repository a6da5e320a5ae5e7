// Package git shells out to the git CLI to extract the diffs the client
// submits for review.
package git

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// normalizeMSYSPath converts MSYS-style paths (e.g., /c/Users/...) to Windows paths (C:\Users\...).
// On non-Windows systems, it just applies filepath.FromSlash.
func normalizeMSYSPath(path string) string {
	path = strings.TrimSpace(path)
	if runtime.GOOS == "windows" && len(path) >= 3 && path[0] == '/' {
		if (path[1] >= 'a' && path[1] <= 'z' || path[1] >= 'A' && path[1] <= 'Z') && path[2] == '/' {
			path = strings.ToUpper(string(path[1])) + ":" + path[2:]
		}
	}
	return filepath.FromSlash(path)
}

// RepoRoot returns the root directory of the git repository containing path
func RepoRoot(path string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = path

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse --show-toplevel: %w", err)
	}

	return normalizeMSYSPath(string(out)), nil
}

// HasUncommittedChanges reports whether the working tree has staged or
// unstaged changes to tracked files, or untracked files.
func HasUncommittedChanges(repoPath string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = repoPath

	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("git status: %w", err)
	}

	return len(strings.TrimSpace(string(out))) > 0, nil
}

// RepoRef derives the stable identifier a submission carries for its
// repository: the normalized remote URL when one exists, otherwise the
// repo root path.
func RepoRef(repoPath string) string {
	if url := remoteURL(repoPath); url != "" {
		return NormalizeRemote(url)
	}
	root, err := RepoRoot(repoPath)
	if err != nil {
		return repoPath
	}
	return root
}

// NormalizeRemote reduces a git remote URL to host/owner/repo form so the
// same repository fingerprints identically regardless of clone protocol.
// "git@github.com:acme/widgets.git" and "https://github.com/acme/widgets"
// both become "github.com/acme/widgets".
func NormalizeRemote(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")

	for _, scheme := range []string{"https://", "http://", "ssh://", "git://"} {
		if strings.HasPrefix(url, scheme) {
			url = strings.TrimPrefix(url, scheme)
			break
		}
	}

	// SCP-like syntax: user@host:path
	if at := strings.Index(url, "@"); at != -1 && !strings.Contains(url[:at], "/") {
		url = url[at+1:]
		url = strings.Replace(url, ":", "/", 1)
	}

	return url
}

func remoteURL(repoPath string) string {
	if url := remoteURLByName(repoPath, "origin"); url != "" {
		return url
	}
	// Fall back to any remote
	cmd := exec.Command("git", "remote")
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	for _, remote := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if remote == "" {
			continue
		}
		if url := remoteURLByName(repoPath, remote); url != "" {
			return url
		}
	}
	return ""
}

func remoteURLByName(repoPath, name string) string {
	cmd := exec.Command("git", "remote", "get-url", name)
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// DiffRange returns the diff for a commit range like "main..feature"
func DiffRange(repoPath, rangeRef string) (string, error) {
	args := append([]string{"diff", rangeRef, "--"}, diffPathspec()...)
	cmd := exec.Command("git", args...)
	cmd.Dir = repoPath

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff %s: %w", rangeRef, err)
	}
	return string(out), nil
}

// emptyTreeSHA is the SHA of an empty tree in git, used for diffing repos with no commits
const emptyTreeSHA = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// DirtyDiff returns a diff of all uncommitted changes including untracked
// files. Tracked changes come from git diff HEAD; untracked files are
// rendered as new-file entries. Generated files like lock files are
// excluded.
func DirtyDiff(repoPath string) (string, error) {
	var result strings.Builder

	cmd := exec.Command("git", append([]string{"diff", "HEAD", "--"}, diffPathspec()...)...)
	cmd.Dir = repoPath

	out, err := cmd.Output()
	if err != nil {
		// No HEAD yet (no commits): combine staged-vs-empty-tree with
		// unstaged working tree changes
		cmd = exec.Command("git", append([]string{"diff", "--cached", emptyTreeSHA, "--"}, diffPathspec()...)...)
		cmd.Dir = repoPath
		stagedOut, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("git diff --cached: %w", err)
		}
		result.Write(stagedOut)

		cmd = exec.Command("git", append([]string{"diff", "--"}, diffPathspec()...)...)
		cmd.Dir = repoPath
		unstagedOut, err := cmd.Output()
		if err != nil {
			return "", fmt.Errorf("git diff: %w", err)
		}
		result.Write(unstagedOut)
	} else {
		result.Write(out)
	}

	cmd = exec.Command("git", "ls-files", "--others", "--exclude-standard")
	cmd.Dir = repoPath

	untrackedOut, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git ls-files: %w", err)
	}

	for _, file := range strings.Split(strings.TrimSpace(string(untrackedOut)), "\n") {
		if file == "" || isExcludedFile(file) {
			continue
		}

		content, err := os.ReadFile(filepath.Join(repoPath, file))
		if err != nil {
			// Skip files we can't read (permissions, etc.)
			continue
		}

		if isBinaryContent(content) {
			result.WriteString(fmt.Sprintf("diff --git a/%s b/%s\n", file, file))
			result.WriteString("new file mode 100644\n")
			result.WriteString("Binary file (not shown)\n")
			continue
		}

		result.WriteString(fmt.Sprintf("diff --git a/%s b/%s\n", file, file))
		result.WriteString("new file mode 100644\n")
		result.WriteString("--- /dev/null\n")
		result.WriteString(fmt.Sprintf("+++ b/%s\n", file))

		lines := strings.Split(string(content), "\n")
		lineCount := len(lines)
		if lineCount > 0 && lines[lineCount-1] == "" {
			lineCount-- // Don't count trailing empty line from split
		}
		result.WriteString(fmt.Sprintf("@@ -0,0 +1,%d @@\n", lineCount))

		for i, line := range lines {
			if i == len(lines)-1 && line == "" {
				continue
			}
			result.WriteString("+")
			result.WriteString(line)
			result.WriteString("\n")
		}
	}

	return result.String(), nil
}

// excludedPathPatterns contains pathspec patterns for files that should be
// excluded from diffs. These are generated files that add noise to review.
// Uses :(exclude) long form since :! shorthand doesn't work reliably with git diff.
var excludedPathPatterns = []string{
	":(exclude)uv.lock",
	":(exclude)package-lock.json",
	":(exclude)yarn.lock",
	":(exclude)pnpm-lock.yaml",
	":(exclude)Cargo.lock",
	":(exclude)cargo.lock", // lowercase for case-insensitive filesystems
	":(exclude)Gemfile.lock",
	":(exclude)poetry.lock",
	":(exclude)composer.lock",
	":(exclude)go.sum",
}

func diffPathspec() []string {
	return append([]string{"."}, excludedPathPatterns...)
}

// isExcludedFile checks whether an untracked file matches an exclusion
// pattern, so DirtyDiff filters both halves the same way.
func isExcludedFile(filePath string) bool {
	for _, pattern := range excludedPathPatterns {
		p := strings.TrimPrefix(pattern, ":(exclude)")
		if filePath == p || strings.HasSuffix(filePath, "/"+p) {
			return true
		}
	}
	return false
}

// isBinaryContent checks if content appears to be binary (contains null bytes in first 8KB)
func isBinaryContent(content []byte) bool {
	checkLen := len(content)
	if checkLen > 8192 {
		checkLen = 8192
	}
	for i := 0; i < checkLen; i++ {
		if content[i] == 0 {
			return true
		}
	}
	return false
}
