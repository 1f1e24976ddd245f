package common

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	git "github.com/go-git/go-git/v5"
)

// GetCommitHash returns the short HEAD hash of the repository containing the
// working directory or the executable, or "unknown".
func GetCommitHash() string {
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, cwd)
	}
	if exePath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Dir(exePath))
	}
	for _, path := range candidates {
		if hash := headHash(path); hash != "" {
			return shortHash(hash)
		}
	}
	return "unknown"
}

// VersionString formats a release version with the commit it was built from.
func VersionString(version, commit string) string {
	if commit == "" || commit == "unknown" {
		commit = GetCommitHash()
	}
	return fmt.Sprintf("%s (commit %s, %s %s/%s)", version, commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

func shortHash(hash string) string {
	if len(hash) >= 8 {
		return hash[:8]
	}
	return hash
}

func headHash(path string) string {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
