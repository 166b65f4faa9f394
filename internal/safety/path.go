package safety

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// CleanRemotePath validates and normalizes a slash-separated path that is
// relative to the deployment root. Paths read from a remote manifest pass
// through here before anything is deleted or renamed on their behalf.
func CleanRemotePath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.Contains(p, "\\") {
		return "", fmt.Errorf("backslash in remote path: %q", p)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute paths are not allowed: %q", p)
	}
	clean := path.Clean(p)
	switch {
	case clean == ".":
		return "", fmt.Errorf("path resolves to the root: %q", p)
	case clean == "..", strings.HasPrefix(clean, "../"):
		return "", fmt.Errorf("parent traversal is not allowed: %q", p)
	}
	return clean, nil
}

// CleanRelativePath is CleanRemotePath for host paths: it accepts either
// separator and returns the path in host form.
func CleanRelativePath(p string) (string, error) {
	clean, err := CleanRemotePath(filepath.ToSlash(p))
	if err != nil {
		return "", err
	}
	return filepath.FromSlash(clean), nil
}

// SafeJoinUnder joins rel under root and verifies the result stays inside
// root.
func SafeJoinUnder(root, rel string) (string, error) {
	cleanRel, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, cleanRel))
}

// EnsureUnderRoot returns candidate as an absolute path, failing if it does
// not resolve under root.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, candAbs)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", candidate)
	}
	return candAbs, nil
}
