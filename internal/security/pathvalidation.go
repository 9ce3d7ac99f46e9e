// Package security validates filesystem paths that were influenced by
// client input before the server writes to them.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory reports an error unless path resolves to a
// location inside dir. Symlinks in dir and in path's nearest existing
// ancestor are resolved first, so a link pointing outside dir cannot be
// used to escape it.
func ValidatePathWithinDirectory(path, dir string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	canonDir, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("directory %s: %w", dir, err)
	}
	canonPath := resolveExisting(absPath)

	rel, err := filepath.Rel(canonDir, canonPath)
	if err != nil {
		return fmt.Errorf("path %s is not relative to %s", path, dir)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %s escapes directory %s", path, dir)
	}
	return nil
}

// resolveExisting resolves symlinks in abs, falling back to resolving the
// nearest existing ancestor when abs itself does not exist yet.
func resolveExisting(abs string) string {
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	for cur := abs; ; {
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, relErr := filepath.Rel(parent, abs)
			if relErr != nil {
				return abs
			}
			return filepath.Join(resolved, rel)
		}
		cur = parent
	}
}
