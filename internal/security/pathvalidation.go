// Package security guards filesystem paths handed in by HTTP clients.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory rejects paths that resolve outside root.
// Symlinks are followed before the containment check, so a link inside
// root pointing elsewhere does not open an escape. For paths that do not
// exist yet, the nearest existing ancestor is resolved instead.
func ValidatePathWithinDirectory(path, root string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	canonical, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		canonical = resolveThroughAncestor(absPath)
	}

	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("resolving root symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonical)
	if err != nil {
		return fmt.Errorf("path outside %s: %w", root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path %s escapes %s", path, root)
	}
	return nil
}

// resolveThroughAncestor walks up to the nearest existing directory,
// resolves its symlinks, then rejoins the remaining components. This
// catches links like root/evil -> /etc even when the final file is
// missing.
func resolveThroughAncestor(absPath string) string {
	probe := absPath
	for {
		parent := filepath.Dir(probe)
		if parent == probe {
			return absPath
		}
		if resolved, err := filepath.EvalSymlinks(parent); err == nil {
			rel, _ := filepath.Rel(parent, absPath)
			return filepath.Join(resolved, rel)
		}
		probe = parent
	}
}
