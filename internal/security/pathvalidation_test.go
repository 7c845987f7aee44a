package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()

	inside := filepath.Join(root, "frame.csv")
	if err := os.WriteFile(inside, []byte("0,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidatePathWithinDirectory(inside, root); err != nil {
		t.Errorf("path inside root rejected: %v", err)
	}

	// Files that do not exist yet are still judged by containment.
	if err := ValidatePathWithinDirectory(filepath.Join(root, "pending.csv"), root); err != nil {
		t.Errorf("missing path inside root rejected: %v", err)
	}
}

func TestValidatePathWithinDirectoryEscapes(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	cases := []string{
		filepath.Join(root, "..", "escape.csv"),
		filepath.Join(outside, "frame.csv"),
		"/etc/passwd",
	}
	for _, path := range cases {
		if err := ValidatePathWithinDirectory(path, root); err == nil {
			t.Errorf("ValidatePathWithinDirectory(%q, root) = nil, want error", path)
		}
	}
}

func TestValidatePathWithinDirectorySymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "frame.csv"), root); err == nil {
		t.Error("symlinked path escaping root was accepted")
	}
}
