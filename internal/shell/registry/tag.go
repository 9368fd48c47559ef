package registry

import (
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/quillmed/caravel/internal/core/imagetag"
)

// =============================================================================
// Tag Derivation
// =============================================================================

// DeriveTag picks a deterministic tag for the build context: the source
// revision when the context is under version control, a digest of the
// context contents otherwise, and a timestamp only when the context cannot
// be read at all.
func DeriveTag(contextDir string) string {
	return imagetag.Derive(gitRevision(contextDir), contextDigestParts(contextDir), time.Now())
}

func gitRevision(dir string) string {
	out, err := exec.Command("git", "-C", dir, "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// contextDigestParts collects every file in the context, path and content,
// in lexical walk order so the digest is stable across runs.
func contextDigestParts(dir string) [][]byte {
	var parts [][]byte
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		parts = append(parts, []byte(rel), data)
		return nil
	})
	if err != nil {
		return nil
	}
	return parts
}
