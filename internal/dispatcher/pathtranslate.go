package dispatcher

import (
	"os"
	"path/filepath"
	"strings"
)

// PathTranslator rewrites a stored "canonical" path (which may reflect
// the host that performed indexing) into a path that exists on the
// host currently serving queries (spec 4.1 "Path translation").
type PathTranslator struct {
	// ServingRoot is the workspace root on the current host.
	ServingRoot string

	// CanonicalPrefixes lists path prefixes recognized as referring to
	// ServingRoot on another host (e.g. the indexing container's mount
	// point). The first matching prefix is substituted.
	CanonicalPrefixes []string

	// exists is overridable in tests; defaults to checking the real
	// filesystem.
	exists func(path string) bool
}

func newPathTranslator(servingRoot string, prefixes []string) *PathTranslator {
	return &PathTranslator{
		ServingRoot:       servingRoot,
		CanonicalPrefixes: prefixes,
		exists:            fileExists,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Translate substitutes a recognized canonical prefix with ServingRoot
// and returns the result only if it exists on this host; otherwise it
// returns the original path unchanged, per spec 4.1: "if the
// translated path does not exist, return the original relative form."
func (t *PathTranslator) Translate(path string) string {
	if t == nil || t.ServingRoot == "" {
		return path
	}
	for _, prefix := range t.CanonicalPrefixes {
		if prefix == "" || !strings.HasPrefix(path, prefix) {
			continue
		}
		rel := strings.TrimPrefix(path, prefix)
		candidate := filepath.Join(t.ServingRoot, rel)
		if t.exists(candidate) {
			return candidate
		}
		return path
	}
	return path
}
