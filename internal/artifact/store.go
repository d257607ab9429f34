// Package artifact locates downloaded media on disk, including files that are
// still being written by a download.
package artifact

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/cwygoda/audiodrop/internal/domain"
)

// ErrNotFound is returned when no representation of an artifact exists.
var ErrNotFound = errors.New("artifact not found")

// alternateSuffixes are probed in order: in-progress raw downloads first,
// then finished raw downloads.
var alternateSuffixes = []string{".webm.part", ".m4a.part", ".webm", ".m4a"}

// partialSuffixes extends alternateSuffixes with the finished target.
var partialSuffixes = []string{".webm.part", ".m4a.part", ".webm", ".m4a", domain.TargetExt}

// Store resolves artifact names inside one output directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.dir
}

// Resolve maps a requested file name to the file that should be served.
// An existing non-empty file wins; otherwise the alternates of its basename
// are probed.
func (s *Store) Resolve(name string) (string, error) {
	if !validName(name) {
		return "", ErrNotFound
	}

	path := filepath.Join(s.dir, name)
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		return path, nil
	}

	base := strings.TrimSuffix(path, filepath.Ext(path))
	for _, suffix := range alternateSuffixes {
		candidate := base + suffix
		if isFile(candidate) {
			return candidate, nil
		}
	}
	return "", ErrNotFound
}

// PartialFilename returns the name of the most relevant file for basename.
// In-progress and raw files take precedence over the finished target.
func (s *Store) PartialFilename(basename string) (string, bool) {
	if !validName(basename) {
		return "", false
	}
	for _, suffix := range partialSuffixes {
		name := basename + suffix
		if isFile(filepath.Join(s.dir, name)) {
			return name, true
		}
	}
	return "", false
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
