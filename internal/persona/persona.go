// Package persona discovers persona prompt files and merges a selection of
// them into one system prompt.
package persona

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const mergeHeader = "<!--\n" +
	"  Multiple persona XML merged.\n" +
	"  NOTE: Later files override earlier ones when rules conflict.\n" +
	"-->\n"

// Library reads persona XML files below a root directory.
type Library struct {
	dir string
}

func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

func (l *Library) Dir() string { return l.dir }

// Scan returns every *.xml file below the root, as slash-separated paths
// relative to it, sorted. A missing root yields no personas.
func (l *Library) Scan() ([]string, error) {
	var found []string
	err := filepath.WalkDir(l.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}
		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			return err
		}
		found = append(found, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan personas in %s: %w", l.dir, err)
	}
	sort.Strings(found)
	return found, nil
}

// Load returns the content of one persona file.
func (l *Library) Load(name string) (string, error) {
	path, err := l.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("persona %s: %w", name, err)
	}
	return string(data), nil
}

// Merge concatenates the named personas in the given order, each wrapped in
// BEGIN/END comments. No names yields an empty prompt.
func (l *Library) Merge(names []string) (string, error) {
	if len(names) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(names))
	for _, name := range names {
		xml, err := l.Load(name)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("<!-- BEGIN: %s -->\n%s\n<!-- END: %s -->", name, xml, name))
	}
	return mergeHeader + strings.Join(parts, "\n\n"), nil
}

// Path returns the absolute path of a persona, for logs.
func (l *Library) Path(name string) string {
	p, err := filepath.Abs(filepath.Join(l.dir, filepath.FromSlash(name)))
	if err != nil {
		return filepath.Join(l.dir, name)
	}
	return p
}

// resolve rejects names that escape the library root.
func (l *Library) resolve(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("persona %q: invalid name", name)
	}
	return filepath.Join(l.dir, clean), nil
}
