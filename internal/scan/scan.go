package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Matcher decides, by base name, whether a directory entry is wanted.
type Matcher func(name string) bool

// HasSuffix matches names ending in suffix (case-sensitive, like the portal's own names).
func HasSuffix(suffix string) Matcher {
	return func(name string) bool { return strings.HasSuffix(name, suffix) }
}

// Files lists the regular files directly under dir that match m, sorted by name.
// Subdirectories are not descended into.
func Files(dir string, m Matcher) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m == nil || m(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// DataDir is the directory holding the raw files of a dataset.
func DataDir(datasetPath string) string {
	return filepath.Join(datasetPath, "DADOS")
}
