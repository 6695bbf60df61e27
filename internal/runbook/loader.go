package runbook

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Loader reads runbook definitions from a directory of JSON or YAML files.
// Each file holds one runbook or an array of runbooks.
type Loader struct {
	dir string
}

// NewLoader creates a loader for the given directory.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads and validates every runbook file in the directory. Files are
// read in name order so equal-priority matching stays deterministic across
// reloads.
func (l *Loader) Load() ([]*Runbook, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read runbook directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var runbooks []*Runbook
	for _, name := range names {
		path := filepath.Join(l.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}

		var parsed []*Runbook
		if strings.EqualFold(filepath.Ext(name), ".json") {
			parsed, err = ParseJSON(data)
		} else {
			parsed, err = ParseYAML(data)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		runbooks = append(runbooks, parsed...)
	}

	slog.Info("loaded runbooks", "dir", l.dir, "count", len(runbooks))
	return runbooks, nil
}

// Reload loads the directory and atomically installs the result into the
// matcher. On error the matcher keeps its current set.
func (l *Loader) Reload(m *Matcher) error {
	runbooks, err := l.Load()
	if err != nil {
		return err
	}
	m.Replace(runbooks)
	return nil
}
