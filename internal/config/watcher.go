package config

import (
	"fmt"
	"os"
	"time"
)

// Watcher detects settings-file changes without the core ever re-reading
// the file itself. The control loop polls Changed at cycle boundaries and
// swaps to the new snapshot atomically between cycles.
type Watcher struct {
	path    string
	modTime time.Time
}

// NewWatcher records the file's current modification time as the baseline.
func NewWatcher(path string) (*Watcher, error) {
	w := &Watcher{path: path}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return w, nil
		}
		return nil, fmt.Errorf("stat settings file: %w", err)
	}
	w.modTime = info.ModTime()
	return w, nil
}

// Changed reports whether the file was modified since the last Load.
func (w *Watcher) Changed() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, fmt.Errorf("stat settings file: %w", err)
	}
	return !info.ModTime().Equal(w.modTime), nil
}

// Load re-reads and validates the settings file and records its new
// modification time. On failure the previous snapshot stays authoritative.
func (w *Watcher) Load() (*Config, error) {
	cfg, err := Load(w.path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(w.path)
	if err == nil {
		w.modTime = info.ModTime()
	}
	return cfg, nil
}
