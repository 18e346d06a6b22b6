package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"riskgate/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Overrides is the hot-reloadable subset of configuration: the structural
// guard thresholds. Hard limits and kill-switch ceilings are deliberately
// not reloadable; changing those requires a restart.
type Overrides struct {
	Guards *GuardsConfig `yaml:"guards"`
}

// LoadOverrides parses the overrides file. A missing guards block is not an
// error; it simply yields no override. Unknown keys are rejected so a
// non-reloadable threshold dropped into this file fails loudly instead of
// being silently ignored.
func LoadOverrides(path string) (*Overrides, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ov Overrides
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&ov); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing overrides %s: %w", path, err)
	}
	if ov.Guards != nil {
		if err := ov.Guards.validate(); err != nil {
			return nil, fmt.Errorf("overrides %s rejected: %w", path, err)
		}
	}
	return &ov, nil
}

// WatchOverrides re-applies the overrides file whenever it changes on disk.
// A malformed or invalid file is logged and skipped; the previous thresholds
// stay in force. Blocks until ctx is done.
func WatchOverrides(ctx context.Context, path string, apply func(GuardsConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files, which drops a watch on the
	// file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	reload := func() {
		ov, err := LoadOverrides(target)
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warnf("guard overrides reload failed: %v", err)
			}
			return
		}
		if ov.Guards == nil {
			return
		}
		apply(*ov.Guards)
		logger.Infof("guard overrides applied from %s", target)
	}
	reload()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("overrides watcher error: %v", err)
		}
	}
}
