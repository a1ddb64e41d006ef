package normalize

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// TaxonomyWatcher hot-reloads taxonomy override files. On every change it
// rebuilds the synonym table from built-ins plus all override files and
// swaps it atomically on the Normalizer. A reload that fails to parse keeps
// the previous table.
type TaxonomyWatcher struct {
	normalizer *Normalizer
	paths      []string
	watched    map[string]struct{}
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	stop       chan struct{}
}

// NewTaxonomyWatcher creates a watcher for the given override paths. The
// initial load happens in Start; a missing file is fine (it may appear
// later), invalid TOML at startup is an error.
func NewTaxonomyWatcher(n *Normalizer, paths []string, logger *zap.Logger) (*TaxonomyWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	watched := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if p != "" {
			watched[filepath.Clean(p)] = struct{}{}
		}
	}

	return &TaxonomyWatcher{
		normalizer: n,
		paths:      paths,
		watched:    watched,
		watcher:    watcher,
		logger:     logger,
		stop:       make(chan struct{}),
	}, nil
}

// Start performs the initial override load and begins watching.
//
// The parent directory of each override file is watched rather than the file
// itself, so editors that replace files by rename still trigger a reload.
func (w *TaxonomyWatcher) Start(ctx context.Context) error {
	groups, err := LoadOverrides(w.paths...)
	if err != nil {
		return err
	}
	w.normalizer.SetTaxonomy(NewTaxonomy(groups))

	dirs := make(map[string]struct{}, len(w.paths))
	for path := range w.watched {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching taxonomy directory %s: %w", dir, err)
		}
	}

	go w.processEvents(ctx)

	return nil
}

// Stop stops the watcher and cleans up resources.
func (w *TaxonomyWatcher) Stop() {
	select {
	case <-w.stop:
		// Already stopped
		return
	default:
		close(w.stop)
		_ = w.watcher.Close() // Best-effort cleanup, ignore error
	}
}

// processEvents handles filesystem events until stopped.
func (w *TaxonomyWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if _, watched := w.watched[filepath.Clean(event.Name)]; !watched {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("taxonomy watcher error", zap.Error(err))
		}
	}
}

// reload rebuilds the taxonomy from all override files and swaps it in.
func (w *TaxonomyWatcher) reload() {
	groups, err := LoadOverrides(w.paths...)
	if err != nil {
		w.logger.Warn("taxonomy override reload failed, keeping previous table",
			zap.Error(err))
		return
	}

	w.normalizer.SetTaxonomy(NewTaxonomy(groups))
	w.logger.Info("taxonomy overrides reloaded",
		zap.Int("override_groups", len(groups)))
}
