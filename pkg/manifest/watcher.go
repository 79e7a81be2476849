package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

// defaultDebounce coalesces bursts of file events into one reload.
const defaultDebounce = 500 * time.Millisecond

// SubmitFunc receives each successfully reloaded node set.
type SubmitFunc func(ctx context.Context, nodes []resource.Node)

// Watcher watches the manifest paths and resubmits the desired state when
// the files change. A reload that fails to parse keeps the previously
// submitted state: a broken edit never tears running workloads down.
type Watcher struct {
	parser   *Parser
	paths    []string
	format   Format
	debounce time.Duration
	submit   SubmitFunc
	events   *telemetry.EventPublisher
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewWatcher creates a manifest watcher. A nil events publisher disables
// bus reporting; a non-positive debounce falls back to the default.
func NewWatcher(paths []string, format Format, debounce time.Duration, submit SubmitFunc, events *telemetry.EventPublisher, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{
		parser:   NewParser(),
		paths:    paths,
		format:   format,
		debounce: debounce,
		submit:   submit,
		events:   events,
		logger:   logger.With().Str("component", "manifest-watcher").Logger(),
	}
}

// Run performs an initial load and then watches for changes until the
// context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create manifest watcher: %w", err)
	}
	defer fw.Close()

	for _, path := range w.paths {
		if err := addWatchPath(fw, path); err != nil {
			w.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch manifest path")
		}
	}

	w.Reload(ctx)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Manifest file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() { w.Reload(ctx) })

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Manifest watcher error")
		}
	}
}

// Reload parses every manifest path and submits the resolved node set.
// Safe to call from a signal handler while Run is active.
func (w *Watcher) Reload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	nodes, err := w.parser.LoadAll(w.paths, w.format)
	if err != nil {
		w.logger.Error().Err(err).Msg("Manifest reload failed; keeping previous desired state")
		w.publish(telemetry.Event{
			Type:    telemetry.EventTypeManifestRejected,
			Source:  "manifest-watcher",
			Message: "Manifest reload failed; previous desired state kept",
			Level:   telemetry.EventLevelError,
			Data:    map[string]interface{}{"error": err.Error()},
		})
		return
	}

	w.logger.Info().Int("resources", len(nodes)).Msg("Manifests loaded")
	w.publish(telemetry.Event{
		Type:    telemetry.EventTypeManifestLoaded,
		Source:  "manifest-watcher",
		Message: fmt.Sprintf("Loaded %d desired resources", len(nodes)),
		Level:   telemetry.EventLevelInfo,
		Data:    map[string]interface{}{"resources": len(nodes)},
	})
	w.submit(ctx, nodes)
}

// publish sends an event when a bus is wired.
func (w *Watcher) publish(evt telemetry.Event) {
	if w.events == nil {
		return
	}
	_ = w.events.Publish(evt)
}

// relevant filters events down to manifest files in the watched format.
// Removals and renames count: deleting a manifest is a desired-state
// change.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	format, err := DetectFormat(event.Name)
	if err != nil {
		return false
	}
	return w.format == "" || format == w.format
}

// addWatchPath registers a path with the notifier. Directories are
// walked so nested manifests are covered. For a file path the parent
// directory is watched instead, which keeps coverage across editors
// that replace the file on save.
func addWatchPath(fw *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fw.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(entry string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(entry)
		}
		return nil
	})
}
