package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vinayprograms/agentkit/logging"
)

// Watcher holds the active pipeline and rebuilds it when the policy file
// changes. A file that fails to parse leaves the previous pipeline in place.
type Watcher struct {
	path    string
	src     SchemaSource
	current atomic.Pointer[Pipeline]
	reloads atomic.Int64
	logger  *logging.Logger
}

// NewWatcher loads path once. Call Run to follow changes.
func NewWatcher(path string, src SchemaSource) (*Watcher, error) {
	w := &Watcher{
		path:   path,
		src:    src,
		logger: logging.New().WithComponent("policy-watcher"),
	}
	if err := w.reload(); err != nil {
		return nil, err
	}
	return w, nil
}

// Pipeline returns the pipeline currently in force.
func (w *Watcher) Pipeline() *Pipeline { return w.current.Load() }

// Reloads counts successful reloads after the initial load.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// Evaluate runs the current pipeline.
func (w *Watcher) Evaluate(ctx context.Context, tool string, params map[string]interface{}, sessionID string) Result {
	return w.Pipeline().Evaluate(ctx, tool, params, sessionID)
}

func (w *Watcher) reload() error {
	f, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	p, err := f.Build(w.src)
	if err != nil {
		return fmt.Errorf("build policy %s: %w", w.path, err)
	}
	w.current.Store(p)
	return nil
}

// Run watches the file's directory until ctx is done. Editors often replace
// files by rename, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch policy dir: %w", err)
	}
	target := filepath.Clean(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			// Let writes settle
			time.Sleep(50 * time.Millisecond)
			if err := w.reload(); err != nil {
				w.logger.Warn("policy reload failed, keeping previous", map[string]interface{}{
					"path":  w.path,
					"error": err.Error(),
				})
				continue
			}
			w.reloads.Add(1)
			w.logger.Info("policy reloaded", map[string]interface{}{"path": w.path})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
