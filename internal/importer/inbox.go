package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"bilancio/internal/log"
	"bilancio/internal/metrics"

	"github.com/fsnotify/fsnotify"
)

const (
	ProcessedDir = "processed"
	FailedDir    = "failed"

	defaultSettle = 250 * time.Millisecond
)

// Inbox watches a directory for operations files. Each file is imported
// once its writes have settled, then moved to processed/ or failed/.
type Inbox struct {
	dir      string
	importer *Importer
	logger   *log.Logger
	settle   time.Duration
}

func NewInbox(dir string, im *Importer) *Inbox {
	return &Inbox{
		dir:      dir,
		importer: im,
		logger:   im.logger,
		settle:   defaultSettle,
	}
}

// WithSettle overrides the quiet period a file must see before import.
func (in *Inbox) WithSettle(d time.Duration) *Inbox {
	if d > 0 {
		in.settle = d
	}
	return in
}

func isOperationsFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(filepath.Base(name), ".")
}

// Run drains files already in the inbox, then watches it until ctx ends.
func (in *Inbox) Run(ctx context.Context) error {
	for _, sub := range []string{ProcessedDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(in.dir, sub), 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(in.dir); err != nil {
		return fmt.Errorf("inbox watcher add %s: %w", in.dir, err)
	}

	if _, err := in.Drain(ctx); err != nil {
		return err
	}
	in.logger.InfoContext(ctx, "Inbox watcher started", "dir", in.dir)

	pending := map[string]time.Time{}
	ticker := time.NewTicker(in.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			in.logger.InfoContext(ctx, "Inbox watcher stopped", "dir", in.dir)
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isOperationsFile(ev.Name) || filepath.Dir(ev.Name) != filepath.Clean(in.dir) {
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				pending[ev.Name] = time.Now()
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				delete(pending, ev.Name)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			in.logger.WarnContext(ctx, "Inbox watcher error", log.FieldError, err)
		case now := <-ticker.C:
			var ready []string
			for name, last := range pending {
				if now.Sub(last) >= in.settle {
					ready = append(ready, name)
				}
			}
			sort.Strings(ready)
			for _, name := range ready {
				delete(pending, name)
				in.process(ctx, name)
			}
		}
	}
}

// Drain imports every operations file currently in the inbox, in name
// order, and reports how many were imported successfully.
func (in *Inbox) Drain(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return 0, fmt.Errorf("read inbox: %w", err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() || !isOperationsFile(e.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if in.process(ctx, filepath.Join(in.dir, e.Name())) {
			n++
		}
	}
	return n, nil
}

func (in *Inbox) process(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_, err := in.importer.ImportFile(ctx, path)
	if err != nil && ctx.Err() != nil {
		// Interrupted; leave the file for the next run.
		return false
	}
	target := ProcessedDir
	if err != nil {
		target = FailedDir
		in.logger.ErrorContext(ctx, "Import failed", log.FieldFile, path, log.FieldError, err)
	}
	metrics.ImportedFiles.WithLabelValues(target).Inc()

	dest := filepath.Join(in.dir, target, filepath.Base(path))
	if mvErr := os.Rename(path, dest); mvErr != nil {
		in.logger.ErrorContext(ctx, "Failed to move inbox file", log.FieldFile, path, log.FieldError, mvErr)
	}
	return err == nil
}
