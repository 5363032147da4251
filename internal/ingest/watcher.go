package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatchConfig struct {
	Roots       []string // directories to watch (recursive)
	InitialScan bool     // if true, walk roots and emit existing files
	Debounce    time.Duration
}

// StartWatcher emits paths of page images created or rewritten under the roots.
// Both channels close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("ingest.watch.create_failed", "error", err)
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if d.IsDir() {
				if path != root && IsHidden(path) {
					return filepath.SkipDir
				}
				return w.Add(path)
			}
			if cfg.InitialScan && AllowedExt(filepath.Ext(path)) && !IsHidden(path) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("ingest.watch.add_root_failed", "root", r, "error", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("ingest.watch.close_failed", "error", err)
			}
		}()

		var (
			mu      sync.Mutex
			timer   *time.Timer
			pending = map[string]struct{}{}
			sendWG  sync.WaitGroup
		)
		emit := func(p string) {
			select {
			case evCh <- p:
			case <-ctx.Done():
			}
		}
		flush := func() {
			mu.Lock()
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
				delete(pending, p)
			}
			mu.Unlock()
			for _, p := range batch {
				emit(p)
			}
		}
		defer func() {
			mu.Lock()
			if timer != nil && timer.Stop() {
				sendWG.Done()
			}
			mu.Unlock()
			sendWG.Wait()
			close(evCh)
		}()

		for _, p := range initial {
			emit(p)
		}

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op.Has(fsnotify.Create) {
					// new directories are watched too; Add fails harmlessly on files
					_ = w.Add(e.Name)
				}
				if IsHidden(e.Name) || !AllowedExt(filepath.Ext(e.Name)) || !(e.Op.Has(fsnotify.Create) || e.Op.Has(fsnotify.Write)) {
					continue
				}
				if cfg.Debounce <= 0 {
					emit(e.Name)
					continue
				}
				mu.Lock()
				pending[e.Name] = struct{}{}
				if timer != nil && timer.Stop() {
					sendWG.Done()
				}
				sendWG.Add(1)
				timer = time.AfterFunc(cfg.Debounce, func() {
					defer sendWG.Done()
					flush()
				})
				mu.Unlock()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("ingest.watch.error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// Watch feeds watcher events into the ingestor until ctx is done.
func Watch(ctx context.Context, ing Ingestor, cfg WatchConfig, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	paths, _, err := StartWatcher(ctx, cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("ingest.watch.started", "roots", cfg.Roots, "debounce", cfg.Debounce)
	for p := range paths {
		if _, err := ing.IngestPath(ctx, p); err != nil && ctx.Err() == nil {
			logger.Warn("ingest.path.failed", "path", p, "error", err)
		}
	}
	return nil
}
