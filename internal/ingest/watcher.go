package ingest

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchConfig configures StartWatcher.
type WatchConfig struct {
	Roots       []string // directories to watch (recursive)
	InitialScan bool     // if true, walk roots and emit existing files
	SkipHidden  bool
	Debounce    time.Duration // coalesce rapid update/rename bursts
}

// StartWatcher emits a FileHandle for every allowed file created or written under
// the roots. Both channels close when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *zap.Logger) (<-chan Handle, <-chan error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.With(zap.String("component", "ingest.watcher"))
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	evCh := make(chan Handle, 256)
	errCh := make(chan error, 1)

	var initial []string
	for _, root := range cfg.Roots {
		walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if cfg.SkipHidden && path != root && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && AllowedExt(filepath.Ext(path)) {
				initial = append(initial, path)
			}
			return nil
		})
		if walkErr != nil {
			log.Error("ingest.watcher.add_root_failed", zap.String("root", root), zap.Error(walkErr))
			_ = w.Close()
			return nil, nil, walkErr
		}
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				log.Warn("ingest.watcher.close_error", zap.Error(err))
			}
		}()

		emit := func(path string) bool {
			select {
			case evCh <- NewFileHandle(path):
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		var (
			pending = map[string]struct{}{}
			timer   *time.Timer
			flushCh = make(chan struct{}, 1)
		)
		flush := func() {
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			for _, p := range paths {
				if !emit(p) {
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case <-flushCh:
				flush()
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create == fsnotify.Create {
					// new directories join the watch set; files fail Add harmlessly
					_ = w.Add(e.Name)
				}
				if cfg.SkipHidden && IsHidden(e.Name) {
					continue
				}
				if !AllowedExt(filepath.Ext(e.Name)) || e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					flush()
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(cfg.Debounce, func() {
					select {
					case flushCh <- struct{}{}:
					default:
					}
				})
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("ingest.watcher.error", zap.Error(err))
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}
