package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrNotReady means no artifact pair has been loaded yet.
var ErrNotReady = errors.New("pipeline not loaded")

// Holder publishes the current pipeline. A pipeline is never mutated; a
// reload builds a new one and swaps the pointer.
type Holder struct {
	current atomic.Pointer[Pipeline]
}

func NewHolder(p *Pipeline) *Holder {
	h := &Holder{}
	if p != nil {
		h.current.Store(p)
	}
	return h
}

func (h *Holder) Current() *Pipeline { return h.current.Load() }

func (h *Holder) Swap(p *Pipeline) { h.current.Store(p) }

// LoadFunc builds a pipeline from the artifact pair on disk.
type LoadFunc func() (*Pipeline, error)

// Reloader rebuilds the pipeline when the artifact files change. A failed
// reload keeps serving the previous pipeline.
type Reloader struct {
	holder   *Holder
	load     LoadFunc
	logger   *zap.Logger
	debounce time.Duration
}

func NewReloader(holder *Holder, load LoadFunc, logger *zap.Logger) *Reloader {
	return &Reloader{holder: holder, load: load, logger: logger, debounce: 250 * time.Millisecond}
}

func (r *Reloader) Reload() error {
	p, err := r.load()
	if err != nil {
		r.logger.Warn("artifact reload failed, keeping current pipeline", zap.Error(err))
		return err
	}
	prev := r.holder.Current()
	r.holder.Swap(p)
	fields := []zap.Field{zap.String("fingerprint", p.Fingerprint())}
	if prev != nil {
		fields = append(fields, zap.String("previous", prev.Fingerprint()))
	}
	r.logger.Info("pipeline loaded", fields...)
	return nil
}

// Watch blocks until ctx is done, reloading after writes to any of paths.
// Directories are watched rather than files because artifacts are replaced
// by rename.
func (r *Reloader) Watch(ctx context.Context, paths ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ok := targets[abs]; !ok {
				continue
			}
			r.logger.Debug("artifact changed", zap.String("path", abs), zap.String("op", event.Op.String()))
			timer.Reset(r.debounce)
		case <-timer.C:
			_ = r.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}
