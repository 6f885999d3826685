package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceDelay   = 250 * time.Millisecond
	maxWatchBackoff = 30 * time.Second
)

// ConfigErrorReporter is told about catalog files that fail to load.
type ConfigErrorReporter func(ctx context.Context, path string, err error)

// Watch reloads the catalog whenever its file changes, until ctx is done.
// The parent directory is watched rather than the file so that editors which
// replace the file by rename are picked up. A broken file leaves the last
// good catalog in place and is passed to onError.
func (l *Loader) Watch(ctx context.Context, onError ConfigErrorReporter) error {
	backoff := time.Second
	for {
		err := l.watchOnce(ctx, onError)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warn("catalog watcher stopped, restarting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxWatchBackoff {
			backoff = maxWatchBackoff
		}
	}
}

func (l *Loader) watchOnce(ctx context.Context, onError ConfigErrorReporter) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(l.path)
	base := filepath.Base(l.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	l.logger.Info("watching catalog", slog.String("path", l.path))

	reload := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if !strings.EqualFold(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) &&
				!ev.Op.Has(fsnotify.Rename) && !ev.Op.Has(fsnotify.Chmod) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			l.logger.Warn("catalog watcher error", slog.String("error", err.Error()))

		case <-reload:
			if _, _, err := l.Load(ctx); err != nil {
				l.logger.Error("catalog reload failed, keeping previous catalog",
					slog.String("path", l.path),
					slog.String("error", err.Error()),
				)
				if onError != nil {
					onError(ctx, l.path, err)
				}
			}
		}
	}
}

type watcherError string

func (e watcherError) Error() string { return string(e) }

const errWatcherClosed = watcherError("catalog: watcher channel closed")

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
