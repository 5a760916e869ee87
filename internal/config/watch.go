package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "contentpilot/pkg/logx"
)

const (
	defaultDebounce = 250 * time.Millisecond
	watchRetry      = 2 * time.Second
)

var errWatcherClosed = errors.New("config watcher closed")

// Watch reloads the config whenever its file changes, until ctx is done.
// Editors write in bursts, so events are debounced before a Reload. A
// watcher that breaks is recreated after a short pause.
func (m *Manager) Watch(ctx context.Context) error {
	return m.watch(ctx, defaultDebounce)
}

func (m *Manager) watch(ctx context.Context, delay time.Duration) error {
	d := &debouncer{delay: delay, fn: func() {
		if _, err := m.Reload(ctx); err != nil && ctx.Err() == nil {
			m.log.Warn("config reload rejected; keeping current config", logx.String("path", m.path), logx.Err(err))
		}
	}}
	defer d.stop()

	for {
		err := m.watchOnce(ctx, d.trigger)
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher failed; retrying", logx.String("path", m.path), logx.Err(err), logx.Duration("retry_in", watchRetry))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(watchRetry):
		}
	}
}

// watchOnce watches the config directory, so editors that replace the file
// by rename are still seen.
func (m *Manager) watchOnce(ctx context.Context, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return err
	}
	name := filepath.Base(m.path)
	m.log.Debug("config watcher started", logx.String("path", m.path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.String("path", m.path))
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.String("path", m.path), logx.Err(err))
		}
	}
}

type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
