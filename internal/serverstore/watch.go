package serverstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vikashloomba/mcp-connection-manager-go/pkg/mcpmgr"
)

// ChangeFunc receives the servers after the file changed, or the error that
// prevented reading them.
type ChangeFunc func(servers []mcpmgr.ServerConfig, err error)

// Watch starts watching the servers file and returns once the watch is in
// place. fn runs on a single goroutine after each burst of changes until ctx
// is done. The parent directory is watched rather than the file so that
// atomic replacements by editors (and by Save) are seen.
func (s *Store) Watch(ctx context.Context, fn ChangeFunc) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("serverstore: create %s: %w", dir, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("serverstore: create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("serverstore: watch %s: %w", dir, err)
	}
	go s.watchLoop(ctx, watcher, fn)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, fn ChangeFunc) {
	defer watcher.Close()

	var debounce *time.Timer
	var fire <-chan time.Time
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(s.opts.Debounce)
			} else {
				debounce.Reset(s.opts.Debounce)
			}
			fire = debounce.C
		case <-fire:
			fire = nil
			servers, err := s.List()
			if err != nil {
				s.opts.Logger.Warn("reload servers file", "path", s.path, "error", err)
			}
			fn(servers, err)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.opts.Logger.Warn("servers file watcher", "path", s.path, "error", err)
		}
	}
}
