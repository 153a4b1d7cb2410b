package badge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// WatchTemplate invalidates cache whenever the template file at path is
// written, replaced or removed. It watches the parent directory so editors
// that save via rename are caught. The watcher stops when ctx is done; the
// returned channel is closed once it has.
func WatchTemplate(ctx context.Context, path string, cache *TemplateCache) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create template watcher: %w", err)
	}
	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					cache.Invalidate()
					log.Info().Str("path", target).Str("op", event.Op.String()).Msg("Badge template changed, cache invalidated")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Template watcher error")
			}
		}
	}()
	log.Info().Str("path", target).Msg("👀 Watching badge template")
	return done, nil
}
