package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay debounces bursts of writes from editors.
const reloadDelay = 500 * time.Millisecond

// Watch recompiles the policy whenever path changes, until ctx is done.
// A module that fails to compile is logged and the previous one is kept.
func (p *AccessPolicy) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so atomic renames are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go p.processEvents(ctx, watcher, filepath.Clean(path))

	p.logger.Info().Str("path", path).Msg("Started watching access policy")
	return nil
}

func (p *AccessPolicy) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	defer watcher.Close()

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
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
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			p.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Access policy changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				if err := p.CompileFile(ctx, path); err != nil {
					p.logger.Error().Err(err).Str("path", path).Msg("Failed to reload access policy")
					return
				}
				p.logger.Info().Str("path", path).Msg("Access policy reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}
