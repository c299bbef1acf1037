package classifier

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/teemow/inboxpilot/internal/logging"
)

// WatchPolicy loads the policy file and keeps reloading it whenever it
// changes, until ctx is cancelled. The directory is watched rather than the
// file so editors that replace the file by rename are picked up. A reload
// that fails to parse is logged and the previous table stays active.
func (c *Classifier) WatchPolicy(ctx context.Context, filename string) error {
	policy, err := LoadPolicy(filename)
	if err != nil {
		return err
	}
	c.SetPolicy(policy)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create policy watcher: %w", err)
	}
	target := filepath.Clean(filename)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	c.logger.Info("watching tool policy", "path", target, "overrides", policy.Len())

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
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
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				c.reload(target)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("tool policy watch error", logging.Err(err))
			}
		}
	}()
	return nil
}

func (c *Classifier) reload(filename string) {
	policy, err := LoadPolicy(filename)
	if err != nil {
		c.logger.Warn("tool policy reload failed, keeping previous table", "path", filename, logging.Err(err))
		return
	}
	c.SetPolicy(policy)
	c.logger.Info("tool policy reloaded", "path", filename, "overrides", policy.Len())
}
