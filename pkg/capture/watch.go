package capture

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
)

const DefaultDeviceDir = "/dev"

// Watch refreshes the device list whenever a video device node appears in or
// disappears from dir. onChange, if set, runs after each refresh. It blocks
// until ctx is done.
func (m *Manager) Watch(ctx context.Context, dir string, onChange func([]Device)) error {
	if dir == "" {
		dir = DefaultDeviceDir
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create device watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "watch %s", dir)
	}
	m.log.WithField("dir", dir).Debug("Watching for camera hotplug")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isVideoNode(ev.Name) || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if err := m.Refresh(); err != nil {
				m.log.Warnf("refresh after %s: %v", ev, err)
				continue
			}
			m.log.WithField("event", ev.String()).Info("Camera list changed")
			if onChange != nil {
				onChange(m.List())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warnf("device watcher: %v", err)
		}
	}
}

func isVideoNode(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "video")
}
