package saml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// MetadataWatcher reloads the trust set when the configuration directory
// changes, so newly provisioned identity providers are picked up without a
// restart.
type MetadataWatcher struct {
	trust   *Trust
	watcher *fsnotify.Watcher
	log     *logrus.Entry

	// OnRescan, if set, is called after every successful rescan with the
	// number of loaded identity providers.
	OnRescan func(providerCount int)
}

// NewMetadataWatcher watches the trust's configuration directory and its
// immediate subdirectories.
func NewMetadataWatcher(trust *Trust, log *logrus.Entry) (*MetadataWatcher, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(trust.cfgDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch trust directory: %w", err)
	}
	entries, err := os.ReadDir(trust.cfgDir)
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to scan trust directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		// fsnotify does not recurse; each provider directory is added
		// explicitly.
		if err := watcher.Add(filepath.Join(trust.cfgDir, entry.Name())); err != nil {
			log.WithError(err).WithField("dir", entry.Name()).Warn("failed to watch provider directory")
		}
	}

	return &MetadataWatcher{trust: trust, watcher: watcher, log: log}, nil
}

// Run blocks until ctx is done, rescanning trust on every relevant change.
func (w *MetadataWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.log.WithField("path", event.Name).Info("trust configuration changed, rescanning")
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						w.log.WithError(err).Warn("failed to watch new provider directory")
					}
				}
			}
			if err := w.trust.Rescan(); err != nil {
				w.log.WithError(err).Error("trust rescan failed")
			} else if w.OnRescan != nil {
				w.OnRescan(len(w.trust.Issuers()))
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("trust watcher error")
		}
	}
}
