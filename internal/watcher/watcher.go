// Package watcher watches the configuration file and triggers hot reloads.
// Editors replace files with rename/create sequences, so the parent
// directory is watched and events are debounced before reloading.
package watcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/mirrormods/volvobridge/internal/config"
)

// debounceDelay coalesces the burst of fsnotify events a single save emits.
const debounceDelay = 500 * time.Millisecond

// Watcher manages file watching for the configuration file.
type Watcher struct {
	configPath     string
	reloadCallback func(*config.Config)

	mu             sync.Mutex
	reloadTimer    *time.Timer
	lastConfigHash string
}

// New creates a watcher for the given config file. The callback receives the
// freshly loaded configuration after each observed change.
func New(configPath string, reloadCallback func(*config.Config)) *Watcher {
	return &Watcher{
		configPath:     configPath,
		reloadCallback: reloadCallback,
		lastConfigHash: hashFile(configPath),
	}
}

// Start begins watching until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err = fsWatcher.Add(filepath.Dir(w.configPath)); err != nil {
		_ = fsWatcher.Close()
		return err
	}

	log.Infof("watching config file %s for changes", w.configPath)

	go func() {
		defer func() {
			_ = fsWatcher.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case errWatch, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher error: %v", errWatch)
			}
		}
	}()
	return nil
}

// handleEvent schedules a debounced reload for events touching the config
// file.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reloadTimer != nil {
		w.reloadTimer.Stop()
	}
	w.reloadTimer = time.AfterFunc(debounceDelay, w.reload)
}

// reload re-reads the config file, skipping no-op saves via a content hash,
// and invokes the callback on a real change.
func (w *Watcher) reload() {
	hash := hashFile(w.configPath)
	w.mu.Lock()
	unchanged := hash != "" && hash == w.lastConfigHash
	if !unchanged {
		w.lastConfigHash = hash
	}
	w.mu.Unlock()
	if unchanged {
		log.Debug("config file event with unchanged content, skipping reload")
		return
	}

	cfg, err := config.LoadConfig(w.configPath)
	if err != nil {
		log.Errorf("config reload failed, keeping previous configuration: %v", err)
		return
	}

	log.Info("config file changed, reloading")
	w.reloadCallback(cfg)
}

// hashFile returns the hex SHA-256 of the file contents, or empty on error.
func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
