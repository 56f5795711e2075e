// Package assistant holds the closed set of supported assistants and
// loads their activation bundles from the assets directory.
package assistant

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Assistant types.
const (
	TypeLisa = "lisa"
	TypeAlex = "alex"
)

// ErrUnknownType is returned for assistant types outside the registry.
var ErrUnknownType = errors.New("unknown assistant type")

// Info describes one supported assistant.
type Info struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// List returns the supported assistants.
func List() []Info {
	return []Info{
		{
			Type:        TypeLisa,
			Name:        "Lisa",
			Description: "测试设计专家：需求澄清、测试策略、用例设计、交付评审",
		},
		{
			Type:        TypeAlex,
			Name:        "Alex",
			Description: "需求分析专家：需求接收、功能点拆解、评审报告",
		},
	}
}

// Known reports whether an assistant type is registered.
func Known(assistantType string) bool {
	switch assistantType {
	case TypeLisa, TypeAlex:
		return true
	}
	return false
}

// Registry serves assistant bundle text from the assets directory and
// keeps it fresh with a file watcher.
type Registry struct {
	assetsDir string
	logger    *slog.Logger

	mu      sync.RWMutex
	bundles map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry loads the bundles under assetsDir. Bundle files are all
// markdown files below `<assetsDir>/<type>/`, concatenated in path
// order.
func NewRegistry(assetsDir string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		assetsDir: assetsDir,
		logger:    logger,
		bundles:   make(map[string]string),
		done:      make(chan struct{}),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Bundle returns the activation bundle text for an assistant type.
func (r *Registry) Bundle(assistantType string) (string, error) {
	if !Known(assistantType) {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, assistantType)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	bundle, ok := r.bundles[assistantType]
	if !ok {
		return "", fmt.Errorf("no bundle loaded for assistant %s", assistantType)
	}
	return bundle, nil
}

// Watch starts reloading bundles when files under the assets directory
// change. Close stops it.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("assistant: start watcher: %w", err)
	}
	r.watcher = watcher

	if err := watcher.Add(r.assetsDir); err != nil {
		watcher.Close()
		return fmt.Errorf("assistant: watch %s: %w", r.assetsDir, err)
	}
	for _, info := range List() {
		dir := filepath.Join(r.assetsDir, info.Type)
		if _, err := os.Stat(dir); err == nil {
			if err := watcher.Add(dir); err != nil {
				r.logger.Warn("Bundle dir not watchable", "dir", dir, "error", err)
			}
		}
	}

	go r.watchLoop()
	return nil
}

// Close stops the watcher.
func (r *Registry) Close() error {
	close(r.done)
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

func (r *Registry) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.reload(); err != nil {
				r.logger.Warn("Bundle reload failed", "error", err)
				continue
			}
			r.logger.Info("Bundles reloaded", "trigger", ev.Name)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("Bundle watcher error", "error", err)
		}
	}
}

func (r *Registry) reload() error {
	loaded := make(map[string]string)
	for _, info := range List() {
		bundle, err := loadBundle(r.assetsDir, info.Type)
		if err != nil {
			return err
		}
		if bundle != "" {
			loaded[info.Type] = bundle
		}
	}

	r.mu.Lock()
	r.bundles = loaded
	r.mu.Unlock()
	return nil
}

func loadBundle(assetsDir, assistantType string) (string, error) {
	root := filepath.Join(assetsDir, assistantType)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return "", nil
	}

	matches, err := doublestar.FilepathGlob(filepath.Join(root, "**", "*.md"))
	if err != nil {
		return "", fmt.Errorf("assistant: glob %s bundle: %w", assistantType, err)
	}
	sort.Strings(matches)

	var parts []string
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("assistant: read %s: %w", path, err)
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n"), nil
}
