package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/Udit-takkar/lagon/internal/domain"
)

// DirWatcher 是开发模式的部署源：从本地目录加载 JSON 清单
// （每个文件一个部署描述符），并通过 fsnotify 监听变更热更新注册表。
type DirWatcher struct {
	dir      string
	registry *Registry
	logger   *logrus.Logger

	mu      sync.Mutex
	byFile  map[string]*domain.Deployment
	watcher *fsnotify.Watcher
}

// NewDirWatcher 创建目录监听器。
func NewDirWatcher(dir string, registry *Registry, logger *logrus.Logger) *DirWatcher {
	return &DirWatcher{
		dir:      dir,
		registry: registry,
		logger:   logger,
		byFile:   make(map[string]*domain.Deployment),
	}
}

// Start 加载目录中现有的清单并启动监听协程。
func (w *DirWatcher) Start(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read deployments dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		w.loadFile(filepath.Join(w.dir, entry.Name()))
	}
	w.logger.WithField("count", w.registry.Len()).Info("Deployments loaded from directory")

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.watcher.Close()
		return fmt.Errorf("failed to watch deployments dir: %w", err)
	}

	go w.run(ctx)
	return nil
}

// run 是监听协程的主循环。
func (w *DirWatcher) run(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				w.loadFile(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				w.removeFile(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("Deployment watcher error")
		}
	}
}

// loadFile 解析一个清单并替换注册表中的旧条目。
func (w *DirWatcher) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.WithError(err).WithField("file", path).Error("Failed to read deployment manifest")
		return
	}
	var d domain.Deployment
	if err := json.Unmarshal(data, &d); err != nil {
		w.logger.WithError(err).WithField("file", path).Error("Failed to decode deployment manifest")
		return
	}

	w.mu.Lock()
	if old, ok := w.byFile[path]; ok {
		w.registry.Remove(old)
	}
	w.byFile[path] = &d
	w.mu.Unlock()

	w.registry.Put(&d)
	w.logger.WithFields(logrus.Fields{
		"deployment_id": d.ID,
		"domains":       d.Domains,
	}).Info("Deployment manifest loaded")
}

// removeFile 注销清单对应的部署。
func (w *DirWatcher) removeFile(path string) {
	w.mu.Lock()
	d, ok := w.byFile[path]
	delete(w.byFile, path)
	w.mu.Unlock()
	if !ok {
		return
	}
	w.registry.Remove(d)
	w.logger.WithField("deployment_id", d.ID).Info("Deployment manifest removed")
}
