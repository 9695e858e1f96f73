package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变化，重新加载并校验后回调。
// 监听的是所在目录，编辑器以 rename 方式保存时也能收到事件。
type Watcher struct {
	Path     string
	Cooldown time.Duration // 两次重载之间的最小间隔
	Logger   *zap.Logger
}

// Start 阻塞直到 ctx 取消；加载或校验失败的版本不会回调。
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	target := filepath.Clean(w.Path)
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}

	var lastReload time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastReload) < w.Cooldown {
				continue
			}
			cfg, err := LoadWithEnvOverrides(w.Path)
			if err != nil {
				log.Warn("config reload rejected", zap.String("path", w.Path), zap.Error(err))
				continue
			}
			lastReload = time.Now()
			log.Info("config reloaded", zap.String("path", w.Path))
			if onUpdate != nil {
				onUpdate(cfg)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}
