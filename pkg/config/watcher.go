package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// 編輯器存檔常是 rename+create，單次 Write 事件不可靠，
// 所以 Create 也要收，並用 debounce 吸掉連續事件
const watchDebounce = 500 * time.Millisecond

// WatchConfig 監看 config.json 與 system.json，偵測到變更後透過回傳的
// channel 通知一次。這裡只通知不重載:儲存層在啟動時就固定了
// postgres/memory 層級，設定變更需要重啟才會生效。
func WatchConfig(ctx context.Context, files ...string) <-chan struct{} {
	changeCh := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		return changeCh
	}

	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve config path", "file", file, "error", err)
			continue
		}
		if err := watcher.Add(absPath); err != nil {
			slog.Warn("Could not watch config file", "file", file, "error", err)
			continue
		}
		slog.Debug("Watching config file", "file", absPath)
	}

	go func() {
		defer watcher.Close()
		defer close(changeCh)

		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					slog.Info("Config file changed on disk", "file", event.Name)
					select {
					case changeCh <- struct{}{}:
					default: // 前一次通知還沒被讀走,不重複排隊
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()

	return changeCh
}
