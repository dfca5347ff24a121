package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"signalbot/logger"
)

// ConfigWatcher 配置文件监控器
// 文件写入后重新加载，可热更新的参数立即生效
type ConfigWatcher struct {
	configPath    string
	watcher       *fsnotify.Watcher
	hotReloader   *HotReloader
	backupManager *BackupManager

	mu          sync.Mutex
	isWatching  bool
	lastModTime time.Time
	lastContent []byte

	cancel context.CancelFunc
	wg     sync.WaitGroup

	updateChan chan *ConfigDiff
	errorChan  chan error
}

// NewConfigWatcher 创建配置监控器，backupManager 可以为 nil
func NewConfigWatcher(configPath string, hotReloader *HotReloader, backupManager *BackupManager) (*ConfigWatcher, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件路径失败: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	cw := &ConfigWatcher{
		configPath:    absPath,
		watcher:       watcher,
		hotReloader:   hotReloader,
		backupManager: backupManager,
		updateChan:    make(chan *ConfigDiff, 1),
		errorChan:     make(chan error, 10),
	}
	if info, err := os.Stat(absPath); err == nil {
		cw.lastModTime = info.ModTime()
	}
	cw.lastContent, _ = os.ReadFile(absPath)

	return cw, nil
}

// Start 开始监控配置文件
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	// 监控目录而不是文件，编辑器替换文件时也能收到事件
	if err := cw.watcher.Add(filepath.Dir(cw.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	cw.cancel = cancel
	cw.isWatching = true

	cw.wg.Add(1)
	go cw.watchLoop(loopCtx)

	logger.Info("✅ 配置文件监控已启动: %s", cw.configPath)
	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if !cw.isWatching {
		cw.mu.Unlock()
		return nil
	}
	cw.isWatching = false
	cw.cancel()
	cw.mu.Unlock()

	cw.wg.Wait()
	return cw.watcher.Close()
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	defer cw.wg.Done()

	// 定期检查修改时间，作为文件事件的备用机制
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// 等待写入完成
				time.Sleep(100 * time.Millisecond)
				cw.reload()
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.reportError(err)

		case <-ticker.C:
			info, err := os.Stat(cw.configPath)
			if err != nil {
				continue
			}
			cw.mu.Lock()
			changed := info.ModTime().After(cw.lastModTime)
			cw.mu.Unlock()
			if changed {
				cw.reload()
			}
		}
	}
}

// reload 重新加载配置文件并尝试热更新
func (cw *ConfigWatcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	info, err := os.Stat(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("获取文件信息失败: %w", err))
		return
	}
	cw.lastModTime = info.ModTime()

	data, err := os.ReadFile(cw.configPath)
	if err != nil {
		cw.reportError(fmt.Errorf("读取配置文件失败: %w", err))
		return
	}
	if bytes.Equal(data, cw.lastContent) {
		return
	}

	newConfig, err := LoadConfigFromBytes(data)
	if err != nil {
		cw.reportError(fmt.Errorf("重新加载配置失败: %w", err))
		return
	}

	if cw.backupManager != nil && len(cw.lastContent) > 0 {
		if _, err := cw.backupManager.CreateBackup(cw.lastContent, "热更新前自动备份"); err != nil {
			logger.Warn("⚠️ 备份旧配置失败: %v", err)
		}
	}

	diff, err := cw.hotReloader.UpdateConfig(newConfig)
	if err != nil {
		cw.reportError(fmt.Errorf("配置热更新失败: %w", err))
		return
	}
	cw.lastContent = data

	logger.Info("🔄 配置文件已重新加载，共 %d 处变更", len(diff.Changes))
	if diff.RequiresRestart {
		logger.Warn("⚠️ 部分配置需要重启后生效")
	}

	select {
	case cw.updateChan <- diff:
	default:
	}
}

func (cw *ConfigWatcher) reportError(err error) {
	logger.Error("❌ %v", err)
	select {
	case cw.errorChan <- err:
	default:
	}
}

// GetUpdateChan 每次成功重新加载后发送差异
func (cw *ConfigWatcher) GetUpdateChan() <-chan *ConfigDiff {
	return cw.updateChan
}

// GetErrorChan 获取错误通道
func (cw *ConfigWatcher) GetErrorChan() <-chan error {
	return cw.errorChan
}
