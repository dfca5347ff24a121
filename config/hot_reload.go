package config

import (
	"fmt"
	"strings"
	"sync"
)

// HotReloader 配置热更新器
type HotReloader struct {
	mu              sync.RWMutex
	currentConfig   *Config
	updateCallbacks []ConfigUpdateCallback
}

// ConfigUpdateCallback 配置更新回调函数类型
// changes 只包含已经生效的可热更新变更
type ConfigUpdateCallback func(oldConfig, newConfig *Config, changes []ConfigChange) error

// NewHotReloader 创建热更新器
func NewHotReloader(initialConfig *Config) *HotReloader {
	return &HotReloader{currentConfig: initialConfig}
}

// RegisterCallback 注册配置更新回调
func (hr *HotReloader) RegisterCallback(callback ConfigUpdateCallback) {
	hr.mu.Lock()
	defer hr.mu.Unlock()
	hr.updateCallbacks = append(hr.updateCallbacks, callback)
}

// UpdateConfig 更新配置
// 需要重启的变更不会生效，只在返回的差异中标记出来
func (hr *HotReloader) UpdateConfig(newConfig *Config) (*ConfigDiff, error) {
	hr.mu.Lock()
	defer hr.mu.Unlock()

	diff := DiffConfig(hr.currentConfig, newConfig)
	hot := diff.HotReloadable()
	if len(hot) == 0 {
		return diff, nil
	}

	next := hr.currentConfig.Clone()
	for _, change := range hot {
		copyHotField(next, newConfig, change.Path)
	}

	for _, callback := range hr.updateCallbacks {
		if err := callback(hr.currentConfig, next, hot); err != nil {
			return nil, fmt.Errorf("配置更新回调执行失败: %w", err)
		}
	}

	hr.currentConfig = next
	return diff, nil
}

// copyHotField 把可热更新字段从 src 复制到 dest
func copyHotField(dest, src *Config, path string) {
	switch {
	case strings.HasPrefix(path, "trading."):
		coins := dest.Trading.MonitoredCoins
		dest.Trading = src.Trading
		dest.Trading.MonitoredCoins = coins
	case path == "system.log_level":
		dest.System.LogLevel = src.System.LogLevel
	case path == "system.close_positions_on_exit":
		dest.System.ClosePositionsOnExit = src.System.ClosePositionsOnExit
	case strings.HasPrefix(path, "notifications."):
		dest.Notifications = src.Notifications
	}
}

// GetCurrentConfig 获取当前配置
func (hr *HotReloader) GetCurrentConfig() *Config {
	hr.mu.RLock()
	defer hr.mu.RUnlock()
	return hr.currentConfig
}
