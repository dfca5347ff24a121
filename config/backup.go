package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"signalbot/logger"
)

const (
	// DefaultBackupDir 默认备份目录
	DefaultBackupDir = "./config_backups"
	// DefaultMaxBackups 默认最大备份数量
	DefaultMaxBackups = 20

	backupPrefix     = "config.backup."
	backupSuffix     = ".yaml"
	backupTimeLayout = "20060102150405"
)

// BackupInfo 备份信息
type BackupInfo struct {
	ID          string    `json:"id"` // 文件名
	Timestamp   time.Time `json:"timestamp"`
	FilePath    string    `json:"file_path"`
	Size        int64     `json:"size"`
	Description string    `json:"description"`
}

// BackupManager 配置备份管理器
// 热更新前保存上一份生效的配置，便于回滚
type BackupManager struct {
	backupDir  string
	maxBackups int
	now        func() time.Time
}

// NewBackupManager 创建备份管理器
func NewBackupManager(dir string, maxBackups int) *BackupManager {
	if dir == "" {
		dir = DefaultBackupDir
	}
	if maxBackups <= 0 {
		maxBackups = DefaultMaxBackups
	}
	return &BackupManager{backupDir: dir, maxBackups: maxBackups, now: time.Now}
}

// CreateBackup 备份配置内容
func (bm *BackupManager) CreateBackup(data []byte, description string) (*BackupInfo, error) {
	if err := os.MkdirAll(bm.backupDir, 0755); err != nil {
		return nil, fmt.Errorf("创建备份目录失败: %w", err)
	}

	ts := bm.now()
	name := backupPrefix + ts.Format(backupTimeLayout) + backupSuffix
	path := filepath.Join(bm.backupDir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("写入备份文件失败: %w", err)
	}

	if err := bm.CleanOldBackups(); err != nil {
		logger.Warn("⚠️ 清理旧配置备份失败: %v", err)
	}

	return &BackupInfo{
		ID:          name,
		Timestamp:   ts.Truncate(time.Second),
		FilePath:    path,
		Size:        int64(len(data)),
		Description: description,
	}, nil
}

// ListBackups 列出所有备份（最新的在前）
func (bm *BackupManager) ListBackups() ([]*BackupInfo, error) {
	entries, err := os.ReadDir(bm.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*BackupInfo{}, nil
		}
		return nil, fmt.Errorf("读取备份目录失败: %w", err)
	}

	var backups []*BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
			continue
		}
		ts, err := time.ParseInLocation(backupTimeLayout, strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix), time.Local)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, &BackupInfo{
			ID:        name,
			Timestamp: ts,
			FilePath:  filepath.Join(bm.backupDir, name),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// CleanOldBackups 清理超出数量的旧备份
func (bm *BackupManager) CleanOldBackups() error {
	backups, err := bm.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) <= bm.maxBackups {
		return nil
	}
	for _, b := range backups[bm.maxBackups:] {
		if err := os.Remove(b.FilePath); err != nil {
			logger.Warn("⚠️ 删除旧备份失败 %s: %v", b.ID, err)
		}
	}
	return nil
}
