package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormDatabase GORM 数据库实现
type GormDatabase struct {
	db *gorm.DB
}

// NewGormDatabase 创建 GORM 数据库实例
func NewGormDatabase(config *Config) (*GormDatabase, error) {
	var dialector gorm.Dialector

	switch config.Type {
	case "sqlite":
		if dir := filepath.Dir(config.DSN); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
		dialector = sqlite.Open(config.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(config.DSN)
	case "mysql":
		dialector = mysql.Open(config.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库类型: %s", config.Type)
	}

	// 日志级别
	logLevel := logger.Silent
	switch config.LogLevel {
	case "error":
		logLevel = logger.Error
	case "warn":
		logLevel = logger.Warn
	case "info":
		logLevel = logger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 sql.DB 失败: %w", err)
	}

	// 配置连接池
	if config.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &EventRecord{}); err != nil {
		return nil, fmt.Errorf("自动迁移失败: %w", err)
	}

	return &GormDatabase{db: db}, nil
}

// SaveTrade 保存交易记录
func (g *GormDatabase) SaveTrade(ctx context.Context, trade *TradeRecord) error {
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}
	return g.db.WithContext(ctx).Create(trade).Error
}

// GetTrades 获取交易记录，按时间倒序
func (g *GormDatabase) GetTrades(ctx context.Context, filter *TradeFilter) ([]*TradeRecord, error) {
	query := g.db.WithContext(ctx).Model(&TradeRecord{})

	if filter == nil {
		filter = &TradeFilter{}
	}
	if filter.Coin != "" {
		query = query.Where("coin = ?", filter.Coin)
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("created_at <= ?", filter.EndTime)
	}

	query = query.Order("created_at DESC").Order("id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var trades []*TradeRecord
	if err := query.Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// SaveEvent 保存事件记录
func (g *GormDatabase) SaveEvent(ctx context.Context, event *EventRecord) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	return g.db.WithContext(ctx).Create(event).Error
}

// GetEvents 获取事件记录
func (g *GormDatabase) GetEvents(ctx context.Context, filter *EventFilter) ([]*EventRecord, error) {
	query := g.db.WithContext(ctx).Model(&EventRecord{})

	if filter == nil {
		filter = &EventFilter{}
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Severity != "" {
		query = query.Where("severity = ?", filter.Severity)
	}
	if filter.Coin != "" {
		query = query.Where("coin = ?", filter.Coin)
	}
	if filter.StartTime != nil {
		query = query.Where("created_at >= ?", filter.StartTime)
	}

	query = query.Order("created_at DESC").Order("id DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []*EventRecord
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GetEventStats 获取事件统计
func (g *GormDatabase) GetEventStats(ctx context.Context) (*EventStats, error) {
	stats := &EventStats{CountByType: make(map[string]int)}

	var total int64
	if err := g.db.WithContext(ctx).Model(&EventRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	stats.TotalCount = int(total)

	// 按严重程度统计
	var severityStats []struct {
		Severity string
		Count    int
	}
	g.db.WithContext(ctx).Model(&EventRecord{}).
		Select("severity, COUNT(*) as count").
		Group("severity").
		Scan(&severityStats)
	for _, s := range severityStats {
		switch s.Severity {
		case "critical":
			stats.CriticalCount = s.Count
		case "warning":
			stats.WarningCount = s.Count
		case "info":
			stats.InfoCount = s.Count
		}
	}

	// 最近24小时
	var last24h int64
	g.db.WithContext(ctx).Model(&EventRecord{}).
		Where("created_at >= ?", time.Now().Add(-24*time.Hour)).
		Count(&last24h)
	stats.Last24HoursCount = int(last24h)

	// 按类型统计（top 20）
	var typeStats []struct {
		Type  string
		Count int
	}
	g.db.WithContext(ctx).Model(&EventRecord{}).
		Select("type, COUNT(*) as count").
		Group("type").
		Order("count DESC").
		Limit(20).
		Scan(&typeStats)
	for _, ts := range typeStats {
		stats.CountByType[ts.Type] = ts.Count
	}

	return stats, nil
}

// CleanupOldEvents 清理旧事件：删除超过 keepDays 天的，再只保留最新的 keepCount 条
func (g *GormDatabase) CleanupOldEvents(ctx context.Context, severity string, keepCount int, keepDays int) error {
	if keepDays > 0 {
		cutoffDate := time.Now().AddDate(0, 0, -keepDays)
		if err := g.db.WithContext(ctx).
			Where("severity = ? AND created_at < ?", severity, cutoffDate).
			Delete(&EventRecord{}).Error; err != nil {
			return err
		}
	}

	if keepCount <= 0 {
		return nil
	}

	var count int64
	g.db.WithContext(ctx).Model(&EventRecord{}).Where("severity = ?", severity).Count(&count)
	if int(count) <= keepCount {
		return nil
	}

	// 保留的最老一条记录的 ID
	var keepIDs []int64
	if err := g.db.WithContext(ctx).Model(&EventRecord{}).
		Where("severity = ?", severity).
		Order("id DESC").
		Limit(keepCount).
		Pluck("id", &keepIDs).Error; err != nil {
		return err
	}
	if len(keepIDs) == 0 {
		return nil
	}
	cutoffID := keepIDs[len(keepIDs)-1]

	return g.db.WithContext(ctx).
		Where("severity = ? AND id < ?", severity, cutoffID).
		Delete(&EventRecord{}).Error
}

// Ping 健康检查
func (g *GormDatabase) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (g *GormDatabase) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
