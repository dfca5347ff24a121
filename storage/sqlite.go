package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage SQLite 信号存储
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage 创建 SQLite 存储
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	// 使用 WAL 模式提高并发性能
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite 并发限制
	db.SetMaxIdleConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("创建表失败: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func createTables(db *sql.DB) error {
	signalsSQL := `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		coin TEXT NOT NULL,
		action TEXT NOT NULL,
		strength REAL NOT NULL,
		source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		metadata TEXT,
		signal_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_coin ON signals(coin);
	CREATE INDEX IF NOT EXISTS idx_signals_source ON signals(source);
	CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at);`

	_, err := db.Exec(signalsSQL)
	return err
}

// SaveSignals 在一个事务中批量写入
func (s *SQLiteStorage) SaveSignals(ctx context.Context, records []*SignalRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO signals
		(coin, action, strength, source, outcome, metadata, signal_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("准备语句失败: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var meta []byte
		if len(r.Metadata) > 0 {
			if meta, err = json.Marshal(r.Metadata); err != nil {
				meta = nil
			}
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		res, err := stmt.ExecContext(ctx, r.Coin, r.Action, r.Strength, r.Source, r.Outcome,
			string(meta), r.SignalAt.UTC(), r.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("写入信号失败: %w", err)
		}
		r.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}

// QuerySignals 查询最近的信号，coin 为空表示全部
func (s *SQLiteStorage) QuerySignals(ctx context.Context, coin string, limit int) ([]*SignalRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, coin, action, strength, source, outcome, metadata, signal_at, created_at FROM signals`
	args := []interface{}{}
	if coin != "" {
		query += ` WHERE coin = ?`
		args = append(args, coin)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询信号失败: %w", err)
	}
	defer rows.Close()

	var records []*SignalRecord
	for rows.Next() {
		r := &SignalRecord{}
		var meta sql.NullString
		if err := rows.Scan(&r.ID, &r.Coin, &r.Action, &r.Strength, &r.Source, &r.Outcome,
			&meta, &r.SignalAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("读取信号失败: %w", err)
		}
		if meta.Valid && meta.String != "" {
			_ = json.Unmarshal([]byte(meta.String), &r.Metadata)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// QueryStats 按来源统计信号数量
func (s *SQLiteStorage) QueryStats(ctx context.Context, since time.Time) ([]*SignalStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source,
			COUNT(*),
			SUM(CASE WHEN outcome = 'executed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'rejected' THEN 1 ELSE 0 END)
		FROM signals
		WHERE created_at >= ?
		GROUP BY source
		ORDER BY source`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("统计信号失败: %w", err)
	}
	defer rows.Close()

	var stats []*SignalStats
	for rows.Next() {
		st := &SignalStats{}
		if err := rows.Scan(&st.Source, &st.Total, &st.Executed, &st.Rejected); err != nil {
			return nil, fmt.Errorf("读取统计失败: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// Cleanup 删除指定时间之前的信号
func (s *SQLiteStorage) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM signals WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("清理信号失败: %w", err)
	}
	return res.RowsAffected()
}

// Close 关闭数据库
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
