// Package position 持仓状态持久化和持仓监控（止盈止损平仓）
package position

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"signalbot/logger"
)

// PositionState 持仓跟踪状态
// HighestPnlPct 在持仓存续期间只增不减
type PositionState struct {
	HighestPnlPct         float64   `json:"highest_pnl_pct"`
	TrailingStopActivated bool      `json:"trailing_stop_activated"` // 保留字段，不参与平仓判断
	FirstSeen             time.Time `json:"first_seen"`
	LastUpdated           time.Time `json:"last_updated"`
}

// storedState 文件中的格式，时间为 ISO 8601 字符串
type storedState struct {
	HighestPnlPct         float64 `json:"highest_pnl_pct"`
	TrailingStopActivated bool    `json:"trailing_stop_activated"`
	FirstSeen             string  `json:"first_seen"`
	LastUpdated           string  `json:"last_updated"`
}

// 兼容没有时区的旧时间格式
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间: %q", s)
}

// StateStore 持仓状态存储，每次修改都原子写回 JSON 文件
// 只由持仓监控修改
type StateStore struct {
	mu     sync.Mutex
	path   string
	now    func() time.Time
	states map[string]*PositionState
}

// NewStateStore 加载状态文件
// 文件不存在时为空；文件损坏时改名为 <path>.corrupt-<unix> 并从空状态开始
func NewStateStore(path string, now func() time.Time) (*StateStore, error) {
	if now == nil {
		now = time.Now
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建状态文件目录失败: %w", err)
		}
	}

	s := &StateStore{
		path:   path,
		now:    now,
		states: make(map[string]*PositionState),
	}

	states, err := loadStates(path)
	switch {
	case err == nil:
		s.states = states
		logger.Info("✅ 已加载 %d 个持仓状态: %s", len(states), path)
	case errors.Is(err, os.ErrNotExist):
	default:
		logger.Warn("⚠️ 持仓状态文件无法读取，从空状态开始: %v", err)
		aside := fmt.Sprintf("%s.corrupt-%d", path, now().Unix())
		if rerr := os.Rename(path, aside); rerr != nil {
			logger.Warn("⚠️ 备份损坏的状态文件失败: %v", rerr)
		} else {
			logger.Warn("⚠️ 损坏的状态文件已移动到 %s", aside)
		}
	}

	return s, nil
}

func loadStates(path string) (map[string]*PositionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]storedState
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析状态文件失败: %w", err)
	}

	states := make(map[string]*PositionState, len(raw))
	for coin, r := range raw {
		st := &PositionState{
			HighestPnlPct:         r.HighestPnlPct,
			TrailingStopActivated: r.TrailingStopActivated,
		}
		if st.FirstSeen, err = parseTimestamp(r.FirstSeen); err != nil {
			return nil, fmt.Errorf("%s first_seen: %w", coin, err)
		}
		if st.LastUpdated, err = parseTimestamp(r.LastUpdated); err != nil {
			return nil, fmt.Errorf("%s last_updated: %w", coin, err)
		}
		states[strings.ToUpper(coin)] = st
	}
	return states, nil
}

// Observe 记录一次收益率读数并写盘
// 首次出现时最高收益率等于当前值，之后只取较大值；返回更新后的状态副本
func (s *StateStore) Observe(coin string, profitPct float64) (PositionState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	st, exists := s.states[coin]
	if !exists {
		st = &PositionState{
			HighestPnlPct: profitPct,
			FirstSeen:     now,
			LastUpdated:   now,
		}
		s.states[coin] = st
		logger.Info("🔍 开始跟踪 %s 持仓: %.2f%%", coin, profitPct)
	} else {
		if profitPct > st.HighestPnlPct {
			logger.Debug("📊 %s 最高收益率更新: %.2f%% (之前 %.2f%%)", coin, profitPct, st.HighestPnlPct)
			st.HighestPnlPct = profitPct
		}
		st.LastUpdated = now
	}

	return *st, !exists, s.saveLocked()
}

// Get 获取状态副本
func (s *StateStore) Get(coin string) (PositionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[coin]
	if !ok {
		return PositionState{}, false
	}
	return *st, true
}

// Delete 删除状态，不存在时不写盘
func (s *StateStore) Delete(coin string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[coin]; !ok {
		return false, nil
	}
	delete(s.states, coin)
	return true, s.saveLocked()
}

// Retain 只保留仍在持仓中的币种，返回被删除的币种（已排序）
func (s *StateStore) Retain(open map[string]bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for coin := range s.states {
		if !open[coin] {
			removed = append(removed, coin)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}

	sort.Strings(removed)
	for _, coin := range removed {
		delete(s.states, coin)
		logger.Info("🧹 %s 已不在持仓中，删除跟踪状态", coin)
	}
	return removed, s.saveLocked()
}

// Snapshot 返回所有状态的副本
func (s *StateStore) Snapshot() map[string]PositionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]PositionState, len(s.states))
	for coin, st := range s.states {
		out[coin] = *st
	}
	return out
}

// Len 跟踪中的持仓数量
func (s *StateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// Path 状态文件路径
func (s *StateStore) Path() string {
	return s.path
}

func (s *StateStore) saveLocked() error {
	raw := make(map[string]storedState, len(s.states))
	for coin, st := range s.states {
		raw[coin] = storedState{
			HighestPnlPct:         st.HighestPnlPct,
			TrailingStopActivated: st.TrailingStopActivated,
			FirstSeen:             st.FirstSeen.Format(time.RFC3339Nano),
			LastUpdated:           st.LastUpdated.Format(time.RFC3339Nano),
		}
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化持仓状态失败: %w", err)
	}
	if err := writeFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("保存持仓状态失败: %w", err)
	}
	return nil
}

// writeFileAtomic 临时文件 + fsync + rename，崩溃时不会留下写了一半的文件
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	// 目录 fsync 失败不影响结果
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
