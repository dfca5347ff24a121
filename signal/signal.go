// Package signal 定义策略产出的交易信号以及信号源接口
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Action 信号动作
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction 解析信号动作（大小写不敏感）
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToUpper(strings.TrimSpace(s))) {
	case ActionBuy:
		return ActionBuy, nil
	case ActionSell:
		return ActionSell, nil
	case ActionHold:
		return ActionHold, nil
	default:
		return "", fmt.Errorf("无效的信号动作: %q", s)
	}
}

// Signal 交易信号
// 创建后不可修改，所有字段只能通过访问方法读取
type Signal struct {
	coin      string
	action    Action
	strength  float64
	timestamp time.Time
	source    string
	metadata  map[string]interface{}
}

// New 创建信号
// 币种和信号源不能为空，强度会被限制在 [0,1]
func New(coin string, action Action, strength float64, source string, metadata map[string]interface{}) (*Signal, error) {
	return NewAt(coin, action, strength, source, metadata, time.Now())
}

// NewAt 使用指定时间创建信号
func NewAt(coin string, action Action, strength float64, source string, metadata map[string]interface{}, ts time.Time) (*Signal, error) {
	coin = strings.TrimSpace(coin)
	source = strings.TrimSpace(source)
	if coin == "" {
		return nil, fmt.Errorf("信号币种不能为空")
	}
	if source == "" {
		return nil, fmt.Errorf("信号来源不能为空")
	}
	switch action {
	case ActionBuy, ActionSell, ActionHold:
	default:
		return nil, fmt.Errorf("无效的信号动作: %q", action)
	}

	meta := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		meta[k] = v
	}

	return &Signal{
		coin:      coin,
		action:    action,
		strength:  clampStrength(strength),
		timestamp: ts,
		source:    source,
		metadata:  meta,
	}, nil
}

func clampStrength(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (s *Signal) Coin() string         { return s.coin }
func (s *Signal) Action() Action       { return s.action }
func (s *Signal) Strength() float64    { return s.strength }
func (s *Signal) Timestamp() time.Time { return s.timestamp }
func (s *Signal) Source() string       { return s.source }

// Meta 读取单个元数据
func (s *Signal) Meta(key string) (interface{}, bool) {
	v, ok := s.metadata[key]
	return v, ok
}

// Metadata 返回元数据副本
func (s *Signal) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// IsActionable 是否为可执行信号（非 HOLD 且强度达到阈值）
func (s *Signal) IsActionable(minStrength float64) bool {
	return s.action != ActionHold && s.strength >= minStrength
}

// String 格式: "rsi_5min: BUY BTC (strength: 0.80)"
func (s *Signal) String() string {
	return fmt.Sprintf("%s: %s %s (strength: %.2f)", s.source, s.action, s.coin, s.strength)
}

// MarshalJSON 供 Web 接口和信号日志使用
func (s *Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Coin      string                 `json:"coin"`
		Action    Action                 `json:"action"`
		Strength  float64                `json:"strength"`
		Timestamp time.Time              `json:"timestamp"`
		Source    string                 `json:"source"`
		Metadata  map[string]interface{} `json:"metadata,omitempty"`
	}{s.coin, s.action, s.strength, s.timestamp, s.source, s.metadata})
}

// Source 信号源
// GenerateSignal 返回 (nil, nil) 表示本次没有信号
type Source interface {
	Name() string
	GenerateSignal(ctx context.Context, coin string) (*Signal, error)
}
