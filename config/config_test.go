package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
app:
  execute_orders: false
exchange:
  name: paper
trading:
  max_positions: 3
  monitored_coins: [btc, eth, BTC]
signals:
  generators:
    macd_15min:
      enabled: true
    rsi_1min:
      enabled: false
      params:
        period: 10
      coin_params:
        ETH:
          oversold: 25
`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfigFromBytes([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Trading.MaxPositions != 3 {
		t.Errorf("最大持仓数 = %d, 期望 3", cfg.Trading.MaxPositions)
	}
	if cfg.Trading.PositionSizeUSD != 20 || cfg.Trading.StopLossPercent != 2.2 || cfg.Trading.TakeProfitPercent != 10.12 {
		t.Errorf("交易默认值错误: %+v", cfg.Trading)
	}
	if cfg.Trading.MinSignalStrength != 0.75 || cfg.Trading.CooldownPeriod != 300 || cfg.Trading.SizeDecimals != 5 {
		t.Errorf("风控默认值错误: %+v", cfg.Trading)
	}
	if got := cfg.Trading.MonitoredCoins; len(got) != 2 || got[0] != "BTC" || got[1] != "ETH" {
		t.Errorf("监控币种应大写去重, 得到 %v", got)
	}
	if cfg.System.BaseInterval != 60 || cfg.System.PositionCheckInterval != 3 {
		t.Errorf("系统间隔默认值错误: %+v", cfg.System)
	}
	if cfg.System.PositionStateFile != "position_states.json" {
		t.Errorf("状态文件默认值错误: %s", cfg.System.PositionStateFile)
	}
}

func TestGeneratorDefaults(t *testing.T) {
	cfg, err := LoadConfigFromBytes([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	tests := []struct {
		name     string
		enabled  bool
		interval int
	}{
		{GeneratorRSI1Min, false, 60},
		{GeneratorRSI5Min, true, 300},
		{GeneratorRSI1H, true, 3600},
		{GeneratorRSI4H, true, 14400},
		{GeneratorSMA5Min, true, 300},
		{GeneratorRange7DaysLow, false, 3600},
		{GeneratorRange24HLow, false, 1800},
		{GeneratorMACD15Min, true, 900},
		{GeneratorScalping1Min, true, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := cfg.Signals.Generators[tt.name]
			if g.IsEnabled() != tt.enabled {
				t.Errorf("启用状态 = %v, 期望 %v", g.IsEnabled(), tt.enabled)
			}
			if g.Interval != tt.interval {
				t.Errorf("检查间隔 = %d, 期望 %d", g.Interval, tt.interval)
			}
		})
	}

	params := cfg.Signals.Generators[GeneratorRSI1Min].ParamsFor("eth")
	if params["period"] != 10 || params["oversold"] != 25 {
		t.Errorf("ETH 参数覆盖错误: %v", params)
	}
	if _, ok := cfg.Signals.Generators[GeneratorRSI1Min].ParamsFor("BTC")["oversold"]; ok {
		t.Error("币种覆盖不应影响其他币种")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"未知交易所", "exchange:\n  name: kraken\n"},
		{"实盘缺少密钥", "app:\n  execute_orders: true\nexchange:\n  name: binance\n"},
		{"信号强度越界", "trading:\n  min_signal_strength: 1.5\n"},
		{"冷却时间为负", "trading:\n  cooldown_period: -1\n"},
		{"止损为0", "trading:\n  stop_loss_percent: 0\n"},
		{"止盈为0", "trading:\n  take_profit_percent: 0\n"},
		{"最大持仓为0", "trading:\n  max_positions: 0\n"},
		{"Redis 锁缺少地址", "distributed_lock:\n  enabled: true\n"},
		{"不支持的数据库", "database:\n  type: oracle\n"},
		{"Telegram 缺少配置", "notifications:\n  telegram:\n    enabled: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfigFromBytes([]byte(tt.yaml)); err == nil {
				t.Error("期望验证失败")
			}
		})
	}
}

func TestExplicitZeroKept(t *testing.T) {
	cfg, err := LoadConfigFromBytes([]byte("trading:\n  min_signal_strength: 0\n  cooldown_period: 0\n  trailing_stop_percent: 0\n  size_decimals: 0\n"))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Trading.MinSignalStrength != 0 {
		t.Errorf("显式配置的信号强度 0 被改写为 %v", cfg.Trading.MinSignalStrength)
	}
	if cfg.Trading.CooldownPeriod != 0 {
		t.Errorf("显式配置的冷却时间 0 被改写为 %d", cfg.Trading.CooldownPeriod)
	}
	if cfg.Trading.TrailingStopPercent != 0 {
		t.Errorf("显式配置的移动止损 0 被改写为 %v", cfg.Trading.TrailingStopPercent)
	}
	if cfg.Trading.SizeDecimals != 0 {
		t.Errorf("显式配置的小数位 0 被改写为 %d", cfg.Trading.SizeDecimals)
	}
	// 未写出的字段仍取默认值
	if cfg.Trading.StopLossPercent != 2.2 {
		t.Errorf("止损默认值错误: %v", cfg.Trading.StopLossPercent)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Trading.MinSignalStrength != 0.75 || cfg.Trading.CooldownPeriod != 300 {
		t.Errorf("默认交易参数错误: %+v", cfg.Trading)
	}
	if len(cfg.Trading.MonitoredCoins) == 0 {
		t.Error("默认配置应包含监控币种")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvAPIKey, "env_key")
	t.Setenv(EnvSecretKey, "env_secret")
	cfg, err := LoadConfigFromBytes([]byte("app:\n  execute_orders: true\nexchange:\n  name: binance\n"))
	if err != nil {
		t.Fatalf("环境变量应补齐密钥: %v", err)
	}
	if cfg.Exchange.APIKey != "env_key" || cfg.Exchange.SecretKey != "env_secret" {
		t.Errorf("环境变量覆盖失败: %s / %s", cfg.Exchange.APIKey, cfg.Exchange.SecretKey)
	}
}

func TestConfigDiff(t *testing.T) {
	oldCfg, _ := LoadConfigFromBytes([]byte(sampleYAML))
	newCfg := oldCfg.Clone()
	newCfg.Trading.StopLossPercent = 3
	newCfg.Trading.MonitoredCoins = []string{"BTC"}
	newCfg.Web.Port = 9090

	diff := DiffConfig(oldCfg, newCfg)
	if len(diff.Changes) != 3 {
		t.Fatalf("期望 3 处变更, 得到 %d: %+v", len(diff.Changes), diff.Changes)
	}
	if !diff.RequiresRestart {
		t.Error("修改监控币种和端口应需要重启")
	}

	byPath := make(map[string]ConfigChange)
	for _, c := range diff.Changes {
		byPath[c.Path] = c
	}
	if c, ok := byPath["trading.stop_loss_percent"]; !ok || c.RequiresRestart {
		t.Errorf("止损百分比应可热更新: %+v", c)
	}
	if c := byPath["trading.monitored_coins"]; !c.RequiresRestart {
		t.Error("监控币种变更应需要重启")
	}
	if c := byPath["web.port"]; !c.RequiresRestart {
		t.Error("Web 端口变更应需要重启")
	}

	if len(DiffConfig(oldCfg, oldCfg.Clone()).Changes) != 0 {
		t.Error("相同配置不应有差异")
	}
}

func TestHotReloader(t *testing.T) {
	oldCfg, _ := LoadConfigFromBytes([]byte(sampleYAML))
	hr := NewHotReloader(oldCfg)

	var got []ConfigChange
	var applied *Config
	hr.RegisterCallback(func(_, newConfig *Config, changes []ConfigChange) error {
		got = changes
		applied = newConfig
		return nil
	})

	newCfg := oldCfg.Clone()
	newCfg.Trading.TakeProfitPercent = 5
	newCfg.Trading.MonitoredCoins = []string{"SOL"}
	newCfg.System.LogLevel = "DEBUG"

	diff, err := hr.UpdateConfig(newCfg)
	if err != nil {
		t.Fatalf("热更新失败: %v", err)
	}
	if !diff.RequiresRestart {
		t.Error("差异中应标记需要重启的变更")
	}
	if len(got) != 2 {
		t.Fatalf("回调应收到 2 处可热更新变更, 得到 %d", len(got))
	}

	cur := hr.GetCurrentConfig()
	if cur != applied {
		t.Error("当前配置应为回调收到的新配置")
	}
	if cur.Trading.TakeProfitPercent != 5 || cur.System.LogLevel != "DEBUG" {
		t.Errorf("可热更新参数未生效: tp=%v level=%s", cur.Trading.TakeProfitPercent, cur.System.LogLevel)
	}
	if len(cur.Trading.MonitoredCoins) != 2 {
		t.Errorf("需要重启的监控币种不应生效: %v", cur.Trading.MonitoredCoins)
	}
}

func TestConfigBackup(t *testing.T) {
	dir := t.TempDir()
	bm := NewBackupManager(filepath.Join(dir, "backups"), 2)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		bm.now = func() time.Time { return ts }
		if _, err := bm.CreateBackup([]byte("trading: {}\n"), "测试"); err != nil {
			t.Fatalf("创建备份失败: %v", err)
		}
	}

	backups, err := bm.ListBackups()
	if err != nil {
		t.Fatalf("列出备份失败: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("应只保留 2 份备份, 得到 %d", len(backups))
	}
	if !backups[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("最新备份应排在最前: %v", backups[0].Timestamp)
	}
	if _, err := os.Stat(backups[1].FilePath); err != nil {
		t.Errorf("备份文件不存在: %v", err)
	}
}
