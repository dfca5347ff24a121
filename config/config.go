package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// 信号源名称
const (
	GeneratorRSI1Min       = "rsi_1min"
	GeneratorRSI5Min       = "rsi_5min"
	GeneratorRSI1H         = "rsi_1h"
	GeneratorRSI4H         = "rsi_4h"
	GeneratorSMA5Min       = "sma_5min"
	GeneratorRange7DaysLow = "range_7days_low"
	GeneratorRange24HLow   = "range_24h_low"
	GeneratorMACD15Min     = "macd_15min"
	GeneratorScalping1Min  = "scalping_1min"
)

// DefaultGeneratorInterval 未配置检查间隔的信号源使用的间隔（秒）
const DefaultGeneratorInterval = 60

// 环境变量（优先于配置文件）
const (
	EnvAPIKey           = "SIGNALBOT_API_KEY"
	EnvSecretKey        = "SIGNALBOT_SECRET_KEY"
	EnvWebPasswordHash  = "SIGNALBOT_WEB_PASSWORD_HASH"
	defaultStateFile    = "position_states.json"
	defaultQuoteAsset   = "USDT"
	defaultPaperBalance = 1000.0
)

type generatorDefault struct {
	enabled  bool
	interval int
}

// 各信号源默认启用状态和检查间隔（与K线周期对齐）
var generatorDefaults = map[string]generatorDefault{
	GeneratorRSI1Min:       {true, 60},
	GeneratorRSI5Min:       {true, 300},
	GeneratorRSI1H:         {true, 3600},
	GeneratorRSI4H:         {true, 14400},
	GeneratorSMA5Min:       {true, 300},
	GeneratorRange7DaysLow: {false, 3600},
	GeneratorRange24HLow:   {false, 1800},
	GeneratorMACD15Min:     {false, 900},
	GeneratorScalping1Min:  {true, 60},
}

// GeneratorConfig 单个信号源配置
type GeneratorConfig struct {
	Enabled  *bool              `yaml:"enabled" json:"enabled"`
	Interval int                `yaml:"interval" json:"interval"` // 检查间隔（秒）
	Params   map[string]float64 `yaml:"params" json:"params"`     // 覆盖默认参数（如 period、oversold）
	// CoinParams 按币种覆盖参数，只影响该币种
	CoinParams map[string]map[string]float64 `yaml:"coin_params" json:"coin_params"`
}

// IsEnabled 是否启用
func (g GeneratorConfig) IsEnabled() bool {
	return g.Enabled != nil && *g.Enabled
}

// ParamsFor 返回某个币种的有效参数：通用参数 + 币种覆盖
func (g GeneratorConfig) ParamsFor(coin string) map[string]float64 {
	out := make(map[string]float64, len(g.Params))
	for k, v := range g.Params {
		out[k] = v
	}
	for k, v := range g.CoinParams[strings.ToUpper(coin)] {
		out[k] = v
	}
	return out
}

// Config 信号交易机器人配置
type Config struct {
	// 应用配置
	App struct {
		Name          string `yaml:"name"`
		ExecuteOrders bool   `yaml:"execute_orders"` // false 时只记录信号，不下单也不监控持仓
		Autostart     bool   `yaml:"autostart"`      // 进程启动后立即启动机器人
	} `yaml:"app"`

	// 交易所配置
	Exchange struct {
		Name         string  `yaml:"name"` // binance 或 paper
		APIKey       string  `yaml:"api_key"`
		SecretKey    string  `yaml:"secret_key"`
		Testnet      bool    `yaml:"testnet"`
		QuoteAsset   string  `yaml:"quote_asset"`   // 计价币，默认 USDT
		PaperBalance float64 `yaml:"paper_balance"` // 模拟盘初始余额
		Leverage     float64 `yaml:"leverage"`      // 模拟盘杠杆（收益率按杠杆放大）
	} `yaml:"exchange"`

	Trading struct {
		MaxPositions           int      `yaml:"max_positions"`
		PositionSizeUSD        float64  `yaml:"position_size_usd"`
		StopLossPercent        float64  `yaml:"stop_loss_percent"`
		TakeProfitPercent      float64  `yaml:"take_profit_percent"`
		TrailingStopPercent    float64  `yaml:"trailing_stop_percent"`    // 仅记录，不参与平仓判断
		TrailingStopActivation float64  `yaml:"trailing_stop_activation"` // 仅记录，不参与平仓判断
		MinSignalStrength      float64  `yaml:"min_signal_strength"`
		CooldownPeriod         int      `yaml:"cooldown_period"` // 同一币种两次开仓的最小间隔（秒）
		SizeDecimals           int      `yaml:"size_decimals"`   // 下单数量保留小数位
		MonitoredCoins         []string `yaml:"monitored_coins"`
	} `yaml:"trading"`

	Signals struct {
		Generators map[string]GeneratorConfig `yaml:"generators"`
	} `yaml:"signals"`

	System struct {
		BaseInterval          int    `yaml:"base_interval"`           // 信号循环基础间隔（秒）
		PositionCheckInterval int    `yaml:"position_check_interval"` // 持仓检查间隔（秒）
		PositionStateFile     string `yaml:"position_state_file"`
		StopTimeout           int    `yaml:"stop_timeout"`         // 等待信号循环退出（秒）
		MonitorStopTimeout    int    `yaml:"monitor_stop_timeout"` // 等待持仓监控退出（秒）
		ClosePositionsOnExit  bool   `yaml:"close_positions_on_exit"`
		LogLevel              string `yaml:"log_level"`
		Timezone              string `yaml:"timezone"`
		LogFile               struct {
			Path       string `yaml:"path"`
			MaxSizeMB  int    `yaml:"max_size_mb"`
			MaxBackups int    `yaml:"max_backups"`
			MaxAgeDays int    `yaml:"max_age_days"`
			Compress   bool   `yaml:"compress"`
		} `yaml:"log_file"`
	} `yaml:"system"`

	// 行情数据（K线、最新价）
	MarketData struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"market_data"`

	// 交易所调用保护
	Gateway struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		Serialize         bool    `yaml:"serialize"`    // 串行化所有交易所调用
		LockTTL           int     `yaml:"lock_ttl"`     // 下单/平仓分布式锁过期时间（秒）
		CallTimeout       int     `yaml:"call_timeout"` // 单次调用超时（秒）
	} `yaml:"gateway"`

	DistributedLock struct {
		Enabled bool   `yaml:"enabled"`
		Type    string `yaml:"type"`
		Prefix  string `yaml:"prefix"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// 交易记录数据库
	Database struct {
		Enabled         bool   `yaml:"enabled"`
		Type            string `yaml:"type"` // sqlite, postgres, mysql
		DSN             string `yaml:"dsn"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 秒
		LogLevel        string `yaml:"log_level"`
	} `yaml:"database"`

	// 信号日志
	Storage struct {
		Enabled       bool   `yaml:"enabled"`
		Path          string `yaml:"path"`
		BufferSize    int    `yaml:"buffer_size"`
		BatchSize     int    `yaml:"batch_size"`
		FlushInterval int    `yaml:"flush_interval"` // 秒
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"storage"`

	Notifications struct {
		Enabled  bool `yaml:"enabled"`
		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`
		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
			Timeout int    `yaml:"timeout"` // 秒
		} `yaml:"webhook"`
		Rules struct {
			OrderPlaced   bool `yaml:"order_placed"`
			StopLoss      bool `yaml:"stop_loss"`
			TakeProfit    bool `yaml:"take_profit"`
			EmergencyStop bool `yaml:"emergency_stop"`
			Error         bool `yaml:"error"`
		} `yaml:"rules"`
	} `yaml:"notifications"`

	Web struct {
		Enabled            bool   `yaml:"enabled"`
		Host               string `yaml:"host"`
		Port               int    `yaml:"port"`
		Username           string `yaml:"username"`
		PasswordHash       string `yaml:"password_hash"` // bcrypt，为空表示不启用认证
		StatusPushInterval int    `yaml:"status_push_interval"`
	} `yaml:"web"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return LoadConfigFromBytes(data)
}

// LoadConfigFromBytes 从字节数组加载配置（用于测试）
func LoadConfigFromBytes(data []byte) (*Config, error) {
	// 先填交易默认值再解析，文件中显式写 0 的字段保持为 0
	cfg := Config{}
	cfg.setTradingDefaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SaveConfig 保存配置到文件
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}

// Default 返回填好默认值的配置
func Default() *Config {
	cfg := &Config{}
	cfg.setTradingDefaults()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("默认配置无效: %v", err))
	}
	return cfg
}

// setTradingDefaults 交易参数默认值
// 0 对部分字段是合法取值（如 min_signal_strength、cooldown_period），所以不能在 Validate 里把 0 当作未配置
func (c *Config) setTradingDefaults() {
	c.Trading.MaxPositions = 10
	c.Trading.PositionSizeUSD = 20
	c.Trading.StopLossPercent = 2.2
	c.Trading.TakeProfitPercent = 10.12
	c.Trading.TrailingStopPercent = 0.2
	c.Trading.TrailingStopActivation = 0.3
	c.Trading.MinSignalStrength = 0.75
	c.Trading.CooldownPeriod = 300
	c.Trading.SizeDecimals = 5
}

// Clone 深度复制配置
func (c *Config) Clone() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		cp := *c
		return &cp
	}
	var out Config
	if err := yaml.Unmarshal(data, &out); err != nil {
		cp := *c
		return &cp
	}
	return &out
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		c.Exchange.SecretKey = v
	}
	if v := os.Getenv(EnvWebPasswordHash); v != "" {
		c.Web.PasswordHash = v
	}
}

// GeneratorNames 已配置信号源名称（排序）
func (c *Config) GeneratorNames() []string {
	names := make([]string, 0, len(c.Signals.Generators))
	for name := range c.Signals.Generators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate 验证配置并填充默认值
func (c *Config) Validate() error {
	if c.App.Name == "" {
		c.App.Name = "signalbot"
	}

	// ==== 交易所 ====
	c.Exchange.Name = strings.ToLower(strings.TrimSpace(c.Exchange.Name))
	if c.Exchange.Name == "" {
		c.Exchange.Name = "paper"
	}
	switch c.Exchange.Name {
	case "binance":
		if c.App.ExecuteOrders && (c.Exchange.APIKey == "" || c.Exchange.SecretKey == "") {
			return fmt.Errorf("交易所 %s 的 API 配置不完整", c.Exchange.Name)
		}
	case "paper":
	default:
		return fmt.Errorf("不支持的交易所: %s", c.Exchange.Name)
	}
	if c.Exchange.QuoteAsset == "" {
		c.Exchange.QuoteAsset = defaultQuoteAsset
	}
	c.Exchange.QuoteAsset = strings.ToUpper(c.Exchange.QuoteAsset)
	if c.Exchange.PaperBalance <= 0 {
		c.Exchange.PaperBalance = defaultPaperBalance
	}
	if c.Exchange.Leverage <= 0 {
		c.Exchange.Leverage = 1
	}

	// ==== 交易参数 ====
	// 默认值在解析前由 setTradingDefaults 填入，这里只校验范围
	if c.Trading.MaxPositions <= 0 {
		return fmt.Errorf("最大持仓数必须大于0")
	}
	if c.Trading.PositionSizeUSD <= 0 {
		return fmt.Errorf("单笔仓位金额必须大于0")
	}
	if c.Trading.StopLossPercent <= 0 || c.Trading.TakeProfitPercent <= 0 {
		return fmt.Errorf("止损/止盈百分比必须大于0")
	}
	if c.Trading.TrailingStopPercent < 0 || c.Trading.TrailingStopActivation < 0 {
		return fmt.Errorf("移动止损参数不能为负数")
	}
	if c.Trading.MinSignalStrength < 0 || c.Trading.MinSignalStrength > 1 {
		return fmt.Errorf("最小信号强度必须在 0 到 1 之间")
	}
	if c.Trading.CooldownPeriod < 0 {
		return fmt.Errorf("冷却时间不能为负数")
	}
	if c.Trading.SizeDecimals < 0 || c.Trading.SizeDecimals > 8 {
		return fmt.Errorf("下单数量小数位必须在 0 到 8 之间")
	}
	if len(c.Trading.MonitoredCoins) == 0 {
		c.Trading.MonitoredCoins = []string{"ZEC", "ZEN", "ENA", "BTC"}
	}
	coins := make([]string, 0, len(c.Trading.MonitoredCoins))
	seen := make(map[string]bool)
	for _, coin := range c.Trading.MonitoredCoins {
		coin = strings.ToUpper(strings.TrimSpace(coin))
		if coin == "" {
			return fmt.Errorf("监控币种不能为空")
		}
		if seen[coin] {
			continue
		}
		seen[coin] = true
		coins = append(coins, coin)
	}
	c.Trading.MonitoredCoins = coins

	// ==== 信号源 ====
	if c.Signals.Generators == nil {
		c.Signals.Generators = make(map[string]GeneratorConfig)
	}
	for name, def := range generatorDefaults {
		g := c.Signals.Generators[name]
		if g.Enabled == nil {
			enabled := def.enabled
			g.Enabled = &enabled
		}
		if g.Interval <= 0 {
			g.Interval = def.interval
		}
		c.Signals.Generators[name] = g
	}
	for name, g := range c.Signals.Generators {
		if _, known := generatorDefaults[name]; known {
			continue
		}
		if g.Interval <= 0 {
			g.Interval = DefaultGeneratorInterval
		}
		if g.Enabled == nil {
			disabled := false
			g.Enabled = &disabled
		}
		c.Signals.Generators[name] = g
	}

	// ==== 系统 ====
	if c.System.BaseInterval <= 0 {
		c.System.BaseInterval = 60
	}
	if c.System.PositionCheckInterval <= 0 {
		c.System.PositionCheckInterval = 3
	}
	if c.System.PositionStateFile == "" {
		c.System.PositionStateFile = defaultStateFile
	}
	if c.System.StopTimeout <= 0 {
		c.System.StopTimeout = 10
	}
	if c.System.MonitorStopTimeout <= 0 {
		c.System.MonitorStopTimeout = 5
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Local"
	}
	if c.System.LogFile.MaxSizeMB <= 0 {
		c.System.LogFile.MaxSizeMB = 50
	}

	// ==== 行情 / 交易所调用保护 ====
	if c.MarketData.RequestsPerSecond <= 0 {
		c.MarketData.RequestsPerSecond = 2
	}
	if c.MarketData.Burst <= 0 {
		c.MarketData.Burst = 1
	}
	if c.Gateway.RequestsPerSecond <= 0 {
		c.Gateway.RequestsPerSecond = 10
	}
	if c.Gateway.Burst <= 0 {
		c.Gateway.Burst = 5
	}
	if c.Gateway.LockTTL <= 0 {
		c.Gateway.LockTTL = 30
	}
	if c.Gateway.CallTimeout <= 0 {
		c.Gateway.CallTimeout = 10
	}

	// ==== 分布式锁 ====
	if c.DistributedLock.Enabled {
		if c.DistributedLock.Type == "" {
			c.DistributedLock.Type = "redis"
		}
		if c.DistributedLock.Type == "redis" && c.DistributedLock.Redis.Addr == "" {
			return fmt.Errorf("启用 Redis 分布式锁时必须配置 distributed_lock.redis.addr")
		}
	}
	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "signalbot:"
	}
	if c.DistributedLock.Redis.PoolSize <= 0 {
		c.DistributedLock.Redis.PoolSize = 10
	}

	// ==== 数据库 ====
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("不支持的数据库类型: %s", c.Database.Type)
	}
	if c.Database.DSN == "" && c.Database.Type == "sqlite" {
		c.Database.DSN = "./data/trades.db"
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return fmt.Errorf("数据库 %s 未配置 dsn", c.Database.Type)
	}
	if c.Database.MaxOpenConns <= 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns <= 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 3600
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	// ==== 信号日志 ====
	if c.Storage.Path == "" {
		c.Storage.Path = "./data/signals.db"
	}
	if c.Storage.BufferSize <= 0 {
		c.Storage.BufferSize = 1000
	}
	if c.Storage.BatchSize <= 0 {
		c.Storage.BatchSize = 100
	}
	if c.Storage.FlushInterval <= 0 {
		c.Storage.FlushInterval = 5
	}
	if c.Storage.RetentionDays < 0 {
		return fmt.Errorf("信号保留天数不能为负数")
	}

	// ==== 通知 ====
	if c.Notifications.Webhook.Timeout <= 0 {
		c.Notifications.Webhook.Timeout = 3
	}
	if c.Notifications.Telegram.Enabled && (c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.ChatID == "") {
		return fmt.Errorf("启用 Telegram 通知时必须配置 bot_token 和 chat_id")
	}
	if c.Notifications.Webhook.Enabled && c.Notifications.Webhook.URL == "" {
		return fmt.Errorf("启用 Webhook 通知时必须配置 url")
	}

	// ==== Web ====
	if c.Web.Host == "" {
		c.Web.Host = "127.0.0.1"
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("Web 端口无效: %d", c.Web.Port)
	}
	if c.Web.Username == "" {
		c.Web.Username = "admin"
	}
	if c.Web.StatusPushInterval <= 0 {
		c.Web.StatusPushInterval = 2
	}

	return nil
}
