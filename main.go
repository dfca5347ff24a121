package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"signalbot/bot"
	"signalbot/config"
	"signalbot/database"
	"signalbot/event"
	"signalbot/exchange"
	"signalbot/exchange/binance"
	"signalbot/i18n"
	"signalbot/lock"
	"signalbot/logger"
	"signalbot/metrics"
	"signalbot/notify"
	"signalbot/order"
	"signalbot/position"
	"signalbot/storage"
	"signalbot/strategy"
	"signalbot/utils"
	"signalbot/web"
)

// Version 版本号（构建时通过 -ldflags 注入）
var Version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	execute := flag.Bool("execute", false, "执行真实下单（覆盖 app.execute_orders）")
	paper := flag.Bool("paper", false, "使用模拟盘网关")
	debug := flag.Bool("debug", false, "输出调试日志和全量请求日志")
	showVersion := flag.Bool("version", false, "打印版本号")
	flag.Parse()

	if *showVersion {
		fmt.Printf("signalbot %s\n", Version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("❌ 加载配置失败: %v", err)
	}
	if *execute {
		cfg.App.ExecuteOrders = true
	}
	if *paper {
		cfg.Exchange.Name = "paper"
	}
	if *debug {
		cfg.System.LogLevel = "debug"
	}

	setupLogger(cfg)
	defer logger.Close()

	if err := i18n.Init(""); err != nil {
		logger.Warn("⚠️ 初始化 i18n 失败: %v", err)
	}

	logger.Info("🚀 %s 启动，版本 %s", cfg.App.Name, Version)
	logger.Info("📋 交易所=%s 下单=%v 监控币种=%v", cfg.Exchange.Name, cfg.App.ExecuteOrders, cfg.Trading.MonitoredCoins)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 行情
	feed := binance.NewKlineFeed(binance.FeedConfig{
		Testnet:           cfg.Exchange.Testnet,
		QuoteAsset:        cfg.Exchange.QuoteAsset,
		RequestsPerSecond: cfg.MarketData.RequestsPerSecond,
		Burst:             cfg.MarketData.Burst,
	})

	// 分布式锁
	distLock, err := lock.NewDistributedLock(&lock.Config{
		Enabled: cfg.DistributedLock.Enabled,
		Type:    cfg.DistributedLock.Type,
		Prefix:  cfg.DistributedLock.Prefix,
		Redis: lock.RedisConfig{
			Addr:     cfg.DistributedLock.Redis.Addr,
			Password: cfg.DistributedLock.Redis.Password,
			DB:       cfg.DistributedLock.Redis.DB,
			PoolSize: cfg.DistributedLock.Redis.PoolSize,
		},
	})
	if err != nil {
		logger.Fatalf("❌ 初始化分布式锁失败: %v", err)
	}
	defer distLock.Close()

	// 交易所网关
	inner, err := newGateway(ctx, cfg, feed)
	if err != nil {
		logger.Fatalf("❌ 初始化交易所网关失败: %v", err)
	}
	gw := exchange.NewGuardedGateway(inner, exchange.GuardOptions{
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		Serialize:         cfg.Gateway.Serialize,
		Lock:              distLock,
		LockTTL:           time.Duration(cfg.Gateway.LockTTL) * time.Second,
		CallTimeout:       time.Duration(cfg.Gateway.CallTimeout) * time.Second,
	})

	// 数据库（开平仓记录、事件）
	var db database.Database
	var history web.HistoryProvider
	if cfg.Database.Enabled {
		db, err = database.NewDatabase(&database.Config{
			Type:            cfg.Database.Type,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
			LogLevel:        cfg.Database.LogLevel,
		})
		if err != nil {
			logger.Warn("⚠️ 初始化数据库失败: %v，交易记录将不会保存", err)
			db = nil
		} else {
			history = db
			logger.Info("✅ 数据库已连接: %s", cfg.Database.Type)
		}
	}

	// 事件总线 & 通知 & 事件中心
	eventBus := event.NewEventBus(1000)
	notifier := notify.NewNotificationService(cfg)
	eventCenter := event.NewEventCenter(db, eventBus, notifier, event.EventCenterConfig{
		Exchange: cfg.Exchange.Name,
	})
	eventCenter.Start(ctx)

	// 信号日志
	var journal *storage.SignalJournal
	var recorder bot.SignalRecorder
	var signals web.SignalProvider
	if cfg.Storage.Enabled {
		journal, err = storage.NewSignalJournal(storage.Options{
			Path:          cfg.Storage.Path,
			BufferSize:    cfg.Storage.BufferSize,
			BatchSize:     cfg.Storage.BatchSize,
			FlushInterval: time.Duration(cfg.Storage.FlushInterval) * time.Second,
			FallbackPath:  filepath.Join(filepath.Dir(cfg.Storage.Path), "signals_fallback.jsonl"),
			RetentionDays: cfg.Storage.RetentionDays,
		})
		if err != nil {
			logger.Warn("⚠️ 初始化信号日志失败: %v，信号将不会持久化", err)
			journal = nil
		} else {
			journal.Start()
			recorder = journal
			signals = journal
		}
	}

	// 持仓状态 & 管理器
	store, err := position.NewStateStore(cfg.System.PositionStateFile, nil)
	if err != nil {
		logger.Fatalf("❌ 加载持仓状态失败: %v", err)
	}
	orders := order.NewManager(gw, bot.OrderSettings(cfg), eventBus)
	monitor := position.NewMonitor(gw, store, bot.MonitorThresholds(cfg), eventBus)

	sources, intervals, err := strategy.BuildSources(cfg, feed)
	if err != nil {
		logger.Fatalf("❌ 创建信号源失败: %v", err)
	}

	signalBot, err := bot.New(bot.Options{
		Gateway:            gw,
		Sources:            sources,
		Intervals:          intervals,
		Coins:              cfg.Trading.MonitoredCoins,
		Orders:             orders,
		Monitor:            monitor,
		Bus:                eventBus,
		Recorder:           recorder,
		ExecuteOrders:      cfg.App.ExecuteOrders,
		BaseInterval:       time.Duration(cfg.System.BaseInterval) * time.Second,
		PositionInterval:   time.Duration(cfg.System.PositionCheckInterval) * time.Second,
		StopTimeout:        time.Duration(cfg.System.StopTimeout) * time.Second,
		MonitorStopTimeout: time.Duration(cfg.System.MonitorStopTimeout) * time.Second,
	})
	if err != nil {
		logger.Fatalf("❌ 创建机器人失败: %v", err)
	}

	// 配置热更新
	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(func(oldCfg, newCfg *config.Config, changes []config.ConfigChange) error {
		signalBot.ApplyRiskSettings(newCfg)
		logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))
		notifier.UpdateConfig(newCfg)
		logger.Info("🔄 配置已热更新，共 %d 项变更", len(changes))
		return nil
	})
	watcher, err := config.NewConfigWatcher(*configPath, hotReloader,
		config.NewBackupManager(filepath.Join(filepath.Dir(*configPath), "config_backups"), 10))
	if err != nil {
		logger.Warn("⚠️ 创建配置监控失败: %v，配置修改需要重启生效", err)
		watcher = nil
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监控失败: %v", err)
		watcher = nil
	}

	// 系统指标
	systemCollector := metrics.NewSystemMetricsCollector(30 * time.Second)
	systemCollector.Start(ctx)

	// Web 控制台
	var webServer *web.WebServer
	if cfg.Web.Enabled {
		webServer = web.NewWebServer(web.Options{
			Host:               cfg.Web.Host,
			Port:               cfg.Web.Port,
			Username:           cfg.Web.Username,
			PasswordHash:       cfg.Web.PasswordHash,
			StatusPushInterval: time.Duration(cfg.Web.StatusPushInterval) * time.Second,
			Debug:              *debug,
			Bot:                signalBot,
			History:            history,
			Signals:            signals,
		})
		go func() {
			if err := webServer.Start(ctx); err != nil {
				logger.Error("❌ Web 服务异常退出: %v", err)
			}
		}()
	}

	if cfg.App.Autostart {
		if err := signalBot.Start(); err != nil {
			logger.Fatalf("❌ 启动机器人失败: %v", err)
		}
	} else {
		logger.Info("⏸️ 未开启自动启动，等待通过 Web 控制台启动")
	}

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("🛑 收到信号 %v，开始退出...", sig)

	if hotReloader.GetCurrentConfig().System.ClosePositionsOnExit && !signalBot.IsClosed() {
		result, err := signalBot.EmergencyStop()
		if err != nil {
			logger.Error("❌ 退出时平仓失败: %v", err)
		} else {
			logger.Info("✅ 退出时平仓完成: 成功 %d，失败 %d", len(result.Closed), len(result.Failed))
		}
	} else if err := signalBot.Stop(); err != nil {
		logger.Warn("⚠️ 停止机器人失败: %v", err)
	}

	if webServer != nil {
		webServer.Stop()
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warn("⚠️ 停止配置监控失败: %v", err)
		}
	}
	systemCollector.Stop()
	eventCenter.Stop()
	if journal != nil {
		journal.Stop()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			logger.Warn("⚠️ 关闭数据库失败: %v", err)
		}
	}
	notifier.Wait()
	cancel()

	logger.Info("👋 已退出")
}

// setupLogger 按配置设置日志级别、时区和日志文件
func setupLogger(cfg *config.Config) {
	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))

	loc, err := utils.LoadLocation(cfg.System.Timezone)
	if err != nil {
		logger.Warn("⚠️ %v，使用本地时区", err)
	} else {
		logger.SetLocation(loc)
	}

	lf := cfg.System.LogFile
	if err := logger.SetOutputFile(logger.FileConfig{
		Path:       lf.Path,
		MaxSizeMB:  lf.MaxSizeMB,
		MaxBackups: lf.MaxBackups,
		MaxAgeDays: lf.MaxAgeDays,
		Compress:   lf.Compress,
	}); err != nil {
		logger.Warn("⚠️ 启用文件日志失败: %v", err)
	}
}

// newGateway 按配置创建交易所网关
func newGateway(ctx context.Context, cfg *config.Config, feed *binance.KlineFeed) (exchange.Gateway, error) {
	switch cfg.Exchange.Name {
	case "binance":
		return binance.NewFuturesGateway(ctx, binance.Config{
			APIKey:     cfg.Exchange.APIKey,
			SecretKey:  cfg.Exchange.SecretKey,
			Testnet:    cfg.Exchange.Testnet,
			QuoteAsset: cfg.Exchange.QuoteAsset,
		})
	case "paper":
		logger.Info("📝 使用模拟盘网关，初始余额 %.2f", cfg.Exchange.PaperBalance)
		return exchange.NewPaperGateway(cfg.Exchange.PaperBalance, int(cfg.Exchange.Leverage), feed.LastPrice), nil
	default:
		return nil, fmt.Errorf("不支持的交易所: %s", cfg.Exchange.Name)
	}
}
