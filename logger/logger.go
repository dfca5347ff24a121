package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel 日志级别
type LogLevel int

const (
	DEBUG LogLevel = iota // 调试信息（最详细）
	INFO                  // 一般信息（正常运行信息）
	WARN                  // 警告信息（需要注意但不影响运行）
	ERROR                 // 错误信息（需要关注的问题）
	FATAL                 // 致命错误（程序无法继续）
)

// FileConfig 日志文件配置
type FileConfig struct {
	Path       string // 日志文件路径，为空表示只输出到控制台
	MaxSizeMB  int    // 单个文件最大大小（MB）
	MaxBackups int    // 保留的旧文件数量
	MaxAgeDays int    // 旧文件保留天数
	Compress   bool   // 是否压缩旧文件
}

var (
	globalLevel LogLevel = INFO
	mu          sync.RWMutex

	// 日志文件（按大小轮转）
	fileLogger *log.Logger
	rotator    *lumberjack.Logger
	fileMu     sync.Mutex

	// 时区相关
	globalLocation *time.Location = time.Local
	locationMu     sync.RWMutex

	// 日志订阅者（通过函数指针避免循环依赖）
	hookWriter func(level, message string)
	hookMu     sync.RWMutex
)

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串
func ParseLogLevel(level string) LogLevel {
	level = strings.ToUpper(strings.TrimSpace(level))
	switch level {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO // 默认INFO级别
	}
}

// SetLevel 设置全局日志级别
func SetLevel(level LogLevel) {
	mu.Lock()
	defer mu.Unlock()
	globalLevel = level
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	mu.RLock()
	defer mu.RUnlock()
	return globalLevel
}

// SetLocation 设置全局日志时区
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	globalLocation = loc
}

// SetOutputFile 启用文件日志（lumberjack 按大小轮转）
func SetOutputFile(cfg FileConfig) error {
	fileMu.Lock()
	defer fileMu.Unlock()

	if rotator != nil {
		rotator.Close()
		rotator = nil
		fileLogger = nil
	}

	if cfg.Path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return fmt.Errorf("创建日志文件夹失败: %w", err)
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 50
	}

	rotator = &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  true,
	}
	fileLogger = log.New(rotator, "", 0)

	log.Printf("[INFO] 文件日志已启用，日志文件: %s", cfg.Path)
	return nil
}

// SetHook 设置日志订阅函数（如 Web 实时日志），传 nil 取消
func SetHook(writer func(level, message string)) {
	hookMu.Lock()
	defer hookMu.Unlock()
	hookWriter = writer
}

// SetConsoleOutput 替换控制台输出（测试时可以丢弃输出）
func SetConsoleOutput(w io.Writer) {
	log.SetOutput(w)
}

// Close 关闭文件日志（程序退出时调用）
func Close() {
	fileMu.Lock()
	if rotator != nil {
		rotator.Close()
		rotator = nil
		fileLogger = nil
	}
	fileMu.Unlock()

	SetHook(nil)
}

// shouldLog 判断是否应该输出日志
func shouldLog(level LogLevel) bool {
	return level >= GetLevel()
}

// logf 内部日志输出函数
func logf(level LogLevel, format string, args ...interface{}) {
	if !shouldLog(level) {
		return
	}
	prefix := fmt.Sprintf("[%s] ", level.String())
	message := fmt.Sprintf(prefix+format, args...)

	// 输出到控制台（标准输出）
	log.Print(message)

	fileMu.Lock()
	if fileLogger != nil {
		locationMu.RLock()
		loc := globalLocation
		locationMu.RUnlock()
		fileLogger.Printf("%s %s", time.Now().In(loc).Format("2006/01/02 15:04:05"), message)
	}
	fileMu.Unlock()

	hookMu.RLock()
	writer := hookWriter
	hookMu.RUnlock()

	if writer != nil {
		go func() {
			defer func() {
				// 订阅者异常不能影响主流程
				_ = recover()
			}()
			writer(level.String(), message)
		}()
	}
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}

// Fatalf 输出致命错误日志并退出程序（兼容标准库）
func Fatalf(format string, args ...interface{}) {
	Fatal(format, args...)
}
