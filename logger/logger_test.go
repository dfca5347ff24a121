package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"debug", DEBUG},
		{" INFO ", INFO},
		{"warning", WARN},
		{"WARN", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"未知", INFO},
	}

	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, 期望 %v", tt.input, got, tt.want)
		}
	}
}

func TestFileOutputRespectsLevel(t *testing.T) {
	SetConsoleOutput(io.Discard)
	defer SetConsoleOutput(os.Stderr)

	path := filepath.Join(t.TempDir(), "logs", "bot.log")
	if err := SetOutputFile(FileConfig{Path: path, MaxSizeMB: 1}); err != nil {
		t.Fatalf("启用文件日志失败: %v", err)
	}

	oldLevel := GetLevel()
	SetLevel(WARN)
	defer SetLevel(oldLevel)

	Info("这条不应该写入")
	Warn("⚠️ 写入警告 %d", 42)
	Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "这条不应该写入") {
		t.Error("低于级别的日志不应写入文件")
	}
	if !strings.Contains(content, "[WARN] ⚠️ 写入警告 42") {
		t.Errorf("日志文件缺少警告内容: %q", content)
	}
}
