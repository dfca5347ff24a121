package i18n

import "testing"

func TestTranslate(t *testing.T) {
	if err := Init("zh-CN"); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	if got := TWithLang("en-US", "bot.started"); got != "Bot started" {
		t.Errorf("英文翻译 = %q", got)
	}
	if got := T("bot.started"); got != "机器人已启动" {
		t.Errorf("默认语言翻译 = %q", got)
	}
	got := TWithLang("en-US", "bot.emergency_stopped", map[string]interface{}{"Closed": 2, "Failed": 1})
	if got != "Emergency stop finished: 2 closed, 1 failed" {
		t.Errorf("模板翻译 = %q", got)
	}
	if got := T("missing.key"); got != "missing.key" {
		t.Errorf("缺失的 key 应原样返回, 得到 %q", got)
	}
}

func TestMatchLanguage(t *testing.T) {
	SetSystemLanguage("zh-CN")
	tests := []struct {
		header string
		want   string
	}{
		{"", "zh-CN"},
		{"en-US,en;q=0.9", "en-US"},
		{"en-GB", "en-US"},
		{"zh-TW,zh;q=0.9", "zh-CN"},
		{"zh-CN,zh;q=0.9,en;q=0.8", "zh-CN"},
		{"###", "zh-CN"},
	}
	for _, tt := range tests {
		if got := MatchLanguage(tt.header); got != tt.want {
			t.Errorf("MatchLanguage(%q) = %q, 期望 %q", tt.header, got, tt.want)
		}
	}
}
