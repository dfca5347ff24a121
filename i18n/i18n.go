package i18n

import (
	"embed"
	"fmt"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

// 支持的语言，第一个为默认语言
var supported = []language.Tag{
	language.MustParse("zh-CN"),
	language.MustParse("en-US"),
}

var (
	bundle         *i18n.Bundle
	matcher        = language.NewMatcher(supported)
	defaultLang    = "zh-CN"
	mu             sync.RWMutex
	systemLanguage = defaultLang
)

// Init 加载内嵌的翻译文件
func Init(lang string) error {
	mu.Lock()
	defer mu.Unlock()

	if lang == "" {
		lang = defaultLang
	}
	systemLanguage = lang

	b := i18n.NewBundle(supported[0])
	b.RegisterUnmarshalFunc("yaml", yaml.Unmarshal)

	for _, tag := range supported {
		filename := fmt.Sprintf("locales/%s.yaml", tag.String())
		if _, err := b.LoadMessageFileFS(localeFS, filename); err != nil {
			return fmt.Errorf("加载翻译文件 %s 失败: %w", filename, err)
		}
	}
	bundle = b
	return nil
}

// MatchLanguage 根据 Accept-Language 选择支持的语言，无法匹配时返回默认语言
func MatchLanguage(acceptLanguage string) string {
	if acceptLanguage == "" {
		return GetSystemLanguage()
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return GetSystemLanguage()
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return GetSystemLanguage()
	}
	return supported[idx].String()
}

// GetLocalizer 获取指定语言的 Localizer
func GetLocalizer(lang string) *i18n.Localizer {
	mu.RLock()
	defer mu.RUnlock()

	if bundle == nil {
		return nil
	}
	if lang == "" {
		lang = systemLanguage
	}
	return i18n.NewLocalizer(bundle, lang, systemLanguage)
}

// T 翻译消息（使用系统默认语言）
func T(key string, data ...interface{}) string {
	return TWithLang(GetSystemLanguage(), key, data...)
}

// TWithLang 翻译消息（指定语言），找不到时返回 key
func TWithLang(lang string, key string, data ...interface{}) string {
	localizer := GetLocalizer(lang)
	if localizer == nil {
		return key
	}

	var templateData map[string]interface{}
	if len(data) > 0 {
		if m, ok := data[0].(map[string]interface{}); ok {
			templateData = m
		}
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    key,
		TemplateData: templateData,
	})
	if err != nil {
		return key
	}
	return msg
}

// SetSystemLanguage 设置系统默认语言
func SetSystemLanguage(lang string) {
	mu.Lock()
	defer mu.Unlock()
	systemLanguage = lang
}

// GetSystemLanguage 获取系统默认语言
func GetSystemLanguage() string {
	mu.RLock()
	defer mu.RUnlock()
	return systemLanguage
}
