package web

import (
	"signalbot/i18n"

	"github.com/gin-gonic/gin"
)

// I18nMiddleware 解析请求的 Accept-Language 头并设置到上下文
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("language", i18n.MatchLanguage(c.GetHeader("Accept-Language")))
		c.Next()
	}
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) string {
	if lang, exists := c.Get("language"); exists {
		if l, ok := lang.(string); ok {
			return l
		}
	}
	return i18n.GetSystemLanguage()
}

// T 翻译消息（从上下文获取语言）
func T(c *gin.Context, key string, data ...interface{}) string {
	return i18n.TWithLang(GetLanguage(c), key, data...)
}

// respondError 返回本地化的错误信息
func respondError(c *gin.Context, status int, key string, data ...interface{}) {
	c.JSON(status, gin.H{"error": T(c, key, data...)})
}

// respondMessage 返回本地化的提示信息
func respondMessage(c *gin.Context, status int, key string, data ...interface{}) {
	c.JSON(status, gin.H{"message": T(c, key, data...)})
}
