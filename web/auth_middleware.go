package web

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// basicAuthMiddleware HTTP Basic 认证，密码用 bcrypt 校验
// passwordHash 为空时不启用认证
func basicAuthMiddleware(username, passwordHash string) gin.HandlerFunc {
	if passwordHash == "" {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok || !checkCredentials(username, passwordHash, user, pass) {
			c.Header("WWW-Authenticate", `Basic realm="signalbot"`)
			respondError(c, http.StatusUnauthorized, "error.unauthorized")
			c.Abort()
			return
		}

		c.Set("username", user)
		c.Next()
	}
}

func checkCredentials(username, passwordHash, user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(user)) == 1
	// 用户名错误时也执行 bcrypt，避免通过耗时判断用户名
	passOK := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(pass)) == nil
	return userOK && passOK
}

// HashPassword 生成 bcrypt 哈希（用于配置 web.password_hash）
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
