package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/webdav-engine/internal/webdav"
)

// principalKey gin上下文中认证主体的键
const principalKey = "principal"

// CredentialVerifier 校验 Authorization 头
type CredentialVerifier interface {
	Verify(header string) (*webdav.AuthHeader, error)
}

// AuthMiddleware 校验凭据并把认证主体放入上下文
//
// 未携带凭据的请求按匿名继续，是否允许访问由授权策略决定。
// 携带了无效凭据的请求直接返回401。
func AuthMiddleware(verifier CredentialVerifier, realm string, logger *logrus.Logger) gin.HandlerFunc {
	challenge := fmt.Sprintf("Basic realm=%q", realm)
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		auth, err := verifier.Verify(header)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"path":  c.Request.URL.Path,
				"ip":    c.ClientIP(),
				"error": err.Error(),
			}).Warn("authentication failed")
			c.Header("WWW-Authenticate", challenge)
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		c.Set(principalKey, auth)
		c.Next()
	}
}

// AuthHeader 当前请求的认证信息，匿名时为nil
func AuthHeader(c *gin.Context) *webdav.AuthHeader {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	auth, _ := v.(*webdav.AuthHeader)
	return auth
}

// Principal 当前请求的用户名，匿名时为空
func Principal(c *gin.Context) string {
	if auth := AuthHeader(c); auth != nil {
		return auth.Username
	}
	return ""
}

var corsMethods = strings.Join([]string{
	"GET", "HEAD", "PUT", "DELETE", "OPTIONS", "PROPFIND", "PROPPATCH",
	"MKCOL", "COPY", "MOVE", "LOCK", "UNLOCK",
}, ", ")

// CORSMiddleware 处理跨域请求，只有预检请求在此结束
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", corsMethods)
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Depth, Destination, Overwrite, If, Lock-Token, Timeout")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Type, Last-Modified, ETag, DAV, Lock-Token")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions && c.GetHeader("Access-Control-Request-Method") != "" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
