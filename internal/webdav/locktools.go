package webdav

import "github.com/google/uuid"

// DefaultClonedHeaders 派生请求默认复制的请求头
var DefaultClonedHeaders = []string{HeaderAuthorization, HeaderIf, HeaderLockToken}

// CloneRequestHeaders 将 from 中存在的指定请求头复制到尚未验证的 to
func CloneRequestHeaders(from, to *Request, names ...string) error {
	if len(names) == 0 {
		names = DefaultClonedHeaders
	}
	for _, name := range names {
		value, ok := from.Header(name)
		if !ok {
			continue
		}
		if err := to.SetHeader(name, value); err != nil {
			return err
		}
	}
	return nil
}

// GenerateLockToken 生成锁令牌
func GenerateLockToken() string {
	return "opaquelocktoken:" + uuid.New().String()
}
