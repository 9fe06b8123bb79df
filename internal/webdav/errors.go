package webdav

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestFrozen 请求头已验证，不允许再修改
	ErrRequestFrozen = errors.New("request headers already validated")

	// ErrDuplicatePlugin 重复注册插件
	ErrDuplicatePlugin = errors.New("plugin already registered")

	// ErrUnknownPlugin 插件未注册
	ErrUnknownPlugin = errors.New("plugin not registered")
)

// HeaderError 请求头验证失败
type HeaderError struct {
	Header string
	Value  interface{}
	Reason string
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("invalid header %s (%v): %s", e.Header, e.Value, e.Reason)
}

// InconsistencyError 后端数据完整性故障
//
// 不是客户端错误：表示 lockinfo 与 lockdiscovery 不一致，或者后端违反了契约。
// 服务器记录日志并以500响应。
type InconsistencyError struct {
	Path    string
	Token   string
	Message string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("inconsistency on %s (token %s): %s", e.Path, e.Token, e.Message)
}

// IsInconsistency 检查错误链中是否包含 InconsistencyError
func IsInconsistency(err error) bool {
	var ie *InconsistencyError
	return errors.As(err, &ie)
}
