package webdav

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/webdav-engine/internal/types"
)

// WebDAV 方法
const (
	MethodOptions   = "OPTIONS"
	MethodGet       = "GET"
	MethodHead      = "HEAD"
	MethodPut       = "PUT"
	MethodDelete    = "DELETE"
	MethodMkcol     = "MKCOL"
	MethodCopy      = "COPY"
	MethodMove      = "MOVE"
	MethodPropFind  = "PROPFIND"
	MethodPropPatch = "PROPPATCH"
	MethodLock      = "LOCK"
	MethodUnlock    = "UNLOCK"
)

// 请求头名称
const (
	HeaderAuthorization = "Authorization"
	HeaderDepth         = "Depth"
	HeaderDestination   = "Destination"
	HeaderIf            = "If"
	HeaderLockToken     = "Lock-Token"
	HeaderOverwrite     = "Overwrite"
	HeaderTimeout       = "Timeout"
)

// LockRequestInfo LOCK请求体
type LockRequestInfo struct {
	Scope types.LockScope
	Owner string
}

// Request 规范化后的WebDAV请求
//
// 请求头在构造完成后通过 ValidateHeaders 验证一次，之后请求不可再修改。
type Request struct {
	Method string
	URI    string

	// PROPFIND
	Prop    []types.PropertyKey
	AllProp bool

	// PROPPATCH
	Updates *types.FlaggedPropertyStorage

	// LOCK，刷新锁时为nil
	LockInfo *LockRequestInfo

	// PUT
	Body        []byte
	ContentType string

	headers   map[string]interface{}
	validated bool
}

// NewRequest 创建请求
func NewRequest(method, uri string) *Request {
	return &Request{
		Method:  strings.ToUpper(method),
		URI:     CleanPath(uri),
		headers: make(map[string]interface{}),
	}
}

// NewPropFindRequest 创建PROPFIND请求，未指定属性时请求所有属性
func NewPropFindRequest(uri string, props ...types.PropertyKey) *Request {
	r := NewRequest(MethodPropFind, uri)
	r.Prop = props
	r.AllProp = len(props) == 0
	return r
}

// NewPropPatchRequest 创建PROPPATCH请求
func NewPropPatchRequest(uri string, updates *types.FlaggedPropertyStorage) *Request {
	r := NewRequest(MethodPropPatch, uri)
	r.Updates = updates
	return r
}

// NewUnlockRequest 创建UNLOCK请求
func NewUnlockRequest(uri, token string) *Request {
	r := NewRequest(MethodUnlock, uri)
	if token != "" {
		r.headers[HeaderLockToken] = token
	}
	return r
}

// NewLockRequest 创建LOCK请求
func NewLockRequest(uri string, info *LockRequestInfo) *Request {
	r := NewRequest(MethodLock, uri)
	r.LockInfo = info
	return r
}

// NewDeleteRequest 创建DELETE请求
func NewDeleteRequest(uri string) *Request {
	return NewRequest(MethodDelete, uri)
}

// NewPutRequest 创建PUT请求
func NewPutRequest(uri string, body []byte) *Request {
	r := NewRequest(MethodPut, uri)
	r.Body = body
	return r
}

// SetHeader 设置请求头，验证后调用返回 ErrRequestFrozen
func (r *Request) SetHeader(name string, value interface{}) error {
	if r.validated {
		return ErrRequestFrozen
	}
	r.headers[http.CanonicalHeaderKey(name)] = value
	return nil
}

// Header 获取原始请求头值
func (r *Request) Header(name string) (interface{}, bool) {
	v, ok := r.headers[http.CanonicalHeaderKey(name)]
	return v, ok
}

// HasHeader 检查请求头是否存在
func (r *Request) HasHeader(name string) bool {
	_, ok := r.Header(name)
	return ok
}

// Validated 请求头是否已验证
func (r *Request) Validated() bool {
	return r.validated
}

// AuthHeader 已解析的认证信息，可能为nil
func (r *Request) AuthHeader() *AuthHeader {
	v, _ := r.headers[HeaderAuthorization].(*AuthHeader)
	return v
}

// Principal 认证主体用户名，匿名时为空
func (r *Request) Principal() string {
	if auth := r.AuthHeader(); auth != nil {
		return auth.Username
	}
	return ""
}

// Depth Depth头，验证后总有值
func (r *Request) Depth() types.Depth {
	v, _ := r.headers[HeaderDepth].(types.Depth)
	return v
}

// Destination COPY/MOVE目标路径
func (r *Request) Destination() string {
	v, _ := r.headers[HeaderDestination].(string)
	return v
}

// If If头，可能为nil
func (r *Request) If() *IfHeader {
	v, _ := r.headers[HeaderIf].(*IfHeader)
	return v
}

// LockToken Lock-Token头
func (r *Request) LockToken() string {
	v, _ := r.headers[HeaderLockToken].(string)
	return v
}

// Overwrite Overwrite头，缺省为T
func (r *Request) Overwrite() bool {
	v, ok := r.headers[HeaderOverwrite].(bool)
	return !ok || v
}

// Timeout Timeout头，缺省为0
func (r *Request) Timeout() time.Duration {
	v, _ := r.headers[HeaderTimeout].(time.Duration)
	return v
}

// ValidateHeaders 验证请求头类型与方法约束，应用Depth默认值并冻结请求
func (r *Request) ValidateHeaders() error {
	if r.validated {
		return nil
	}

	for name, value := range r.headers {
		if err := checkHeaderType(name, value); err != nil {
			return err
		}
	}

	if err := r.applyDepth(); err != nil {
		return err
	}

	switch r.Method {
	case MethodCopy, MethodMove:
		if r.Destination() == "" {
			return &HeaderError{Header: HeaderDestination, Reason: "required for " + r.Method}
		}
		r.headers[HeaderDestination] = CleanPath(r.Destination())
	case MethodPropPatch:
		if r.Updates == nil {
			r.Updates = types.NewFlaggedPropertyStorage()
		}
	}

	r.validated = true
	return nil
}

func checkHeaderType(name string, value interface{}) error {
	ok := true
	switch name {
	case HeaderAuthorization:
		_, ok = value.(*AuthHeader)
	case HeaderDepth:
		_, ok = value.(types.Depth)
	case HeaderDestination:
		var s string
		s, ok = value.(string)
		ok = ok && s != ""
	case HeaderIf:
		var h *IfHeader
		h, ok = value.(*IfHeader)
		ok = ok && h != nil
	case HeaderLockToken:
		var s string
		s, ok = value.(string)
		ok = ok && types.NormalizeToken(s) != ""
	case HeaderOverwrite:
		_, ok = value.(bool)
	case HeaderTimeout:
		_, ok = value.(time.Duration)
	default:
		return &HeaderError{Header: name, Value: value, Reason: "unsupported header"}
	}
	if !ok {
		return &HeaderError{Header: name, Value: value, Reason: "unexpected value type"}
	}
	return nil
}

// applyDepth 按方法检查Depth并填充默认值
func (r *Request) applyDepth() error {
	depth, given := r.headers[HeaderDepth].(types.Depth)

	allowed := []types.Depth{types.DepthZero}
	def := types.DepthZero
	switch r.Method {
	case MethodPropFind:
		allowed = []types.Depth{types.DepthZero, types.DepthOne, types.DepthInfinity}
		def = types.DepthInfinity
	case MethodLock, MethodCopy:
		allowed = []types.Depth{types.DepthZero, types.DepthInfinity}
		def = types.DepthInfinity
	case MethodDelete, MethodMove:
		allowed = []types.Depth{types.DepthInfinity}
		def = types.DepthInfinity
	case MethodGet, MethodHead, MethodOptions, MethodPut, MethodMkcol, MethodPropPatch, MethodUnlock:
		// 这些方法忽略Depth
		r.headers[HeaderDepth] = types.DepthZero
		return nil
	}

	if !given {
		r.headers[HeaderDepth] = def
		return nil
	}
	for _, d := range allowed {
		if d == depth {
			return nil
		}
	}
	return &HeaderError{Header: HeaderDepth, Value: depth, Reason: "not allowed for " + r.Method}
}

// CleanPath 规范化资源路径：以 / 开头，无结尾 /
func CleanPath(p string) string {
	p = path.Clean("/" + strings.TrimSpace(p))
	return p
}

// ParentPath 获取父路径，根路径返回空串
func ParentPath(p string) string {
	p = CleanPath(p)
	if p == "/" {
		return ""
	}
	return path.Dir(p)
}

// IsDescendant 检查 p 是否位于 root 之下（不含 root 本身）
func IsDescendant(root, p string) bool {
	root, p = CleanPath(root), CleanPath(p)
	if root == p {
		return false
	}
	if root == "/" {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}
