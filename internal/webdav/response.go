package webdav

import (
	"net/http"
	"time"

	"github.com/webdav-engine/internal/types"
)

// Response 引擎响应
//
// 插件应将响应视为不可变：需要修改时构造新响应并通过 Respond 替换。
type Response interface {
	StatusCode() int
	Headers() http.Header
}

// BasicResponse 仅含状态码与头部的响应
type BasicResponse struct {
	Status int
	Header http.Header
}

// NewResponse 创建普通响应
func NewResponse(status int) *BasicResponse {
	return &BasicResponse{Status: status, Header: make(http.Header)}
}

func (r *BasicResponse) StatusCode() int { return r.Status }

func (r *BasicResponse) Headers() http.Header {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	return r.Header
}

// 预定义的错误条件（RFC 4918 §16）
const (
	ConditionLockTokenSubmitted  = "lock-token-submitted"
	ConditionNoConflictingLock   = "no-conflicting-lock"
	ConditionLockTokenMatches    = "lock-token-matches-request-uri"
	ConditionCannotModifyProtect = "cannot-modify-protected-property"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	BasicResponse
	Reason    string
	Condition string
	Hrefs     []string
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(status int, reason string) *ErrorResponse {
	return &ErrorResponse{BasicResponse: *NewResponse(status), Reason: reason}
}

// NewConditionResponse 创建带前置条件元素的错误响应
func NewConditionResponse(status int, condition string, hrefs ...string) *ErrorResponse {
	return &ErrorResponse{
		BasicResponse: *NewResponse(status),
		Reason:        http.StatusText(status),
		Condition:     condition,
		Hrefs:         hrefs,
	}
}

// UnauthorizedResponse 授权失败响应
type UnauthorizedResponse struct {
	BasicResponse
	Reason string
}

// MultistatusResponse 207 多状态响应
type MultistatusResponse struct {
	BasicResponse
	Responses []*PropFindResponse
}

// NewMultistatusResponse 创建多状态响应
func NewMultistatusResponse(responses ...*PropFindResponse) *MultistatusResponse {
	return &MultistatusResponse{BasicResponse: *NewResponse(http.StatusMultiStatus), Responses: responses}
}

// Find 按资源路径查找
func (m *MultistatusResponse) Find(node string) *PropFindResponse {
	node = CleanPath(node)
	for _, r := range m.Responses {
		if r.Node == node {
			return r
		}
	}
	return nil
}

// PropFindResponse 单个资源的属性结果，按状态分组
type PropFindResponse struct {
	Node      string
	PropStats []*PropStatResponse
}

// NewPropFindResponse 创建单个资源结果
func NewPropFindResponse(node string, propStats ...*PropStatResponse) *PropFindResponse {
	return &PropFindResponse{Node: CleanPath(node), PropStats: propStats}
}

// PropStat 获取指定状态的分组
func (r *PropFindResponse) PropStat(status int) *PropStatResponse {
	for _, ps := range r.PropStats {
		if ps.Status == status {
			return ps
		}
	}
	return nil
}

// Found 200 分组中的属性存储，不存在时为nil
func (r *PropFindResponse) Found() *types.PropertyStorage {
	if ps := r.PropStat(http.StatusOK); ps != nil {
		return ps.Storage
	}
	return nil
}

// PropStatResponse 同一状态下的属性集合
type PropStatResponse struct {
	Status      int
	Storage     *types.PropertyStorage
	Description string
}

// NewPropStatResponse 创建属性状态分组
func NewPropStatResponse(status int, props ...types.Property) *PropStatResponse {
	return &PropStatResponse{Status: status, Storage: types.NewPropertyStorage(props...)}
}

// PropPatchResponse PROPPATCH成功（所有属性均已应用）
type PropPatchResponse struct {
	BasicResponse
	Node      string
	PropStats []*PropStatResponse
}

// NewPropPatchResponse 创建PROPPATCH成功响应
func NewPropPatchResponse(node string, applied ...types.Property) *PropPatchResponse {
	resp := &PropPatchResponse{BasicResponse: *NewResponse(http.StatusMultiStatus), Node: CleanPath(node)}
	if len(applied) > 0 {
		resp.PropStats = []*PropStatResponse{NewPropStatResponse(http.StatusOK, applied...)}
	}
	return resp
}

// DeleteResponse DELETE成功
type DeleteResponse struct {
	BasicResponse
}

// NewDeleteResponse 创建DELETE成功响应
func NewDeleteResponse() *DeleteResponse {
	return &DeleteResponse{BasicResponse: *NewResponse(http.StatusNoContent)}
}

// UnlockResponse UNLOCK成功
type UnlockResponse struct {
	BasicResponse
}

// NewUnlockResponse 创建UNLOCK成功响应
func NewUnlockResponse() *UnlockResponse {
	return &UnlockResponse{BasicResponse: *NewResponse(http.StatusNoContent)}
}

// LockResponse LOCK成功，Created 表示创建了锁空资源
type LockResponse struct {
	BasicResponse
	Token     string
	Discovery *types.LockDiscoveryProperty
	Created   bool
}

// NewLockResponse 创建LOCK成功响应
func NewLockResponse(token string, discovery *types.LockDiscoveryProperty, created bool) *LockResponse {
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	resp := &LockResponse{BasicResponse: *NewResponse(status), Token: token, Discovery: discovery, Created: created}
	if token != "" {
		resp.Headers().Set(HeaderLockToken, "<"+token+">")
	}
	return resp
}

// GetResponse GET/HEAD成功
type GetResponse struct {
	BasicResponse
	Body         []byte
	ContentType  string
	ETag         string
	LastModified time.Time
	Collection   bool
}

// PutResponse PUT成功
type PutResponse struct {
	BasicResponse
	Created bool
	ETag    string
}

// NewPutResponse 创建PUT成功响应
func NewPutResponse(created bool, etag string) *PutResponse {
	status := http.StatusNoContent
	if created {
		status = http.StatusCreated
	}
	resp := &PutResponse{BasicResponse: *NewResponse(status), Created: created, ETag: etag}
	if etag != "" {
		resp.Headers().Set("ETag", etag)
	}
	return resp
}

// MkcolResponse MKCOL成功
type MkcolResponse struct {
	BasicResponse
}

// NewMkcolResponse 创建MKCOL成功响应
func NewMkcolResponse() *MkcolResponse {
	return &MkcolResponse{BasicResponse: *NewResponse(http.StatusCreated)}
}

// CopyMoveResponse COPY/MOVE成功
type CopyMoveResponse struct {
	BasicResponse
	Created bool
}

// NewCopyMoveResponse 创建COPY/MOVE成功响应
func NewCopyMoveResponse(created bool) *CopyMoveResponse {
	status := http.StatusNoContent
	if created {
		status = http.StatusCreated
	}
	return &CopyMoveResponse{BasicResponse: *NewResponse(status), Created: created}
}

// OptionsResponse OPTIONS响应
type OptionsResponse struct {
	BasicResponse
	Allow []string
}
