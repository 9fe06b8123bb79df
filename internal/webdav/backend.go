package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/webdav-engine/internal/types"
)

// Backend 存储后端契约
//
// 每个方法接收已验证的请求，返回该操作的成功响应类型或 ErrorResponse，
// 预期内的失败不以Go错误返回：
//
//	PropFind  -> *MultistatusResponse
//	PropPatch -> *PropPatchResponse（失败时返回带403/409/424分组的 *MultistatusResponse）
//	Delete    -> *DeleteResponse
//	Get       -> *GetResponse
//	Put       -> *PutResponse
//	MakeCollection -> *MkcolResponse
//	Copy/Move -> *CopyMoveResponse
//
// 引擎以 PROPFIND 后接 PROPPATCH/DELETE 的方式修改锁属性，两次调用之间不持有任何锁。
// 后端至少需要保证单个资源上的 PROPPATCH 是原子的，并应串行化同一资源上并发的锁属性修改，
// 否则可能丢失更新。并发正确性由后端负责。
type Backend interface {
	PropFind(ctx context.Context, req *Request) Response
	PropPatch(ctx context.Context, req *Request) Response
	Delete(ctx context.Context, req *Request) Response
	Get(ctx context.Context, req *Request) Response
	Put(ctx context.Context, req *Request) Response
	MakeCollection(ctx context.Context, req *Request) Response
	Copy(ctx context.Context, req *Request) Response
	Move(ctx context.Context, req *Request) Response
}

// ResourceInfo 后端资源元数据，用于生成活属性
type ResourceInfo struct {
	Path        string
	Collection  bool
	Size        int64
	ContentType string
	ETag        string
	Created     time.Time
	Modified    time.Time
}

// LiveProperties 根据资源元数据生成活属性，值均为已转义的内部XML
func (i ResourceInfo) LiveProperties() *types.PropertyStorage {
	live := types.NewPropertyStorage()
	add := func(name, value string) {
		live.Attach(types.NewDeadProperty(types.NamespaceDAV, name, value))
	}
	text := func(name, value string) {
		var b strings.Builder
		_ = xml.EscapeText(&b, []byte(value))
		add(name, b.String())
	}

	text("creationdate", i.Created.UTC().Format(time.RFC3339))
	text("getlastmodified", i.Modified.UTC().Format(http.TimeFormat))
	text("displayname", displayName(i.Path))
	if i.Collection {
		add("resourcetype", "<D:collection/>")
		return live
	}
	add("resourcetype", "")
	text("getcontentlength", fmt.Sprintf("%d", i.Size))
	if i.ContentType != "" {
		text("getcontenttype", i.ContentType)
	}
	if i.ETag != "" {
		text("getetag", i.ETag)
	}
	add("supportedlock", "<D:lockentry><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>"+
		"<D:lockentry><D:lockscope><D:shared/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>")
	return live
}

func displayName(p string) string {
	p = CleanPath(p)
	if p == "/" {
		return ""
	}
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// BuildPropFindResponse 根据请求组装单个资源的PROPFIND结果
//
// 请求指定属性时，找到的属性进入200分组，未找到的进入404分组；
// AllProp 时返回全部活属性与存储的属性。
func BuildPropFindResponse(info ResourceInfo, stored *types.PropertyStorage, req *Request) *PropFindResponse {
	live := info.LiveProperties()
	resp := NewPropFindResponse(info.Path)

	if req.AllProp {
		found := NewPropStatResponse(http.StatusOK, live.Properties()...)
		for _, p := range stored.Properties() {
			found.Storage.Attach(p.Clone())
		}
		resp.PropStats = append(resp.PropStats, found)
		return resp
	}

	found := NewPropStatResponse(http.StatusOK)
	missing := NewPropStatResponse(http.StatusNotFound)
	for _, key := range req.Prop {
		if p, ok := stored.Get(key.Name, key.Namespace); ok {
			found.Storage.Attach(p.Clone())
		} else if p, ok := live.Get(key.Name, key.Namespace); ok {
			found.Storage.Attach(p)
		} else {
			missing.Storage.Attach(types.NewPropertyName(key.Namespace, key.Name))
		}
	}
	if found.Storage.Count() > 0 {
		resp.PropStats = append(resp.PropStats, found)
	}
	if missing.Storage.Count() > 0 {
		resp.PropStats = append(resp.PropStats, missing)
	}
	return resp
}

// PropPatchFailure 构造失败的PROPPATCH多状态响应
//
// failed 中的属性使用各自的状态码，其余属性因原子性标记为 424。
func PropPatchFailure(node string, updates *types.FlaggedPropertyStorage, failed map[types.PropertyKey]int) *MultistatusResponse {
	groups := make(map[int]*PropStatResponse)
	var order []int
	for _, entry := range updates.Entries() {
		status, ok := failed[types.KeyOf(entry.Property)]
		if !ok {
			status = http.StatusFailedDependency
		}
		ps, exists := groups[status]
		if !exists {
			ps = NewPropStatResponse(status)
			groups[status] = ps
			order = append(order, status)
		}
		ps.Storage.Attach(types.NewPropertyName(entry.Property.Namespace(), entry.Property.Name()))
	}

	resp := NewPropFindResponse(node)
	for _, status := range order {
		resp.PropStats = append(resp.PropStats, groups[status])
	}
	return NewMultistatusResponse(resp)
}
