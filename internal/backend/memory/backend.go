// Package memory 提供进程内的WebDAV存储后端，主要用于测试与单机部署。
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/webdav-engine/internal/types"
	"github.com/webdav-engine/internal/webdav"
)

type resource struct {
	collection  bool
	content     []byte
	contentType string
	etag        string
	created     time.Time
	modified    time.Time
	props       *types.PropertyStorage
}

func (r *resource) clone() *resource {
	c := *r
	c.content = append([]byte(nil), r.content...)
	c.props = r.props.Clone()
	return &c
}

// Backend 内存后端
//
// 所有操作在同一把互斥锁下执行，因此单个资源上的PROPPATCH是原子的，
// 并发的锁属性修改被串行化。
type Backend struct {
	mu        sync.RWMutex
	resources map[string]*resource
	now       func() time.Time
}

// New 创建只含根集合的内存后端
func New() *Backend {
	b := &Backend{
		resources: make(map[string]*resource),
		now:       time.Now,
	}
	t := b.now()
	b.resources["/"] = &resource{collection: true, created: t, modified: t, props: types.NewPropertyStorage()}
	return b
}

// Exists 资源是否存在
func (b *Backend) Exists(path string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.resources[webdav.CleanPath(path)]
	return ok
}

// Properties 资源存储属性的副本
func (b *Backend) Properties(path string) (*types.PropertyStorage, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.resources[webdav.CleanPath(path)]
	if !ok {
		return nil, false
	}
	return r.props.Clone(), true
}

func (b *Backend) info(path string, r *resource) webdav.ResourceInfo {
	return webdav.ResourceInfo{
		Path:        path,
		Collection:  r.collection,
		Size:        int64(len(r.content)),
		ContentType: r.contentType,
		ETag:        r.etag,
		Created:     r.created,
		Modified:    r.modified,
	}
}

// subtree 按深度返回 path 及其后代，path 在前，其余按字典序
func (b *Backend) subtree(path string, depth types.Depth) []string {
	out := []string{path}
	if depth == types.DepthZero {
		return out
	}
	var rest []string
	for p := range b.resources {
		if !webdav.IsDescendant(path, p) {
			continue
		}
		if depth == types.DepthOne && webdav.ParentPath(p) != path {
			continue
		}
		rest = append(rest, p)
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func notFound(path string) *webdav.ErrorResponse {
	return webdav.NewErrorResponse(http.StatusNotFound, fmt.Sprintf("%s not found", path))
}

// PropFind 查询属性
func (b *Backend) PropFind(_ context.Context, req *webdav.Request) webdav.Response {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.resources[req.URI]
	if !ok {
		return notFound(req.URI)
	}
	depth := req.Depth()
	if !r.collection {
		depth = types.DepthZero
	}

	ms := webdav.NewMultistatusResponse()
	for _, p := range b.subtree(req.URI, depth) {
		res := b.resources[p]
		ms.Responses = append(ms.Responses, webdav.BuildPropFindResponse(b.info(p, res), res.props, req))
	}
	return ms
}

// PropPatch 原子地应用属性修改
func (b *Backend) PropPatch(_ context.Context, req *webdav.Request) webdav.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.resources[req.URI]
	if !ok {
		return notFound(req.URI)
	}

	failed := make(map[types.PropertyKey]int)
	for _, entry := range req.Updates.Entries() {
		key := types.KeyOf(entry.Property)
		if key.Namespace == types.NamespaceDAV && key.Name != types.PropLockDiscovery && types.IsProtectedProperty(key.Namespace, key.Name) {
			failed[key] = http.StatusForbidden
		}
	}
	if len(failed) > 0 {
		return webdav.PropPatchFailure(req.URI, req.Updates, failed)
	}

	props := r.props.Clone()
	var applied []types.Property
	for _, entry := range req.Updates.Entries() {
		p := entry.Property
		if entry.Operation == types.PatchRemove {
			props.Remove(p.Name(), p.Namespace())
		} else {
			props.Attach(p.Clone())
		}
		applied = append(applied, types.NewPropertyName(p.Namespace(), p.Name()))
	}
	r.props = props
	return webdav.NewPropPatchResponse(req.URI, applied...)
}

// Delete 删除资源及其后代
func (b *Backend) Delete(_ context.Context, req *webdav.Request) webdav.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	if req.URI == "/" {
		return webdav.NewErrorResponse(http.StatusForbidden, "cannot delete root collection")
	}
	if _, ok := b.resources[req.URI]; !ok {
		return notFound(req.URI)
	}
	for _, p := range b.subtree(req.URI, types.DepthInfinity) {
		delete(b.resources, p)
	}
	return webdav.NewDeleteResponse()
}

// Get 读取资源内容
func (b *Backend) Get(_ context.Context, req *webdav.Request) webdav.Response {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.resources[req.URI]
	if !ok {
		return notFound(req.URI)
	}
	resp := &webdav.GetResponse{
		BasicResponse: *webdav.NewResponse(http.StatusOK),
		Body:          append([]byte(nil), r.content...),
		ContentType:   r.contentType,
		ETag:          r.etag,
		LastModified:  r.modified,
		Collection:    r.collection,
	}
	return resp
}

// checkParent 父集合必须存在
func (b *Backend) checkParent(path string) webdav.Response {
	parent, ok := b.resources[webdav.ParentPath(path)]
	if !ok || !parent.collection {
		return webdav.NewErrorResponse(http.StatusConflict, fmt.Sprintf("parent collection of %s does not exist", path))
	}
	return nil
}

// Put 写入资源内容
func (b *Backend) Put(_ context.Context, req *webdav.Request) webdav.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	if errResp := b.checkParent(req.URI); errResp != nil {
		return errResp
	}
	t := b.now()
	r, exists := b.resources[req.URI]
	if exists && r.collection {
		return webdav.NewErrorResponse(http.StatusMethodNotAllowed, "cannot PUT to a collection")
	}
	if !exists {
		r = &resource{created: t, props: types.NewPropertyStorage()}
		b.resources[req.URI] = r
	}
	r.content = append([]byte(nil), req.Body...)
	r.contentType = req.ContentType
	r.modified = t
	r.etag = fmt.Sprintf(`"%x-%x"`, t.UnixNano(), len(r.content))
	return webdav.NewPutResponse(!exists, r.etag)
}

// MakeCollection 创建集合
func (b *Backend) MakeCollection(_ context.Context, req *webdav.Request) webdav.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.resources[req.URI]; exists {
		return webdav.NewErrorResponse(http.StatusMethodNotAllowed, fmt.Sprintf("%s already exists", req.URI))
	}
	if len(req.Body) > 0 {
		return webdav.NewErrorResponse(http.StatusUnsupportedMediaType, "MKCOL request body not supported")
	}
	if errResp := b.checkParent(req.URI); errResp != nil {
		return errResp
	}
	t := b.now()
	b.resources[req.URI] = &resource{collection: true, created: t, modified: t, props: types.NewPropertyStorage()}
	return webdav.NewMkcolResponse()
}

// Copy 复制资源
func (b *Backend) Copy(_ context.Context, req *webdav.Request) webdav.Response {
	return b.transfer(req, false)
}

// Move 移动资源
func (b *Backend) Move(_ context.Context, req *webdav.Request) webdav.Response {
	return b.transfer(req, true)
}

func (b *Backend) transfer(req *webdav.Request, move bool) webdav.Response {
	b.mu.Lock()
	defer b.mu.Unlock()

	src, dest := req.URI, req.Destination()
	if _, ok := b.resources[src]; !ok {
		return notFound(src)
	}
	if src == dest || webdav.IsDescendant(src, dest) || webdav.IsDescendant(dest, src) {
		return webdav.NewErrorResponse(http.StatusForbidden, "destination overlaps source")
	}
	if errResp := b.checkParent(dest); errResp != nil {
		return errResp
	}
	_, existed := b.resources[dest]
	if existed {
		if !req.Overwrite() {
			return webdav.NewErrorResponse(http.StatusPreconditionFailed, fmt.Sprintf("%s exists and Overwrite is F", dest))
		}
		for _, p := range b.subtree(dest, types.DepthInfinity) {
			delete(b.resources, p)
		}
	}

	depth := req.Depth()
	if move {
		depth = types.DepthInfinity
	}
	t := b.now()
	for _, p := range b.subtree(src, depth) {
		target := dest + strings.TrimPrefix(p, src)
		r := b.resources[p].clone()
		if !move {
			r.created, r.modified = t, t
		}
		b.resources[target] = r
	}
	if move {
		for _, p := range b.subtree(src, types.DepthInfinity) {
			delete(b.resources, p)
		}
	}
	return webdav.NewCopyMoveResponse(!existed)
}
