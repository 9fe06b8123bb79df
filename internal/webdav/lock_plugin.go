package webdav

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/webdav-engine/internal/types"
)

// LockPluginName 锁插件名称
const LockPluginName = "lock"

// maxLockBaseHops lockBase 重定向的最大跳数，锁根自身的 lockBase 必为空
const maxLockBaseHops = 1

// lockPropertyKeys 锁插件在后端读写的两个属性
var lockPropertyKeys = []types.PropertyKey{
	{Namespace: types.NamespaceLock, Name: types.PropLockInfo},
	{Namespace: types.NamespaceDAV, Name: types.PropLockDiscovery},
}

// LockOptions 锁插件选项
type LockOptions struct {
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

// LockPlugin 实现 LOCK/UNLOCK 以及修改类方法的锁检查
type LockPlugin struct {
	opts LockOptions
}

// NewLockPlugin 创建锁插件
func NewLockPlugin(opts LockOptions) *LockPlugin {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultLockTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = 24 * time.Hour
	}
	return &LockPlugin{opts: opts}
}

func (p *LockPlugin) Name() string { return LockPluginName }

// ReceivedRequest 处理 LOCK/UNLOCK，并对修改类方法执行锁检查
func (p *LockPlugin) ReceivedRequest(ctx context.Context, srv *Server, req *Request) (HookResult, error) {
	var (
		resp Response
		err  error
	)
	switch req.Method {
	case MethodUnlock:
		resp, err = p.unlock(ctx, srv, req, 0)
	case MethodLock:
		resp, err = p.lock(ctx, srv, req)
	case MethodPut, MethodMkcol, MethodDelete, MethodPropPatch, MethodMove, MethodCopy:
		resp, err = p.checkLocks(ctx, srv, req)
	}
	if err != nil {
		return Continue(), err
	}
	if resp != nil {
		return Respond(resp), nil
	}
	return Continue(), nil
}

// GeneratedResponse 隐藏 lockinfo，并维护新建、复制资源上的锁属性
func (p *LockPlugin) GeneratedResponse(ctx context.Context, srv *Server, req *Request, resp Response) (HookResult, error) {
	var err error
	switch r := resp.(type) {
	case *MultistatusResponse:
		if req.Method == MethodPropFind {
			if stripped := stripLockInfo(r, !req.AllProp); stripped != nil {
				return Respond(stripped), nil
			}
		}
	case *PutResponse:
		err = p.afterPut(ctx, srv, req, r)
	case *MkcolResponse:
		err = p.inheritLocks(ctx, srv, req, ParentPath(req.URI), []string{req.URI})
	case *CopyMoveResponse:
		err = p.resetLocks(ctx, srv, req, req.Destination())
	}
	return Continue(), err
}

// ========================================
// 共享辅助函数
// ========================================

// findLockProperties 以派生PROPFIND读取 uri 在 depth 范围内的锁属性
//
// 后端未返回多状态时，第二个返回值为需要原样传播的响应。
// headers 为从 from 复制的请求头，为空时使用 DefaultClonedHeaders。
func findLockProperties(ctx context.Context, srv *Server, from *Request, uri string, depth types.Depth, headers ...string) (*MultistatusResponse, Response, error) {
	req := NewPropFindRequest(uri, lockPropertyKeys...)
	if from != nil {
		if err := CloneRequestHeaders(from, req, headers...); err != nil {
			return nil, nil, err
		}
	}
	if err := req.SetHeader(HeaderDepth, depth); err != nil {
		return nil, nil, err
	}
	if err := req.ValidateHeaders(); err != nil {
		return nil, nil, fmt.Errorf("derived PROPFIND on %s: %w", uri, err)
	}

	resp := srv.Backend.PropFind(ctx, req)
	ms, ok := resp.(*MultistatusResponse)
	if !ok {
		return nil, resp, nil
	}
	return ms, nil, nil
}

// lockProperties 从200分组中取出两个锁属性，不存在时为nil
func lockProperties(res *PropFindResponse) (*types.LockInfoProperty, *types.LockDiscoveryProperty) {
	var (
		info *types.LockInfoProperty
		disc *types.LockDiscoveryProperty
	)
	for _, ps := range res.PropStats {
		if ps.Status != http.StatusOK {
			continue
		}
		if p, ok := ps.Storage.Get(types.PropLockInfo, types.NamespaceLock); ok && info == nil {
			info, _ = p.(*types.LockInfoProperty)
		}
		if p, ok := ps.Storage.Get(types.PropLockDiscovery, types.NamespaceDAV); ok && disc == nil {
			disc, _ = p.(*types.LockDiscoveryProperty)
		}
	}
	return info, disc
}

// consistentLockProperties 两个属性的令牌集合必须相等
//
// 缺失的 lockinfo 视为空集合；lockdiscovery 在锁全部释放后保留为空列表。
// lockinfo 存在而 lockdiscovery 缺失总是不一致的。
func consistentLockProperties(info *types.LockInfoProperty, disc *types.LockDiscoveryProperty) bool {
	if info != nil && disc == nil {
		return false
	}
	var infoTokens, discTokens []string
	if info != nil {
		infoTokens = info.Tokens()
	}
	if disc != nil {
		discTokens = disc.Tokens()
	}
	if len(infoTokens) != len(discTokens) {
		return false
	}
	for _, t := range infoTokens {
		if _, ok := disc.ActiveLock(t); !ok {
			return false
		}
	}
	return true
}

// cloneLockProperties 返回可安全修改的副本
func cloneLockProperties(info *types.LockInfoProperty, disc *types.LockDiscoveryProperty) (*types.LockInfoProperty, *types.LockDiscoveryProperty) {
	if info != nil {
		info = info.Clone().(*types.LockInfoProperty)
	}
	if disc != nil {
		disc = disc.Clone().(*types.LockDiscoveryProperty)
	}
	return info, disc
}

// patchLockProperties 对单个资源提交锁属性差异
func patchLockProperties(ctx context.Context, srv *Server, from *Request, node string, changes *types.FlaggedPropertyStorage) (Response, error) {
	req := NewPropPatchRequest(node, changes)
	if from != nil {
		if err := CloneRequestHeaders(from, req, HeaderAuthorization); err != nil {
			return nil, err
		}
	}
	if err := req.ValidateHeaders(); err != nil {
		return nil, fmt.Errorf("derived PROPPATCH on %s: %w", node, err)
	}
	return srv.Backend.PropPatch(ctx, req), nil
}

func (p *LockPlugin) ownsLock(ctx context.Context, srv *Server, principal, token string) bool {
	if srv.Auth == nil {
		return true
	}
	return srv.Auth.OwnsLock(ctx, principal, token)
}

func (p *LockPlugin) timeout(requested time.Duration) time.Duration {
	switch {
	case requested == 0:
		return p.opts.DefaultTimeout
	case requested < 0, requested > p.opts.MaxTimeout:
		return p.opts.MaxTimeout
	}
	return requested
}

func logEntry(srv *Server, req *Request, token string) *logrus.Entry {
	return srv.Logger.WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.URI,
		"token":  token,
	})
}
