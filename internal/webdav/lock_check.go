package webdav

import (
	"context"
	"net/http"

	"github.com/webdav-engine/internal/types"
)

// lockScope 一次锁检查的范围
type lockScope struct {
	path  string
	depth types.Depth
}

// checkLocks 修改类方法的前置检查
//
// 受影响资源上的每个锁都必须在If头中提交了令牌，且令牌归当前主体所有。
// 同一资源上有多个共享锁时提交其中任意一个即可。
func (p *LockPlugin) checkLocks(ctx context.Context, srv *Server, req *Request) (Response, error) {
	if req.Method == MethodPropPatch {
		if resp := rejectLockPropertyPatch(req); resp != nil {
			return resp, nil
		}
	}

	targetDepth := types.DepthZero
	if req.Method == MethodDelete || req.Method == MethodMove {
		targetDepth = types.DepthInfinity
	}
	var scopes []lockScope
	if req.Method != MethodCopy {
		// COPY 不修改源资源
		scopes = append(scopes, lockScope{path: req.URI, depth: targetDepth})
	}

	switch req.Method {
	case MethodMkcol, MethodDelete, MethodMove:
		if parent := ParentPath(req.URI); parent != "" {
			scopes = append(scopes, lockScope{path: parent})
		}
	case MethodPut:
		// 只有新建成员才修改父集合
		ms, _, err := findLockProperties(ctx, srv, req, req.URI, types.DepthZero, HeaderAuthorization)
		if err != nil {
			return nil, err
		}
		if ms == nil {
			if parent := ParentPath(req.URI); parent != "" {
				scopes = append(scopes, lockScope{path: parent})
			}
		}
	}
	if req.Method == MethodCopy || req.Method == MethodMove {
		dest := req.Destination()
		scopes = append(scopes, lockScope{path: dest, depth: types.DepthInfinity})
		if parent := ParentPath(dest); parent != "" {
			scopes = append(scopes, lockScope{path: parent})
		}
	}

	locked, err := p.unsatisfiedLocks(ctx, srv, req, scopes)
	if err != nil {
		return nil, err
	}
	if len(locked) > 0 {
		return NewConditionResponse(http.StatusLocked, ConditionLockTokenSubmitted, locked...), nil
	}
	return nil, nil
}

// unsatisfiedLocks 返回 scopes 内锁令牌未被提交或不归当前主体所有的资源
func (p *LockPlugin) unsatisfiedLocks(ctx context.Context, srv *Server, req *Request, scopes []lockScope) ([]string, error) {
	submitted := req.If()
	principal := req.Principal()
	var locked []string
	for _, scope := range scopes {
		ms, errResp, err := findLockProperties(ctx, srv, req, scope.path, scope.depth, HeaderAuthorization)
		if err != nil {
			return nil, err
		}
		if errResp != nil {
			continue
		}
		for _, res := range ms.Responses {
			_, disc := lockProperties(res)
			if disc == nil || len(disc.ActiveLocks) == 0 {
				continue
			}
			satisfied := false
			for _, l := range disc.ActiveLocks {
				if submitted.HasToken(l.Token) && p.ownsLock(ctx, srv, principal, l.Token) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				locked = append(locked, res.Node)
			}
		}
	}
	return locked, nil
}

// rejectLockPropertyPatch 客户端不能直接修改锁属性
func rejectLockPropertyPatch(req *Request) Response {
	failed := make(map[types.PropertyKey]int)
	for _, entry := range req.Updates.Entries() {
		key := types.KeyOf(entry.Property)
		if key.Namespace == types.NamespaceLock ||
			(key.Namespace == types.NamespaceDAV && key.Name == types.PropLockDiscovery) {
			failed[key] = http.StatusForbidden
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return PropPatchFailure(req.URI, req.Updates, failed)
}

// stripLockInfo 从客户端PROPFIND结果中去掉 lockinfo，无需修改时返回nil
//
// 按名查询 lockinfo 时该属性报告为404，保证每个响应至少有一个propstat。
func stripLockInfo(ms *MultistatusResponse, named bool) *MultistatusResponse {
	found := false
	for _, res := range ms.Responses {
		for _, ps := range res.PropStats {
			if ps.Status != http.StatusNotFound && ps.Storage.Contains(types.PropLockInfo, types.NamespaceLock) {
				found = true
			}
		}
	}
	if !found {
		return nil
	}

	out := NewMultistatusResponse()
	for k, v := range ms.Headers() {
		out.Headers()[k] = append([]string(nil), v...)
	}
	for _, res := range ms.Responses {
		copied := NewPropFindResponse(res.Node)
		var (
			stripped bool
			missing  *PropStatResponse
		)
		for _, ps := range res.PropStats {
			storage := ps.Storage.Clone()
			if ps.Status != http.StatusNotFound && storage.Contains(types.PropLockInfo, types.NamespaceLock) {
				storage.Remove(types.PropLockInfo, types.NamespaceLock)
				stripped = true
			}
			if storage.Count() == 0 {
				continue
			}
			group := &PropStatResponse{
				Status:      ps.Status,
				Storage:     storage,
				Description: ps.Description,
			}
			if ps.Status == http.StatusNotFound && missing == nil {
				missing = group
			}
			copied.PropStats = append(copied.PropStats, group)
		}
		if stripped && named {
			if missing == nil {
				missing = NewPropStatResponse(http.StatusNotFound)
				copied.PropStats = append(copied.PropStats, missing)
			}
			missing.Storage.Attach(types.NewPropertyName(types.NamespaceLock, types.PropLockInfo))
		}
		out.Responses = append(out.Responses, copied)
	}
	return out
}

// afterPut PUT写入锁空资源后将其转为普通资源；新建资源继承父集合的深度无限锁
func (p *LockPlugin) afterPut(ctx context.Context, srv *Server, req *Request, resp *PutResponse) error {
	if resp.Created {
		return p.inheritLocks(ctx, srv, req, ParentPath(req.URI), []string{req.URI})
	}

	ms, errResp, err := findLockProperties(ctx, srv, req, req.URI, types.DepthZero, HeaderAuthorization)
	if err != nil || errResp != nil {
		return err
	}
	for _, res := range ms.Responses {
		info, disc := cloneLockProperties(lockProperties(res))
		if info == nil || !info.Null {
			continue
		}
		info.Null = false
		changes := types.NewFlaggedPropertyStorage()
		changes.Attach(info, types.PatchSet)
		patchResp, err := patchLockProperties(ctx, srv, req, res.Node, changes)
		if err != nil {
			return err
		}
		if _, ok := patchResp.(*PropPatchResponse); !ok {
			return &InconsistencyError{Path: res.Node, Token: firstToken(disc), Message: "lock-null flag could not be cleared"}
		}
	}
	return nil
}

// inheritLocks 将 parent 上深度无限的锁应用到新出现的 nodes
func (p *LockPlugin) inheritLocks(ctx context.Context, srv *Server, req *Request, parent string, nodes []string) error {
	if parent == "" || len(nodes) == 0 {
		return nil
	}
	ms, errResp, err := findLockProperties(ctx, srv, req, parent, types.DepthZero, HeaderAuthorization)
	if err != nil || errResp != nil {
		return err
	}

	var (
		inherited []types.TokenInfo
		locks     []types.ActiveLock
	)
	for _, res := range ms.Responses {
		info, disc := lockProperties(res)
		if info == nil || disc == nil {
			continue
		}
		for _, ti := range info.TokenInfos {
			l, ok := disc.ActiveLock(ti.Token)
			if !ok || l.Depth != types.DepthInfinity {
				continue
			}
			base := ti.LockBase
			if base == "" {
				base = res.Node
			}
			inherited = append(inherited, types.TokenInfo{Token: ti.Token, LockBase: base})
			locks = append(locks, l)
		}
	}
	if len(inherited) == 0 {
		return nil
	}

	for _, node := range nodes {
		changes := types.NewFlaggedPropertyStorage()
		changes.Attach(types.NewLockInfoProperty(inherited...), types.PatchSet)
		changes.Attach(types.NewLockDiscoveryProperty(locks...), types.PatchSet)
		patchResp, err := patchLockProperties(ctx, srv, req, node, changes)
		if err != nil {
			return err
		}
		if _, ok := patchResp.(*PropPatchResponse); !ok {
			return &InconsistencyError{Path: node, Token: inherited[0].Token, Message: "inherited lock could not be applied"}
		}
	}
	return nil
}

// resetLocks COPY/MOVE不携带锁：清除目标子树上复制来的锁属性，再继承目标父集合的锁
func (p *LockPlugin) resetLocks(ctx context.Context, srv *Server, req *Request, dest string) error {
	ms, errResp, err := findLockProperties(ctx, srv, req, dest, types.DepthInfinity, HeaderAuthorization)
	if err != nil || errResp != nil {
		return err
	}

	var nodes []string
	for _, res := range ms.Responses {
		nodes = append(nodes, res.Node)
		info, disc := lockProperties(res)
		if info == nil && disc == nil {
			continue
		}
		changes := types.NewFlaggedPropertyStorage()
		if info != nil {
			changes.Attach(info.Clone(), types.PatchRemove)
		}
		if disc != nil {
			changes.Attach(disc.Clone(), types.PatchRemove)
		}
		patchResp, err := patchLockProperties(ctx, srv, req, res.Node, changes)
		if err != nil {
			return err
		}
		if _, ok := patchResp.(*PropPatchResponse); !ok {
			return &InconsistencyError{Path: res.Node, Token: firstToken(disc), Message: "copied lock properties could not be removed"}
		}
	}
	return p.inheritLocks(ctx, srv, req, ParentPath(dest), nodes)
}

func firstToken(disc *types.LockDiscoveryProperty) string {
	if disc == nil || len(disc.ActiveLocks) == 0 {
		return ""
	}
	return disc.ActiveLocks[0].Token
}
