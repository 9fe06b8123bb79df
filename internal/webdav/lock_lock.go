package webdav

import (
	"context"
	"fmt"
	"net/http"

	"github.com/webdav-engine/internal/types"
)

// lock 处理LOCK请求：带请求体时创建新锁，不带请求体时按If头刷新
func (p *LockPlugin) lock(ctx context.Context, srv *Server, req *Request) (Response, error) {
	if !srv.IsAuthorized(ctx, req.URI, req.AuthHeader(), AccessWrite) {
		return srv.CreateUnauthorizedResponse(req.URI, "Authorization failed."), nil
	}
	if req.LockInfo == nil {
		return p.refresh(ctx, srv, req)
	}
	return p.createLock(ctx, srv, req)
}

func (p *LockPlugin) createLock(ctx context.Context, srv *Server, req *Request) (Response, error) {
	scope := req.LockInfo.Scope
	if scope == "" {
		scope = types.LockScopeExclusive
	}

	if conflict, err := p.findConflict(ctx, srv, req, scope); err != nil || conflict != nil {
		return conflict, err
	}

	ms, errResp, err := findLockProperties(ctx, srv, req, req.URI, req.Depth(), HeaderAuthorization)
	if err != nil {
		return nil, err
	}

	created := false
	if errResp != nil {
		if errResp.StatusCode() != http.StatusNotFound {
			return errResp, nil
		}
		// 为未映射的URI创建锁空资源，新成员修改父集合，与PUT一样需要父集合的锁令牌
		if parent := ParentPath(req.URI); parent != "" {
			locked, err := p.unsatisfiedLocks(ctx, srv, req, []lockScope{{path: parent}})
			if err != nil {
				return nil, err
			}
			if len(locked) > 0 {
				return NewConditionResponse(http.StatusLocked, ConditionLockTokenSubmitted, locked...), nil
			}
		}
		putResp, err := p.createLockNull(ctx, srv, req)
		if err != nil {
			return nil, err
		}
		if _, ok := putResp.(*PutResponse); !ok {
			return putResp, nil
		}
		created = true
		if err := p.inheritLocks(ctx, srv, req, ParentPath(req.URI), []string{req.URI}); err != nil {
			return nil, err
		}
		if ms, errResp, err = findLockProperties(ctx, srv, req, req.URI, types.DepthZero, HeaderAuthorization); err != nil || errResp != nil {
			return errResp, err
		}
	}

	token := GenerateLockToken()
	principal := req.Principal()
	if srv.Auth != nil {
		if err := srv.Auth.AssignLock(ctx, principal, token); err != nil {
			logEntry(srv, req, token).WithError(err).Error("failed to assign lock ownership")
			return NewErrorResponse(http.StatusInternalServerError, "lock ownership could not be recorded"), nil
		}
	}

	active := types.ActiveLock{
		Token:   token,
		Scope:   scope,
		Depth:   req.Depth(),
		Owner:   req.LockInfo.Owner,
		Timeout: p.timeout(req.Timeout()),
		Root:    req.URI,
	}

	var rootDiscovery *types.LockDiscoveryProperty
	for _, res := range ms.Responses {
		info, disc := cloneLockProperties(lockProperties(res))
		if !consistentLockProperties(info, disc) {
			return nil, &InconsistencyError{Path: res.Node, Token: token, Message: "properties <lockinfo> and <lockdiscovery> out of sync"}
		}
		if info == nil {
			info = types.NewLockInfoProperty()
		}
		if disc == nil {
			disc = types.NewLockDiscoveryProperty()
		}

		tokenInfo := types.TokenInfo{Token: token}
		if res.Node != req.URI {
			tokenInfo.LockBase = req.URI
		} else {
			info.Null = info.Null || created
			rootDiscovery = disc
		}
		info.TokenInfos = append(info.TokenInfos, tokenInfo)
		disc.ActiveLocks = append(disc.ActiveLocks, active)

		changes := types.NewFlaggedPropertyStorage()
		changes.Attach(info, types.PatchSet)
		changes.Attach(disc, types.PatchSet)
		patchResp, err := patchLockProperties(ctx, srv, req, res.Node, changes)
		if err != nil {
			return nil, err
		}
		if _, ok := patchResp.(*PropPatchResponse); !ok {
			return patchResp, nil
		}
	}

	logEntry(srv, req, token).WithField("depth", active.Depth.String()).Debug("lock created")
	return NewLockResponse(token, rootDiscovery, created), nil
}

func (p *LockPlugin) createLockNull(ctx context.Context, srv *Server, from *Request) (Response, error) {
	req := NewPutRequest(from.URI, nil)
	if err := CloneRequestHeaders(from, req, HeaderAuthorization); err != nil {
		return nil, err
	}
	if err := req.ValidateHeaders(); err != nil {
		return nil, fmt.Errorf("derived PUT on %s: %w", from.URI, err)
	}
	return srv.Backend.Put(ctx, req), nil
}

// findConflict 检查目标、祖先（深度无限锁）以及子树上的冲突锁
func (p *LockPlugin) findConflict(ctx context.Context, srv *Server, req *Request, scope types.LockScope) (Response, error) {
	conflicts := func(l types.ActiveLock) bool {
		return l.Scope == types.LockScopeExclusive || scope == types.LockScopeExclusive
	}

	for ancestor := ParentPath(req.URI); ancestor != ""; ancestor = ParentPath(ancestor) {
		ms, errResp, err := findLockProperties(ctx, srv, req, ancestor, types.DepthZero, HeaderAuthorization)
		if err != nil {
			return nil, err
		}
		if errResp != nil {
			continue
		}
		for _, res := range ms.Responses {
			_, disc := lockProperties(res)
			if disc == nil {
				continue
			}
			for _, l := range disc.ActiveLocks {
				if l.Depth == types.DepthInfinity && conflicts(l) {
					return NewConditionResponse(http.StatusLocked, ConditionNoConflictingLock, l.Root), nil
				}
			}
		}
	}

	ms, errResp, err := findLockProperties(ctx, srv, req, req.URI, req.Depth(), HeaderAuthorization)
	if err != nil || errResp != nil {
		// 目标不存在时没有子树冲突
		return nil, err
	}
	for _, res := range ms.Responses {
		_, disc := lockProperties(res)
		if disc == nil {
			continue
		}
		for _, l := range disc.ActiveLocks {
			if conflicts(l) {
				return NewConditionResponse(http.StatusLocked, ConditionNoConflictingLock, l.Root), nil
			}
		}
	}
	return nil, nil
}

// refresh 刷新If头中提交的锁的超时
func (p *LockPlugin) refresh(ctx context.Context, srv *Server, req *Request) (Response, error) {
	tokens := req.If().Tokens()
	if len(tokens) == 0 {
		return NewErrorResponse(http.StatusBadRequest, "lock refresh requires an If header"), nil
	}

	ms, errResp, err := findLockProperties(ctx, srv, req, req.URI, types.DepthZero, HeaderAuthorization)
	if err != nil || errResp != nil {
		return errResp, err
	}

	var (
		token     string
		tokenInfo types.TokenInfo
	)
	for _, res := range ms.Responses {
		info, _ := lockProperties(res)
		if info == nil {
			continue
		}
		for _, t := range tokens {
			if ti, ok := info.TokenInfo(t); ok {
				token, tokenInfo = ti.Token, ti
				break
			}
		}
	}
	if token == "" {
		return NewConditionResponse(http.StatusPreconditionFailed, ConditionLockTokenMatches, req.URI), nil
	}
	if !p.ownsLock(ctx, srv, req.Principal(), token) {
		return srv.CreateUnauthorizedResponse(req.URI, "Authorization failed."), nil
	}

	root := req.URI
	if !tokenInfo.IsLockRoot() {
		root = tokenInfo.LockBase
	}
	rootMS, errResp, err := findLockProperties(ctx, srv, req, root, types.DepthZero, HeaderAuthorization)
	if err != nil || errResp != nil {
		return errResp, err
	}
	var depth types.Depth
	for _, res := range rootMS.Responses {
		if _, disc := lockProperties(res); disc != nil {
			if l, ok := disc.ActiveLock(token); ok {
				depth = l.Depth
			}
		}
	}

	subtree, errResp, err := findLockProperties(ctx, srv, req, root, depth, HeaderAuthorization)
	if err != nil || errResp != nil {
		return errResp, err
	}

	timeout := p.timeout(req.Timeout())
	var rootDiscovery *types.LockDiscoveryProperty
	for _, res := range subtree.Responses {
		_, disc := cloneLockProperties(lockProperties(res))
		if disc == nil {
			continue
		}
		touched := false
		for i := range disc.ActiveLocks {
			if types.SameToken(disc.ActiveLocks[i].Token, token) {
				disc.ActiveLocks[i].Timeout = timeout
				touched = true
			}
		}
		if !touched {
			continue
		}
		if res.Node == CleanPath(req.URI) {
			rootDiscovery = disc
		}

		changes := types.NewFlaggedPropertyStorage()
		changes.Attach(disc, types.PatchSet)
		patchResp, err := patchLockProperties(ctx, srv, req, res.Node, changes)
		if err != nil {
			return nil, err
		}
		if _, ok := patchResp.(*PropPatchResponse); !ok {
			return nil, &InconsistencyError{Path: res.Node, Token: token, Message: "lock timeout could not be refreshed"}
		}
	}

	logEntry(srv, req, token).Debug("lock refreshed")
	return NewLockResponse("", rootDiscovery, false), nil
}
