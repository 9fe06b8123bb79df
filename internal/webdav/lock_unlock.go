package webdav

import (
	"context"
	"fmt"
	"net/http"

	"github.com/webdav-engine/internal/types"
)

// unlock 处理UNLOCK请求
//
// hops 为已经历的 lockBase 重定向次数。只有实际执行解锁的那次调用释放令牌归属。
func (p *LockPlugin) unlock(ctx context.Context, srv *Server, req *Request, hops int) (Response, error) {
	token := types.NormalizeToken(req.LockToken())
	if token == "" {
		return NewErrorResponse(http.StatusPreconditionFailed, "UNLOCK requires a Lock-Token header"), nil
	}

	principal := req.Principal()
	if !srv.IsAuthorized(ctx, req.URI, req.AuthHeader(), AccessWrite) || !p.ownsLock(ctx, srv, principal, token) {
		return srv.CreateUnauthorizedResponse(req.URI, "Authorization failed."), nil
	}

	// 确定锁根
	ms, errResp, err := findLockProperties(ctx, srv, req, req.URI, types.DepthZero)
	if err != nil || errResp != nil {
		return errResp, err
	}

	var (
		info *types.LockInfoProperty
		disc *types.LockDiscoveryProperty
	)
	for _, res := range ms.Responses {
		i, d := lockProperties(res)
		if info == nil {
			info = i
		}
		if disc == nil {
			disc = d
		}
	}

	if info == nil && disc == nil {
		// 已被清除
		return NewResponse(http.StatusNoContent), nil
	}
	if !consistentLockProperties(info, disc) {
		return nil, &InconsistencyError{
			Path:    req.URI,
			Token:   token,
			Message: "properties <lockinfo> and <lockdiscovery> out of sync",
		}
	}

	var (
		tokenInfo  types.TokenInfo
		activeLock types.ActiveLock
		found      bool
	)
	if info != nil {
		if tokenInfo, found = info.TokenInfo(token); found {
			activeLock, found = disc.ActiveLock(token)
		}
	}
	if !found {
		return NewResponse(http.StatusNoContent), nil
	}

	if !tokenInfo.IsLockRoot() {
		if hops >= maxLockBaseHops {
			return nil, &InconsistencyError{
				Path:    req.URI,
				Token:   token,
				Message: fmt.Sprintf("lock base %s is not a lock root", tokenInfo.LockBase),
			}
		}
		next := NewUnlockRequest(tokenInfo.LockBase, "")
		// Authorization 一并复制：锁根上重新做写权限和令牌归属检查
		if err := CloneRequestHeaders(req, next, HeaderIf, HeaderLockToken, HeaderAuthorization); err != nil {
			return nil, err
		}
		if err := next.ValidateHeaders(); err != nil {
			return nil, fmt.Errorf("derived UNLOCK on %s: %w", tokenInfo.LockBase, err)
		}
		return p.unlock(ctx, srv, next, hops+1)
	}

	resp, err := p.performUnlock(ctx, srv, req, token, activeLock.Depth)
	if err != nil {
		return nil, err
	}
	if _, ok := resp.(*UnlockResponse); ok {
		p.release(ctx, srv, req, principal, token)
	}
	return resp, nil
}

// performUnlock 在锁根上按锁深度移除令牌
//
// 不做回滚：中途失败时已修改的资源保持修改后的状态。
func (p *LockPlugin) performUnlock(ctx context.Context, srv *Server, req *Request, token string, depth types.Depth) (Response, error) {
	ms, errResp, err := findLockProperties(ctx, srv, req, req.URI, depth, HeaderAuthorization)
	if err != nil || errResp != nil {
		return errResp, err
	}

	for _, res := range ms.Responses {
		info, disc := cloneLockProperties(lockProperties(res))
		if !consistentLockProperties(info, disc) {
			return nil, &InconsistencyError{
				Path:    res.Node,
				Token:   token,
				Message: "properties <lockinfo> and <lockdiscovery> out of sync",
			}
		}
		if info == nil || !info.RemoveToken(token) {
			continue
		}
		disc.RemoveToken(token)

		changes := types.NewFlaggedPropertyStorage()
		if len(info.TokenInfos) == 0 {
			if info.Null {
				// 锁空资源随最后一个锁一起删除
				delResp, err := p.deleteLockNull(ctx, srv, req, res.Node)
				if err != nil {
					return nil, err
				}
				if _, ok := delResp.(*DeleteResponse); !ok {
					return delResp, nil
				}
				continue
			}
			changes.Attach(info, types.PatchRemove)
		} else {
			changes.Attach(info, types.PatchSet)
		}
		changes.Attach(disc, types.PatchSet)

		patchResp, err := patchLockProperties(ctx, srv, req, res.Node, changes)
		if err != nil {
			return nil, err
		}
		if _, ok := patchResp.(*PropPatchResponse); !ok {
			return nil, &InconsistencyError{
				Path:    res.Node,
				Token:   token,
				Message: fmt.Sprintf("lock properties could not be updated (status %d)", patchResp.StatusCode()),
			}
		}
	}

	return NewUnlockResponse(), nil
}

func (p *LockPlugin) deleteLockNull(ctx context.Context, srv *Server, from *Request, node string) (Response, error) {
	req := NewDeleteRequest(node)
	if err := CloneRequestHeaders(from, req, HeaderAuthorization); err != nil {
		return nil, err
	}
	if err := req.ValidateHeaders(); err != nil {
		return nil, fmt.Errorf("derived DELETE on %s: %w", node, err)
	}
	return srv.Backend.Delete(ctx, req), nil
}

func (p *LockPlugin) release(ctx context.Context, srv *Server, req *Request, principal, token string) {
	entry := logEntry(srv, req, token)
	if srv.Auth == nil {
		return
	}
	if err := srv.Auth.ReleaseLock(ctx, principal, token); err != nil {
		entry.WithError(err).Warn("failed to release lock ownership")
		return
	}
	entry.Debug("lock released")
}
