package webdav_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/webdav-engine/internal/backend/memory"
	"github.com/webdav-engine/internal/types"
	"github.com/webdav-engine/internal/webdav"
)

// ========================================
// 测试替身
// ========================================

// fakeAuth 记录锁归属与释放调用
type fakeAuth struct {
	mu        sync.Mutex
	denyWrite bool
	owners    map[string]string
	released  []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{owners: make(map[string]string)}
}

func (a *fakeAuth) IsAuthorized(_ context.Context, _ string, auth *webdav.AuthHeader, level webdav.AccessLevel) bool {
	if level == webdav.AccessWrite && a.denyWrite {
		return false
	}
	return auth != nil
}

func (a *fakeAuth) OwnsLock(_ context.Context, principal, token string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.owners[types.NormalizeToken(token)]
	return ok && owner == principal
}

func (a *fakeAuth) AssignLock(_ context.Context, principal, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.owners[types.NormalizeToken(token)] = principal
	return nil
}

func (a *fakeAuth) ReleaseLock(_ context.Context, principal, token string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.owners, token)
	a.released = append(a.released, principal+" "+token)
	return nil
}

func (a *fakeAuth) releases() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.released...)
}

// recordingBackend 记录后端调用，可注入失败响应
type recordingBackend struct {
	*memory.Backend

	mu               sync.Mutex
	calls            []string
	propPatchFailure webdav.Response
	deleteFailure    webdav.Response
}

func (b *recordingBackend) record(req *webdav.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	call := req.Method + " " + req.URI
	if req.Method == webdav.MethodPropFind {
		call += " " + req.Depth().String()
	}
	b.calls = append(b.calls, call)
}

func (b *recordingBackend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *recordingBackend) Count(method string) int {
	n := 0
	for _, c := range b.Calls() {
		if len(c) > len(method) && c[:len(method)+1] == method+" " {
			n++
		}
	}
	return n
}

func (b *recordingBackend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

func (b *recordingBackend) PropFind(ctx context.Context, req *webdav.Request) webdav.Response {
	b.record(req)
	return b.Backend.PropFind(ctx, req)
}

func (b *recordingBackend) PropPatch(ctx context.Context, req *webdav.Request) webdav.Response {
	b.record(req)
	if b.propPatchFailure != nil {
		return b.propPatchFailure
	}
	return b.Backend.PropPatch(ctx, req)
}

func (b *recordingBackend) Delete(ctx context.Context, req *webdav.Request) webdav.Response {
	b.record(req)
	if b.deleteFailure != nil {
		return b.deleteFailure
	}
	return b.Backend.Delete(ctx, req)
}

func (b *recordingBackend) Put(ctx context.Context, req *webdav.Request) webdav.Response {
	b.record(req)
	return b.Backend.Put(ctx, req)
}

func (b *recordingBackend) MakeCollection(ctx context.Context, req *webdav.Request) webdav.Response {
	b.record(req)
	return b.Backend.MakeCollection(ctx, req)
}

// ========================================
// 辅助函数
// ========================================

type testEnv struct {
	srv     *webdav.Server
	backend *recordingBackend
	auth    *fakeAuth
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := &recordingBackend{Backend: memory.New()}
	auth := newFakeAuth()
	plugins, err := webdav.NewPluginRegistry(webdav.NewLockPlugin(webdav.LockOptions{}))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &testEnv{
		srv:     webdav.NewServer(backend, auth, plugins, logger),
		backend: backend,
		auth:    auth,
	}
}

func user(name string) *webdav.AuthHeader {
	return &webdav.AuthHeader{Scheme: "Basic", Username: name}
}

func withHeader(t *testing.T, req *webdav.Request, name string, value interface{}) *webdav.Request {
	t.Helper()
	require.NoError(t, req.SetHeader(name, value))
	return req
}

func ifToken(t *testing.T, token string) *webdav.IfHeader {
	t.Helper()
	h, err := webdav.ParseIfHeader(fmt.Sprintf("(<%s>)", token))
	require.NoError(t, err)
	return h
}

func (e *testEnv) handle(t *testing.T, req *webdav.Request) webdav.Response {
	t.Helper()
	resp, err := e.srv.Handle(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func (e *testEnv) mkcol(t *testing.T, uri string) {
	t.Helper()
	req := withHeader(t, webdav.NewRequest(webdav.MethodMkcol, uri), webdav.HeaderAuthorization, user("alice"))
	_, ok := e.handle(t, req).(*webdav.MkcolResponse)
	require.True(t, ok, "MKCOL %s", uri)
}

func (e *testEnv) put(t *testing.T, uri string, body string) {
	t.Helper()
	req := withHeader(t, webdav.NewPutRequest(uri, []byte(body)), webdav.HeaderAuthorization, user("alice"))
	_, ok := e.handle(t, req).(*webdav.PutResponse)
	require.True(t, ok, "PUT %s", uri)
}

func (e *testEnv) lock(t *testing.T, uri string, depth types.Depth, scope types.LockScope) *webdav.LockResponse {
	t.Helper()
	req := webdav.NewLockRequest(uri, &webdav.LockRequestInfo{Scope: scope, Owner: "alice"})
	withHeader(t, req, webdav.HeaderAuthorization, user("alice"))
	withHeader(t, req, webdav.HeaderDepth, depth)
	resp, ok := e.handle(t, req).(*webdav.LockResponse)
	require.True(t, ok, "LOCK %s", uri)
	return resp
}

func unlockRequest(t *testing.T, uri, token, principal string) *webdav.Request {
	t.Helper()
	req := webdav.NewUnlockRequest(uri, token)
	if principal != "" {
		withHeader(t, req, webdav.HeaderAuthorization, user(principal))
	}
	return req
}

// lockProps 直接从后端读取锁属性
func (e *testEnv) lockProps(t *testing.T, uri string) (*types.LockInfoProperty, *types.LockDiscoveryProperty) {
	t.Helper()
	props, ok := e.backend.Properties(uri)
	require.True(t, ok, "%s exists", uri)
	var (
		info *types.LockInfoProperty
		disc *types.LockDiscoveryProperty
	)
	if p, ok := props.Get(types.PropLockInfo, types.NamespaceLock); ok {
		info = p.(*types.LockInfoProperty)
	}
	if p, ok := props.Get(types.PropLockDiscovery, types.NamespaceDAV); ok {
		disc = p.(*types.LockDiscoveryProperty)
	}
	return info, disc
}

// seed 绕过引擎直接写入属性，用于构造异常数据
func (e *testEnv) seed(t *testing.T, uri string, props ...types.Property) {
	t.Helper()
	updates := types.NewFlaggedPropertyStorage()
	for _, p := range props {
		updates.Attach(p, types.PatchSet)
	}
	req := webdav.NewPropPatchRequest(uri, updates)
	require.NoError(t, req.ValidateHeaders())
	_, ok := e.backend.Backend.PropPatch(context.Background(), req).(*webdav.PropPatchResponse)
	require.True(t, ok, "seed %s", uri)
}
