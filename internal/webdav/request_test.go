package webdav_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-engine/internal/types"
	"github.com/webdav-engine/internal/webdav"
)

func TestRequest_DepthDefaults(t *testing.T) {
	tests := []struct {
		method   string
		expected types.Depth
	}{
		{method: webdav.MethodPropFind, expected: types.DepthInfinity},
		{method: webdav.MethodLock, expected: types.DepthInfinity},
		{method: webdav.MethodCopy, expected: types.DepthInfinity},
		{method: webdav.MethodDelete, expected: types.DepthInfinity},
		{method: webdav.MethodMove, expected: types.DepthInfinity},
		{method: webdav.MethodUnlock, expected: types.DepthZero},
		{method: webdav.MethodPut, expected: types.DepthZero},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := webdav.NewRequest(tt.method, "/x")
			if tt.method == webdav.MethodCopy || tt.method == webdav.MethodMove {
				require.NoError(t, req.SetHeader(webdav.HeaderDestination, "/y"))
			}
			require.NoError(t, req.ValidateHeaders())
			assert.Equal(t, tt.expected, req.Depth())
		})
	}
}

func TestRequest_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		build  func(t *testing.T) *webdav.Request
		header string
	}{
		{
			name: "depth one on LOCK",
			build: func(t *testing.T) *webdav.Request {
				return withHeader(t, webdav.NewRequest(webdav.MethodLock, "/x"), webdav.HeaderDepth, types.DepthOne)
			},
			header: webdav.HeaderDepth,
		},
		{
			name: "depth zero on DELETE",
			build: func(t *testing.T) *webdav.Request {
				return withHeader(t, webdav.NewDeleteRequest("/x"), webdav.HeaderDepth, types.DepthZero)
			},
			header: webdav.HeaderDepth,
		},
		{
			name: "missing destination",
			build: func(t *testing.T) *webdav.Request {
				return webdav.NewRequest(webdav.MethodMove, "/x")
			},
			header: webdav.HeaderDestination,
		},
		{
			name: "wrong value type",
			build: func(t *testing.T) *webdav.Request {
				return withHeader(t, webdav.NewRequest(webdav.MethodPut, "/x"), webdav.HeaderOverwrite, "T")
			},
			header: webdav.HeaderOverwrite,
		},
		{
			name: "empty lock token",
			build: func(t *testing.T) *webdav.Request {
				return withHeader(t, webdav.NewRequest(webdav.MethodUnlock, "/x"), webdav.HeaderLockToken, "<>")
			},
			header: webdav.HeaderLockToken,
		},
		{
			name: "unsupported header",
			build: func(t *testing.T) *webdav.Request {
				return withHeader(t, webdav.NewRequest(webdav.MethodGet, "/x"), "X-Custom", "v")
			},
			header: "X-Custom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build(t).ValidateHeaders()
			var he *webdav.HeaderError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.header, he.Header)
		})
	}
}

func TestRequest_FrozenAfterValidation(t *testing.T) {
	req := webdav.NewUnlockRequest("/x", "opaquelocktoken:t")
	require.NoError(t, req.ValidateHeaders())
	assert.True(t, req.Validated())

	err := req.SetHeader(webdav.HeaderLockToken, "opaquelocktoken:other")
	assert.ErrorIs(t, err, webdav.ErrRequestFrozen)
	assert.Equal(t, "opaquelocktoken:t", req.LockToken())
	assert.NoError(t, req.ValidateHeaders(), "validation is idempotent")
}

func TestRequest_TypedAccessors(t *testing.T) {
	req := webdav.NewRequest(webdav.MethodMove, "src/../dir/file/")
	withHeader(t, req, webdav.HeaderDestination, "/dest/")
	withHeader(t, req, webdav.HeaderOverwrite, false)
	withHeader(t, req, webdav.HeaderTimeout, time.Minute)
	withHeader(t, req, "lock-token", "opaquelocktoken:t")
	require.NoError(t, req.ValidateHeaders())

	assert.Equal(t, "/dir/file", req.URI)
	assert.Equal(t, "/dest", req.Destination())
	assert.False(t, req.Overwrite())
	assert.Equal(t, time.Minute, req.Timeout())
	assert.Equal(t, "opaquelocktoken:t", req.LockToken())
	assert.Nil(t, req.AuthHeader())
	assert.Empty(t, req.Principal())
}

func TestCloneRequestHeaders(t *testing.T) {
	from := webdav.NewUnlockRequest("/x", "opaquelocktoken:t")
	withHeader(t, from, webdav.HeaderAuthorization, user("alice"))
	withHeader(t, from, webdav.HeaderOverwrite, true)

	to := webdav.NewPropFindRequest("/x")
	require.NoError(t, webdav.CloneRequestHeaders(from, to))
	assert.True(t, to.HasHeader(webdav.HeaderAuthorization))
	assert.True(t, to.HasHeader(webdav.HeaderLockToken))
	assert.False(t, to.HasHeader(webdav.HeaderOverwrite))
	assert.False(t, to.HasHeader(webdav.HeaderIf))

	only := webdav.NewPropFindRequest("/x")
	require.NoError(t, webdav.CloneRequestHeaders(from, only, webdav.HeaderLockToken))
	assert.False(t, only.HasHeader(webdav.HeaderAuthorization))

	require.NoError(t, only.ValidateHeaders())
	assert.ErrorIs(t, webdav.CloneRequestHeaders(from, only), webdav.ErrRequestFrozen)
}

func TestServer_HeaderErrorIs400(t *testing.T) {
	e := newTestEnv(t)
	req := withHeader(t, webdav.NewDeleteRequest("/x"), webdav.HeaderDepth, types.DepthOne)

	resp, err := e.srv.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
	assert.Empty(t, e.backend.Calls())
}

func TestServer_MethodAuthorization(t *testing.T) {
	e := newTestEnv(t)
	e.backend.Reset()

	resp := e.handle(t, webdav.NewPutRequest("/file", []byte("x")))

	assert.IsType(t, &webdav.UnauthorizedResponse{}, resp)
	assert.Contains(t, resp.Headers().Get("WWW-Authenticate"), `realm="webdav"`)
	assert.Zero(t, e.backend.Count(webdav.MethodPut))
}

func TestGenerateLockToken(t *testing.T) {
	a, b := webdav.GenerateLockToken(), webdav.GenerateLockToken()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^opaquelocktoken:[0-9a-f-]{36}$`, a)
}
