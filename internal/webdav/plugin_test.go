package webdav_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-engine/internal/backend/memory"
	"github.com/webdav-engine/internal/webdav"
)

// stubPlugin 记录钩子调用顺序
type stubPlugin struct {
	name     string
	log      *[]string
	pre      webdav.Response
	post     webdav.Response
	preErr   error
	lastSeen webdav.Response
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) ReceivedRequest(_ context.Context, _ *webdav.Server, _ *webdav.Request) (webdav.HookResult, error) {
	*p.log = append(*p.log, p.name+":pre")
	if p.preErr != nil {
		return webdav.Continue(), p.preErr
	}
	if p.pre != nil {
		return webdav.Respond(p.pre), nil
	}
	return webdav.Continue(), nil
}

func (p *stubPlugin) GeneratedResponse(_ context.Context, _ *webdav.Server, _ *webdav.Request, resp webdav.Response) (webdav.HookResult, error) {
	*p.log = append(*p.log, p.name+":post")
	p.lastSeen = resp
	if p.post != nil {
		return webdav.Respond(p.post), nil
	}
	return webdav.Continue(), nil
}

func newPipelineServer(t *testing.T, plugins ...webdav.Plugin) (*webdav.Server, *recordingBackend) {
	t.Helper()
	registry, err := webdav.NewPluginRegistry(plugins...)
	require.NoError(t, err)
	backend := &recordingBackend{Backend: memory.New()}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return webdav.NewServer(backend, nil, registry, logger), backend
}

func TestPipeline_RegistrationOrder(t *testing.T) {
	var log []string
	first := &stubPlugin{name: "first", log: &log}
	second := &stubPlugin{name: "second", log: &log}
	srv, backend := newPipelineServer(t, first, second)

	resp, err := srv.Handle(context.Background(), webdav.NewPropFindRequest("/"))
	require.NoError(t, err)

	assert.Equal(t, []string{"first:pre", "second:pre", "first:post", "second:post"}, log)
	assert.IsType(t, &webdav.MultistatusResponse{}, resp)
	assert.Equal(t, 1, backend.Count(webdav.MethodPropFind))
}

func TestPipeline_ShortCircuit(t *testing.T) {
	var log []string
	short := webdav.NewErrorResponse(http.StatusForbidden, "stop")
	first := &stubPlugin{name: "first", log: &log, pre: short}
	second := &stubPlugin{name: "second", log: &log}
	srv, backend := newPipelineServer(t, first, second)

	resp, err := srv.Handle(context.Background(), webdav.NewPropFindRequest("/"))
	require.NoError(t, err)

	assert.Same(t, short, resp)
	assert.Empty(t, backend.Calls())
	assert.Equal(t, []string{"first:pre", "first:post", "second:post"}, log)
	assert.Same(t, short, second.lastSeen)
}

func TestPipeline_ReplacementVisibleToLaterPlugins(t *testing.T) {
	var log []string
	replacement := webdav.NewResponse(http.StatusTeapot)
	first := &stubPlugin{name: "first", log: &log, post: replacement}
	second := &stubPlugin{name: "second", log: &log}
	srv, _ := newPipelineServer(t, first, second)

	resp, err := srv.Handle(context.Background(), webdav.NewPropFindRequest("/"))
	require.NoError(t, err)

	assert.Same(t, replacement, resp)
	assert.Same(t, replacement, second.lastSeen)
	assert.IsType(t, &webdav.MultistatusResponse{}, first.lastSeen)
}

func TestPipeline_HookErrorIsFatal(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	first := &stubPlugin{name: "first", log: &log, preErr: boom}
	second := &stubPlugin{name: "second", log: &log}
	srv, backend := newPipelineServer(t, first, second)

	resp, err := srv.Handle(context.Background(), webdav.NewPropFindRequest("/"))

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, backend.Calls())
	assert.Equal(t, []string{"first:pre"}, log)
}

func TestPluginRegistry(t *testing.T) {
	var log []string
	registry, err := webdav.NewPluginRegistry(&stubPlugin{name: "a", log: &log})
	require.NoError(t, err)

	err = registry.Register(&stubPlugin{name: "a", log: &log})
	assert.ErrorIs(t, err, webdav.ErrDuplicatePlugin)

	require.NoError(t, registry.Register(&stubPlugin{name: "b", log: &log}))
	_, ok := registry.Lookup("b")
	assert.True(t, ok)

	require.NoError(t, registry.Unregister("a"))
	assert.ErrorIs(t, registry.Unregister("a"), webdav.ErrUnknownPlugin)
	assert.Len(t, registry.Plugins(), 1)
}

func TestHookResult(t *testing.T) {
	assert.False(t, webdav.Continue().Handled())
	assert.False(t, webdav.HookResult{}.Handled())

	resp := webdav.NewResponse(http.StatusOK)
	res := webdav.Respond(resp)
	assert.True(t, res.Handled())
	assert.Same(t, resp, res.Response())
}
