package webdav

import (
	"context"
	"fmt"
	"sync"
)

// HookResult 插件钩子的结果
//
// 通过 Continue() 或 Respond(r) 构造，零值等价于 Continue()。
type HookResult struct {
	response Response
}

// Continue 不替换响应，继续分发
func Continue() HookResult {
	return HookResult{}
}

// Respond 以 r 作为响应（ReceivedRequest 中短路后端，GeneratedResponse 中替换响应）
func Respond(r Response) HookResult {
	return HookResult{response: r}
}

// Handled 是否给出了响应
func (h HookResult) Handled() bool {
	return h.response != nil
}

// Response 钩子给出的响应
func (h HookResult) Response() Response {
	return h.response
}

// Plugin 请求处理插件
type Plugin interface {
	Name() string
	ReceivedRequest(ctx context.Context, srv *Server, req *Request) (HookResult, error)
	GeneratedResponse(ctx context.Context, srv *Server, req *Request, resp Response) (HookResult, error)
}

// PluginRegistry 按注册顺序保存插件
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins []Plugin
}

// NewPluginRegistry 创建插件注册表
func NewPluginRegistry(plugins ...Plugin) (*PluginRegistry, error) {
	r := &PluginRegistry{}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册插件
func (r *PluginRegistry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%s: %w", p.Name(), ErrDuplicatePlugin)
		}
	}
	r.plugins = append(r.plugins, p)
	return nil
}

// Unregister 注销插件
func (r *PluginRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.plugins {
		if p.Name() == name {
			r.plugins = append(r.plugins[:i], r.plugins[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s: %w", name, ErrUnknownPlugin)
}

// Plugins 已注册插件的快照
func (r *PluginRegistry) Plugins() []Plugin {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Plugin(nil), r.plugins...)
}

// Lookup 按名称查找插件
func (r *PluginRegistry) Lookup(name string) (Plugin, bool) {
	for _, p := range r.Plugins() {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// receivedRequest 按注册顺序调用前置钩子，第一个给出响应的插件短路分发
func (r *PluginRegistry) receivedRequest(ctx context.Context, srv *Server, req *Request) (Response, error) {
	for _, p := range r.Plugins() {
		res, err := p.ReceivedRequest(ctx, srv, req)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		if res.Handled() {
			return res.Response(), nil
		}
	}
	return nil, nil
}

// generatedResponse 按注册顺序调用后置钩子，每个插件看到前一个插件替换后的响应
func (r *PluginRegistry) generatedResponse(ctx context.Context, srv *Server, req *Request, resp Response) (Response, error) {
	for _, p := range r.Plugins() {
		res, err := p.GeneratedResponse(ctx, srv, req, resp)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		if res.Handled() {
			resp = res.Response()
		}
	}
	return resp, nil
}
