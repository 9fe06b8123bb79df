package webdav

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options 服务器选项
type Options struct {
	// Realm 401响应中 WWW-Authenticate 的 realm
	Realm string
}

// Server 引擎入口
//
// 在进程启动时构造一次，并显式传递给插件钩子。
type Server struct {
	Backend Backend
	Auth    Authorizer
	Plugins *PluginRegistry
	Logger  *logrus.Logger
	Options Options
}

// NewServer 创建服务器
func NewServer(backend Backend, auth Authorizer, plugins *PluginRegistry, logger *logrus.Logger) *Server {
	if plugins == nil {
		plugins = &PluginRegistry{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		Backend: backend,
		Auth:    auth,
		Plugins: plugins,
		Logger:  logger,
		Options: Options{Realm: "webdav"},
	}
}

// Handle 处理一个请求
//
// 返回的 error 只表示致命故障（如 *InconsistencyError），传输层应以500响应。
func (s *Server) Handle(ctx context.Context, req *Request) (Response, error) {
	if err := req.ValidateHeaders(); err != nil {
		var he *HeaderError
		if errors.As(err, &he) {
			return NewErrorResponse(http.StatusBadRequest, he.Error()), nil
		}
		return nil, err
	}

	resp, err := s.Plugins.receivedRequest(ctx, s, req)
	if err != nil {
		return nil, s.fault(req, err)
	}
	if resp == nil {
		resp = s.dispatch(ctx, req)
	}

	resp, err = s.Plugins.generatedResponse(ctx, s, req, resp)
	if err != nil {
		return nil, s.fault(req, err)
	}
	return resp, nil
}

func (s *Server) fault(req *Request, err error) error {
	entry := s.Logger.WithFields(logrus.Fields{
		"method": req.Method,
		"path":   req.URI,
		"error":  err.Error(),
	})
	if IsInconsistency(err) {
		entry.Error("lock property inconsistency")
	} else {
		entry.Error("request processing failed")
	}
	return err
}

// dispatch 方法级授权后分发到后端
func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	if req.Method == MethodOptions {
		return s.options()
	}

	level := AccessWrite
	switch req.Method {
	case MethodGet, MethodHead, MethodPropFind:
		level = AccessRead
	}
	if !s.IsAuthorized(ctx, req.URI, req.AuthHeader(), level) {
		return s.CreateUnauthorizedResponse(req.URI, fmt.Sprintf("%s access denied", level))
	}
	if req.Method == MethodCopy || req.Method == MethodMove {
		if !s.IsAuthorized(ctx, req.Destination(), req.AuthHeader(), AccessWrite) {
			return s.CreateUnauthorizedResponse(req.Destination(), "write access to destination denied")
		}
	}

	switch req.Method {
	case MethodGet, MethodHead:
		return s.Backend.Get(ctx, req)
	case MethodPut:
		return s.Backend.Put(ctx, req)
	case MethodDelete:
		return s.Backend.Delete(ctx, req)
	case MethodMkcol:
		return s.Backend.MakeCollection(ctx, req)
	case MethodCopy:
		return s.Backend.Copy(ctx, req)
	case MethodMove:
		return s.Backend.Move(ctx, req)
	case MethodPropFind:
		return s.Backend.PropFind(ctx, req)
	case MethodPropPatch:
		return s.Backend.PropPatch(ctx, req)
	}

	// LOCK/UNLOCK 只由锁插件处理
	resp := NewErrorResponse(http.StatusMethodNotAllowed, req.Method+" not supported")
	resp.Headers().Set("Allow", strings.Join(s.allowedMethods(), ", "))
	return resp
}

// IsAuthorized 未配置授权服务时放行
func (s *Server) IsAuthorized(ctx context.Context, uri string, auth *AuthHeader, level AccessLevel) bool {
	if s.Auth == nil {
		return true
	}
	return s.Auth.IsAuthorized(ctx, uri, auth, level)
}

// CreateUnauthorizedResponse 创建授权失败响应
func (s *Server) CreateUnauthorizedResponse(uri, reason string) *UnauthorizedResponse {
	resp := &UnauthorizedResponse{BasicResponse: *NewResponse(http.StatusUnauthorized), Reason: reason}
	resp.Headers().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", s.Options.Realm))
	s.Logger.WithFields(logrus.Fields{"path": uri, "reason": reason}).Debug("unauthorized")
	return resp
}

func (s *Server) allowedMethods() []string {
	methods := []string{
		MethodOptions, MethodGet, MethodHead, MethodPut, MethodDelete, MethodMkcol,
		MethodCopy, MethodMove, MethodPropFind, MethodPropPatch,
	}
	if _, ok := s.Plugins.Lookup(LockPluginName); ok {
		methods = append(methods, MethodLock, MethodUnlock)
	}
	return methods
}

func (s *Server) options() *OptionsResponse {
	resp := &OptionsResponse{BasicResponse: *NewResponse(http.StatusOK), Allow: s.allowedMethods()}
	dav := "1"
	if _, ok := s.Plugins.Lookup(LockPluginName); ok {
		dav = "1, 2"
	}
	resp.Headers().Set("DAV", dav)
	resp.Headers().Set("Allow", strings.Join(resp.Allow, ", "))
	resp.Headers().Set("MS-Author-Via", "DAV")
	return resp
}
