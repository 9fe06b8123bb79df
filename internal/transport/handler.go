package transport

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/webdav-engine/internal/middleware"
	"github.com/webdav-engine/internal/types"
	"github.com/webdav-engine/internal/webdav"
	"github.com/webdav-engine/internal/webdav/validators"
)

// 请求体上限
const (
	DefaultMaxBody = 64 << 20
	maxXMLBody     = 1 << 20
)

// Methods 注册到路由的WebDAV方法
var Methods = []string{
	webdav.MethodOptions, webdav.MethodGet, webdav.MethodHead, webdav.MethodPut,
	webdav.MethodDelete, webdav.MethodMkcol, webdav.MethodCopy, webdav.MethodMove,
	webdav.MethodPropFind, webdav.MethodPropPatch, webdav.MethodLock, webdav.MethodUnlock,
}

// requestError 传输层解析错误，直接以 status 响应
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...interface{}) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

// Handler 把gin请求转换为引擎请求，并把引擎响应写回HTTP
type Handler struct {
	server    *webdav.Server
	prefix    string
	encoder   Encoder
	validator *validators.PropertyOperationValidator
	maxBody   int64
	logger    *logrus.Logger
}

// NewHandler 创建传输适配器，prefix 为挂载路径
func NewHandler(server *webdav.Server, prefix string) *Handler {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return &Handler{
		server:    server,
		prefix:    prefix,
		encoder:   Encoder{Prefix: prefix},
		validator: validators.NewPatchValidator(),
		maxBody:   DefaultMaxBody,
		logger:    server.Logger,
	}
}

// Register 在 prefix 下注册所有WebDAV方法
func (h *Handler) Register(r gin.IRouter) {
	group := r.Group(h.prefix)
	for _, method := range Methods {
		group.Handle(method, "/*path", h.ServeWebDAV)
	}
}

// ServeWebDAV 处理一个WebDAV请求
func (h *Handler) ServeWebDAV(c *gin.Context) {
	req, err := h.buildRequest(c)
	if err != nil {
		status := http.StatusBadRequest
		var re *requestError
		if errors.As(err, &re) {
			status = re.status
		}
		h.logger.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"error":  err.Error(),
		}).Debug("rejected malformed request")
		c.String(status, err.Error())
		return
	}

	// 未授权的请求交给引擎生成401
	if req.Method == webdav.MethodPropPatch &&
		h.server.IsAuthorized(c.Request.Context(), req.URI, req.AuthHeader(), webdav.AccessWrite) {
		if failed := h.validator.ValidatePatch(req.Updates); len(failed) > 0 {
			h.write(c, req, webdav.PropPatchFailure(req.URI, req.Updates, failed))
			return
		}
	}

	resp, err := h.server.Handle(c.Request.Context(), req)
	if err != nil {
		c.String(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	h.write(c, req, resp)
}

func (h *Handler) buildRequest(c *gin.Context) (*webdav.Request, error) {
	uri := c.Param("path")
	method := c.Request.Method

	limit := int64(maxXMLBody)
	if method == webdav.MethodPut {
		limit = h.maxBody
	}
	body, err := readBody(c.Request.Body, limit)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return nil, &requestError{status: http.StatusRequestEntityTooLarge, msg: err.Error()}
		}
		return nil, badRequest("read body: %v", err)
	}

	var req *webdav.Request
	switch method {
	case webdav.MethodPropFind:
		keys, allProp, err := ParsePropFind(body)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		req = webdav.NewPropFindRequest(uri, keys...)
		req.AllProp = allProp
	case webdav.MethodPropPatch:
		updates, err := ParsePropPatch(body)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		req = webdav.NewPropPatchRequest(uri, updates)
	case webdav.MethodLock:
		info, err := ParseLockInfo(body)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		req = webdav.NewLockRequest(uri, info)
	case webdav.MethodPut:
		req = webdav.NewPutRequest(uri, body)
		req.ContentType = c.GetHeader("Content-Type")
	default:
		req = webdav.NewRequest(method, uri)
		req.Body = body
	}

	if err := h.applyHeaders(c, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (h *Handler) applyHeaders(c *gin.Context, req *webdav.Request) error {
	set := func(name string, value interface{}) error {
		return req.SetHeader(name, value)
	}

	if auth := middleware.AuthHeader(c); auth != nil {
		if err := set(webdav.HeaderAuthorization, auth); err != nil {
			return err
		}
	}

	if v := c.GetHeader(webdav.HeaderDepth); v != "" {
		depth, err := types.ParseDepth(v)
		if err != nil {
			return badRequest("%v", err)
		}
		if err := set(webdav.HeaderDepth, depth); err != nil {
			return err
		}
	}

	if v := c.GetHeader(webdav.HeaderDestination); v != "" {
		dest, err := h.destinationPath(c, v)
		if err != nil {
			return err
		}
		if err := set(webdav.HeaderDestination, dest); err != nil {
			return err
		}
	}

	if v := c.GetHeader(webdav.HeaderIf); v != "" {
		ifHeader, err := webdav.ParseIfHeader(v)
		if err != nil {
			return badRequest("If: %v", err)
		}
		if err := set(webdav.HeaderIf, ifHeader); err != nil {
			return err
		}
	}

	if v := c.GetHeader(webdav.HeaderLockToken); v != "" {
		if err := set(webdav.HeaderLockToken, types.NormalizeToken(v)); err != nil {
			return err
		}
	}

	if v := c.GetHeader(webdav.HeaderOverwrite); v != "" {
		switch strings.ToUpper(strings.TrimSpace(v)) {
		case "T":
			_ = set(webdav.HeaderOverwrite, true)
		case "F":
			_ = set(webdav.HeaderOverwrite, false)
		default:
			return badRequest("Overwrite: invalid value %q", v)
		}
	}

	// 无法识别的Timeout按未指定处理
	if v := c.GetHeader(webdav.HeaderTimeout); v != "" {
		if timeout, err := webdav.ParseTimeout(v); err == nil {
			_ = set(webdav.HeaderTimeout, timeout)
		}
	}
	return nil
}

// destinationPath 把Destination头转换为挂载点内的资源路径
func (h *Handler) destinationPath(c *gin.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", badRequest("Destination: %v", err)
	}
	if u.Host != "" && u.Host != c.Request.Host {
		return "", &requestError{status: http.StatusBadGateway, msg: "Destination is on another server"}
	}

	p := u.Path
	if h.prefix != "" {
		if p != h.prefix && !strings.HasPrefix(p, h.prefix+"/") {
			return "", &requestError{status: http.StatusBadGateway, msg: "Destination is outside " + h.prefix}
		}
		p = strings.TrimPrefix(p, h.prefix)
	}
	return webdav.CleanPath(p), nil
}

func (h *Handler) write(c *gin.Context, req *webdav.Request, resp webdav.Response) {
	for name, values := range resp.Headers() {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}

	status := resp.StatusCode()
	switch r := resp.(type) {
	case *webdav.MultistatusResponse:
		h.writeXML(c, status, h.encoder.Multistatus(r.Responses))
	case *webdav.PropPatchResponse:
		h.writeXML(c, status, h.encoder.Multistatus([]*webdav.PropFindResponse{
			{Node: r.Node, PropStats: r.PropStats},
		}))
	case *webdav.LockResponse:
		h.writeXML(c, status, h.encoder.LockDiscovery(r.Discovery))
	case *webdav.GetResponse:
		h.writeContent(c, req, r)
	case *webdav.ErrorResponse:
		if r.Condition != "" {
			h.writeXML(c, status, h.encoder.Condition(r.Condition, r.Hrefs))
			return
		}
		c.String(status, r.Reason)
	case *webdav.UnauthorizedResponse:
		c.String(status, r.Reason)
	default:
		c.Status(status)
	}
}

func (h *Handler) writeXML(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/xml; charset=utf-8", body)
}

func (h *Handler) writeContent(c *gin.Context, req *webdav.Request, r *webdav.GetResponse) {
	contentType := r.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if r.Collection {
		contentType = "httpd/unix-directory"
	}
	if r.ETag != "" {
		c.Header("ETag", r.ETag)
	}
	if !r.LastModified.IsZero() {
		c.Header("Last-Modified", r.LastModified.UTC().Format(http.TimeFormat))
	}

	if req.Method == webdav.MethodHead {
		c.Header("Content-Type", contentType)
		c.Header("Content-Length", strconv.Itoa(len(r.Body)))
		c.Status(r.StatusCode())
		return
	}
	c.Data(r.StatusCode(), contentType, r.Body)
}
