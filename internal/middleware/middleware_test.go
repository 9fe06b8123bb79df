package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-engine/internal/webdav"
)

type fakeVerifier struct {
	users map[string]string
}

func (f fakeVerifier) Verify(header string) (*webdav.AuthHeader, error) {
	if user, ok := f.users[header]; ok {
		return &webdav.AuthHeader{Scheme: "Basic", Username: user}, nil
	}
	return nil, errors.New("bad credentials")
}

func newTestRouter(buf *bytes.Buffer, handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	r := gin.New()
	r.Use(RecoveryMiddleware(logger), LoggerMiddleware(logger))
	r.Use(handlers...)
	return r
}

func TestAuthMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	verifier := fakeVerifier{users: map[string]string{"Basic good": "alice"}}
	r := newTestRouter(&buf, AuthMiddleware(verifier, "webdav", logger))
	r.GET("/who", func(c *gin.Context) {
		c.String(http.StatusOK, "[%s]", Principal(c))
	})

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{"anonymous", "", http.StatusOK, "[]"},
		{"valid", "Basic good", http.StatusOK, "[alice]"},
		{"invalid", "Basic bad", http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="webdav"`, w.Header().Get("WWW-Authenticate"))
				return
			}
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf)
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestLoggerMiddleware(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf)
	r.Handle("PROPFIND", "/x", func(c *gin.Context) {
		c.Status(http.StatusMultiStatus)
	})

	req := httptest.NewRequest("PROPFIND", "/x", nil)
	req.Header.Set("Depth", "1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusMultiStatus, w.Code)
	out := buf.String()
	assert.Contains(t, out, `"method":"PROPFIND"`)
	assert.Contains(t, out, `"depth":"1"`)
	assert.Contains(t, out, `"status":207`)
}

func TestCORSMiddleware(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRouter(&buf, CORSMiddleware())
	r.OPTIONS("/res", func(c *gin.Context) {
		c.Header("DAV", "1, 2")
		c.Status(http.StatusOK)
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/res", nil)
		req.Header.Set("Origin", "http://example.com")
		req.Header.Set("Access-Control-Request-Method", "LOCK")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "LOCK")
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Lock-Token")
		assert.Empty(t, w.Header().Get("DAV"))
	})

	t.Run("webdav options", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/res", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "1, 2", w.Header().Get("DAV"))
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})
}
