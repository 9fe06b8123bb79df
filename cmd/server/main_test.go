package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-engine/internal/auth"
	"github.com/webdav-engine/internal/config"
	"github.com/webdav-engine/internal/models"
)

func testConfig(t *testing.T) *config.Config {
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)

	return &config.Config{
		Server:   config.ServerConfig{Mode: "test", Prefix: "/dav", Realm: "webdav"},
		Logging:  config.LoggingConfig{Level: "error", Format: "text"},
		Database: config.DatabaseConfig{Type: "memory"},
		Storage:  config.StorageConfig{Type: "database"},
		Auth: config.AuthConfig{
			JWTSecret: "test-secret",
			Users:     map[string]string{"alice": hash},
			CacheSize: 16,
		},
		Locks: config.LocksConfig{Registry: "memory", DefaultTimeout: time.Hour, MaxTimeout: 24 * time.Hour},
	}
}

func TestBuildApp_Memory(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	router := a.router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var health models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Backend)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/token",
		strings.NewReader(`{"username":"alice","password":"secret","expires_in":60}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var token models.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &token))
	assert.Equal(t, "Bearer", token.TokenType)
	assert.NotEmpty(t, token.Token)

	// 用令牌访问WebDAV挂载点
	req := httptest.NewRequest("MKCOL", "/dav/docs", nil)
	req.Header.Set("Authorization", "Bearer "+token.Token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("MKCOL", "/dav/other", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)

	tests := []struct {
		name   string
		secret string
		body   string
		want   int
	}{
		{"issued", "s", `{"username":"alice","password":"secret"}`, http.StatusOK},
		{"wrong password", "s", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized},
		{"missing password", "s", `{"username":"alice"}`, http.StatusBadRequest},
		{"no secret", "", `{"username":"alice","password":"secret"}`, http.StatusNotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.POST("/token", handleToken(auth.NewVerifier(map[string]string{"alice": hash}, tt.secret, 4)))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(tt.body)))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
