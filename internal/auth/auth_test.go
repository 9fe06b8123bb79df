package auth

import (
	"context"
	"encoding/base64"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-engine/internal/webdav"
)

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	policy, err := DefaultPolicy(ctx)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input PolicyInput
		want  bool
	}{
		{"authenticated read", PolicyInput{Principal: "alice", Path: "/docs/a", Access: "read"}, true},
		{"authenticated write", PolicyInput{Principal: "alice", Path: "/docs/a", Access: "write"}, true},
		{"own home write", PolicyInput{Principal: "alice", Path: "/home/alice/a", Access: "write"}, true},
		{"foreign home write", PolicyInput{Principal: "alice", Path: "/home/bob/a", Access: "write"}, false},
		{"foreign home read", PolicyInput{Principal: "alice", Path: "/home/bob/a", Access: "read"}, true},
		{"home root write", PolicyInput{Principal: "alice", Path: "/home", Access: "write"}, true},
		{"anonymous read denied", PolicyInput{Path: "/docs", Access: "read"}, false},
		{"anonymous read allowed", PolicyInput{Path: "/docs", Access: "read", Anonymous: true}, true},
		{"anonymous write", PolicyInput{Path: "/docs", Access: "write", Anonymous: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Allow(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewPolicy_Invalid(t *testing.T) {
	_, err := NewPolicy(context.Background(), "package webdav.authz\nallow {")
	assert.Error(t, err)
}

func TestNewPolicy_NonBooleanDecision(t *testing.T) {
	ctx := context.Background()
	policy, err := NewPolicy(ctx, "package webdav.authz\nallow = \"yes\"")
	require.NoError(t, err)

	_, err = policy.Allow(ctx, PolicyInput{Principal: "alice", Access: "read"})
	assert.Error(t, err)
}

func TestLoadPolicy(t *testing.T) {
	ctx := context.Background()

	policy, err := LoadPolicy(ctx, "")
	require.NoError(t, err)
	assert.NotNil(t, policy)

	path := t.TempDir() + "/open.rego"
	require.NoError(t, os.WriteFile(path, []byte("package webdav.authz\nallow = true"), 0o600))
	policy, err = LoadPolicy(ctx, path)
	require.NoError(t, err)
	ok, err := policy.Allow(ctx, PolicyInput{Access: "write"})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = LoadPolicy(ctx, t.TempDir()+"/missing.rego")
	assert.Error(t, err)
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRegistry()

	require.NoError(t, r.Assign(ctx, "alice", "t1"))
	require.NoError(t, r.Assign(ctx, "alice", "t1"))
	assert.ErrorIs(t, r.Assign(ctx, "bob", "t1"), ErrTokenAssigned)

	owned, err := r.Owns(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.True(t, owned)
	owned, err = r.Owns(ctx, "bob", "t1")
	require.NoError(t, err)
	assert.False(t, owned)

	assert.ErrorIs(t, r.Release(ctx, "bob", "t1"), ErrNotOwner)
	require.NoError(t, r.Release(ctx, "alice", "t1"))
	assert.ErrorIs(t, r.Release(ctx, "alice", "t1"), ErrNotOwner)
}

func TestRedisRegistry(t *testing.T) {
	addr := os.Getenv("DAV_TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("DAV_TEST_REDIS_ADDRESS not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(ctx).Err())

	r := NewRedisRegistry(client, "webdav:test:"+uuid.NewString()+":", time.Minute)

	require.NoError(t, r.Assign(ctx, "alice", "t1"))
	require.NoError(t, r.Assign(ctx, "alice", "t1"))
	assert.ErrorIs(t, r.Assign(ctx, "bob", "t1"), ErrTokenAssigned)

	owned, err := r.Owns(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.True(t, owned)

	assert.ErrorIs(t, r.Release(ctx, "bob", "t1"), ErrNotOwner)
	require.NoError(t, r.Release(ctx, "alice", "t1"))

	owned, err = r.Owns(ctx, "alice", "t1")
	require.NoError(t, err)
	assert.False(t, owned)
}

func TestVerifier_Basic(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	v := NewVerifier(map[string]string{"alice": hash}, "", 8)

	got, err := v.Verify(basicHeader("alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, &webdav.AuthHeader{Scheme: SchemeBasic, Username: "alice"}, got)

	// 第二次命中缓存
	got, err = v.Verify(basicHeader("alice", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)

	_, err = v.Verify(basicHeader("alice", "wrong"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = v.Verify(basicHeader("bob", "secret"))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = v.Verify("Basic !!!")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = v.Verify("Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon")))
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NoError(t, v.CheckPassword("alice", "secret"))
	assert.ErrorIs(t, v.CheckPassword("alice", ""), ErrInvalidCredentials)
	_, err = v.Verify("")
	assert.ErrorIs(t, err, ErrMissingCredentials)
	_, err = v.Verify("Digest abc")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestVerifier_Bearer(t *testing.T) {
	v := NewVerifier(nil, "test-secret", 8)

	token, expiresAt, err := v.GenerateToken("alice", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	got, err := v.Verify("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, &webdav.AuthHeader{Scheme: SchemeBearer, Username: "alice"}, got)

	other := NewVerifier(nil, "other-secret", 8)
	_, err = other.Verify("Bearer " + token)
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	noSecret := NewVerifier(nil, "", 8)
	_, err = noSecret.Verify("Bearer " + token)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
	_, _, err = noSecret.GenerateToken("alice", time.Hour)
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestVerifier_BearerExpired(t *testing.T) {
	v := NewVerifier(nil, "test-secret", 8)
	v.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, _, err := v.GenerateToken("alice", time.Hour)
	require.NoError(t, err)

	v.now = time.Now
	_, err = v.Verify("Bearer " + token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestService(t *testing.T) {
	ctx := context.Background()
	policy, err := DefaultPolicy(ctx)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	svc := NewService(policy, NewMemoryRegistry(), false, logger)

	var _ webdav.Authorizer = svc

	alice := &webdav.AuthHeader{Scheme: SchemeBasic, Username: "alice"}
	assert.True(t, svc.IsAuthorized(ctx, "/docs", alice, webdav.AccessWrite))
	assert.False(t, svc.IsAuthorized(ctx, "/home/bob", alice, webdav.AccessWrite))
	assert.False(t, svc.IsAuthorized(ctx, "/docs", nil, webdav.AccessRead))

	require.NoError(t, svc.AssignLock(ctx, "alice", "t1"))
	assert.True(t, svc.OwnsLock(ctx, "alice", "t1"))
	assert.False(t, svc.OwnsLock(ctx, "bob", "t1"))
	assert.Error(t, svc.ReleaseLock(ctx, "bob", "t1"))
	require.NoError(t, svc.ReleaseLock(ctx, "alice", "t1"))
	assert.False(t, svc.OwnsLock(ctx, "alice", "t1"))

	anon := NewService(policy, NewMemoryRegistry(), true, logger)
	assert.True(t, anon.IsAuthorized(ctx, "/docs", nil, webdav.AccessRead))
	assert.False(t, anon.IsAuthorized(ctx, "/docs", nil, webdav.AccessWrite))
}
