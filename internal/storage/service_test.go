package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webdav-engine/internal/config"
)

func TestObjectKey(t *testing.T) {
	tests := map[string]string{
		"/a/b.txt":   "a/b.txt",
		"a/b.txt":    "a/b.txt",
		"/a//b/../c": "a/c",
		"/":          "",
		"/../escape": "escape",
		"/dir/":      "dir",
	}
	for in, expected := range tests {
		assert.Equal(t, expected, ObjectKey(in), in)
	}
}

func TestNewService(t *testing.T) {
	svc, err := NewService(config.MinIOConfig{
		Endpoint:   "localhost:9000",
		AccessKey:  "key",
		SecretKey:  "secret",
		BucketName: "content",
	})
	require.NoError(t, err)
	assert.Equal(t, "content", svc.bucket)

	_, err = NewService(config.MinIOConfig{Endpoint: "host:9000:extra"})
	assert.Error(t, err)
}
