package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/webdav-engine/internal/config"
)

// ErrNotFound 对象不存在
var ErrNotFound = errors.New("object not found")

// Service 基于MinIO的资源内容存储
//
// 所有资源内容放在同一个bucket中，对象键为去掉前导 / 的资源路径。
type Service struct {
	client *minio.Client
	bucket string
}

// NewService 创建MinIO存储服务
func NewService(cfg config.MinIOConfig) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Service{
		client: client,
		bucket: cfg.BucketName,
	}, nil
}

// EnsureBucket 确保bucket存在
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket exists: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
		if err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}

	return nil
}

// Put 写入资源内容
func (s *Service) Put(ctx context.Context, resourcePath string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, ObjectKey(resourcePath), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	return nil
}

// Get 读取资源内容
func (s *Service) Get(ctx context.Context, resourcePath string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ObjectKey(resourcePath), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}

	return data, nil
}

// Delete 删除资源内容，对象不存在时不报错
func (s *Service) Delete(ctx context.Context, resourcePath string) error {
	err := s.client.RemoveObject(ctx, s.bucket, ObjectKey(resourcePath), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}

	return nil
}

// Copy 复制资源内容
func (s *Service) Copy(ctx context.Context, srcPath, dstPath string) error {
	src := minio.CopySrcOptions{
		Bucket: s.bucket,
		Object: ObjectKey(srcPath),
	}

	dst := minio.CopyDestOptions{
		Bucket: s.bucket,
		Object: ObjectKey(dstPath),
	}

	_, err := s.client.CopyObject(ctx, dst, src)
	if err != nil {
		return fmt.Errorf("copy object: %w", err)
	}

	return nil
}

// ObjectKey 资源路径对应的对象键
func ObjectKey(p string) string {
	p = path.Clean("/" + p)
	return strings.TrimPrefix(p, "/")
}
