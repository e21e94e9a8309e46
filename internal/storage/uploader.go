// Package storage 归档导出文件与上传名单
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"claireportal/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// Uploader 对象上传；返回对象位置，未归档时返回空串
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// New 配置了 bucket 时使用 S3，否则返回 NopUploader
func New(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (Uploader, error) {
	if cfg.Bucket == "" {
		if logger != nil {
			logger.Info("未配置对象存储，跳过归档")
		}
		return NopUploader{}, nil
	}
	return NewS3Uploader(ctx, cfg)
}

// S3Uploader 写入 s3://<bucket>/<prefix>/<key>
type S3Uploader struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Uploader 凭证走 SDK 默认链（环境变量、profile、实例角色）
func NewS3Uploader(ctx context.Context, cfg config.S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket: %w", config.ErrMissingConfig)
	}
	var opts []func(*awsConfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Uploader{
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// Upload 上传并返回 s3:// 地址
func (u *S3Uploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	objectKey := ObjectKey(u.prefix, key)
	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(u.bucket),
		Key:                  aws.String(objectKey),
		Body:                 body,
		ContentType:          aws.String(contentType),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return "s3://" + u.bucket + "/" + objectKey, nil
}

// ObjectKey 拼接前缀，去掉多余斜杠
func ObjectKey(prefix, key string) string {
	return strings.TrimPrefix(path.Join(prefix, key), "/")
}

// NopUploader 不归档
type NopUploader struct{}

// Upload 丢弃内容
func (NopUploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	return "", nil
}

// MemoryUploader 内存存储，用于本地调试与测试
type MemoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewMemoryUploader 创建内存存储
func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{objects: map[string][]byte{}}
}

// Upload 保存副本并返回 mem:// 地址
func (m *MemoryUploader) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = buf.Bytes()
	return "mem://" + key, nil
}

// Object 读取已保存的对象
func (m *MemoryUploader) Object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

// Keys 已保存的键
func (m *MemoryUploader) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
