// Package s3 实现写入 S3 兼容对象存储的 Writer（minio-go）。
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"catfix/pkg/contract"
)

// Options: 对象存储连接与布局。
type Options struct {
	Endpoint     string `json:"endpoint"` // host:port，不含协议
	Region       string `json:"region"`   // 默认 us-east-1
	Bucket       string `json:"bucket"`
	Prefix       string `json:"prefix"` // 对象键前缀，例如 "runs/2024-01-01"
	UseSSL       bool   `json:"use_ssl"`
	AccessKey    string `json:"access_key"`
	SecretKey    string `json:"secret_key"`
	AccessKeyEnv string `json:"access_key_env"` // 默认 CATFIX_S3_ACCESS_KEY
	SecretKeyEnv string `json:"secret_key_env"` // 默认 CATFIX_S3_SECRET_KEY
	// CreateBucket: 首次写入前确保桶存在。
	CreateBucket bool `json:"create_bucket"`
}

// Store: 每个 ArtifactID 对应一个对象；同一对象单写者，不同对象可并发写。
type Store struct {
	client       *minio.Client
	bucket       string
	region       string
	prefix       string
	createBucket bool
	initOnce     sync.Once
	initErr      error
}

// New 创建 S3 Writer。
func New(opts Options) (*Store, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	bucket := strings.TrimSpace(opts.Bucket)
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("s3: %w: endpoint and bucket are required", contract.ErrInvalidInput)
	}
	access := firstNonEmpty(opts.AccessKey, os.Getenv(orDefault(opts.AccessKeyEnv, "CATFIX_S3_ACCESS_KEY")))
	secret := firstNonEmpty(opts.SecretKey, os.Getenv(orDefault(opts.SecretKeyEnv, "CATFIX_S3_SECRET_KEY")))
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3: %w: access key and secret key are required", contract.ErrInvalidInput)
	}
	region := orDefault(strings.TrimSpace(opts.Region), "us-east-1")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &Store{
		client:       client,
		bucket:       bucket,
		region:       region,
		prefix:       strings.Trim(opts.Prefix, "/"),
		createBucket: opts.CreateBucket,
	}, nil
}

func (s *Store) ensureBucket(ctx context.Context) error {
	if !s.createBucket {
		return nil
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if !exists {
			s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
		}
	})
	return s.initErr
}

// Write 读完 r 后以已知长度单次 PUT。
func (s *Store) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := s.keyFor(id)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	return err
}

// keyFor: 规范化为正斜杠相对键；拒绝空与 ".." 逃逸，绝对路径去掉前导斜杠。
func (s *Store) keyFor(id contract.ArtifactID) (string, error) {
	p := path.Clean("/" + strings.ReplaceAll(string(id), "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "" || p == "." {
		return "", contract.ErrPathInvalid
	}
	if strings.Contains(string(id), "..") {
		for _, seg := range strings.Split(strings.ReplaceAll(string(id), "\\", "/"), "/") {
			if seg == ".." {
				return "", contract.ErrPathInvalid
			}
		}
	}
	if s.prefix == "" {
		return p, nil
	}
	return s.prefix + "/" + p, nil
}

func contentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".json":
		return "application/json"
	case ".md":
		return "text/markdown; charset=utf-8"
	}
	return "application/octet-stream"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

var _ contract.Writer = (*Store)(nil)
