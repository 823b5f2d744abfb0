package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink 接收已落盘产物的副本（镜像）。实现必须并发安全。
type Sink interface {
	Put(ctx context.Context, stage, name string, data []byte) error
}

// PutObjectAPI 是 S3Sink 需要的最小客户端能力；*s3.Client 天然满足。
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink 把产物写到 s3://Bucket/Prefix/<stage>/<name>。
type S3Sink struct {
	Client PutObjectAPI
	Bucket string
	Prefix string
}

// Options 描述镜像目标；Bucket 为空表示不启用。
type Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// Enabled 判断是否配置了镜像。
func (o Options) Enabled() bool { return strings.TrimSpace(o.Bucket) != "" }

// NewS3 从默认凭据链构造 S3Sink。
// Endpoint 非空时（MinIO 等兼容实现）使用 path-style 寻址。
func NewS3(ctx context.Context, opts Options) (*S3Sink, error) {
	if !opts.Enabled() {
		return nil, errors.New("mirror.bucket 不能为空")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(opts.Region); r != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(r))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败：%w", err)
	}

	endpoint := strings.TrimSpace(opts.Endpoint)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Sink{Client: client, Bucket: strings.TrimSpace(opts.Bucket), Prefix: opts.Prefix}, nil
}

// Key 返回对象键：prefix/stage/name（name 中的系统分隔符统一为 '/'）。
func (s *S3Sink) Key(stage, name string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(s.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, stage, filepath.ToSlash(name))
	return path.Join(parts...)
}

func (s *S3Sink) Put(ctx context.Context, stage, name string, data []byte) error {
	if s.Client == nil {
		return errors.New("s3 client 为空")
	}
	key := s.Key(stage, name)

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if ct := mime.TypeByExtension(strings.ToLower(path.Ext(key))); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := s.Client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("上传 s3://%s/%s 失败：%w", s.Bucket, key, err)
	}
	return nil
}
