package sink

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	mu   sync.Mutex
	puts map[string][]byte
	cts  map[string]string
	err  error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.puts == nil {
		f.puts = map[string][]byte{}
		f.cts = map[string]string{}
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.puts[key] = b
	f.cts[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_Key(t *testing.T) {
	cases := []struct {
		prefix, stage, name, want string
	}{
		{"", "download", "abc-regular.jpg", "download/abc-regular.jpg"},
		{"runs/1/", "thumbnail", "a/b.png", "runs/1/thumbnail/a/b.png"},
		{"/p", "download", "x.jpg", "p/download/x.jpg"},
	}
	for _, tc := range cases {
		s := &S3Sink{Prefix: tc.prefix}
		if got := s.Key(tc.stage, tc.name); got != tc.want {
			t.Fatalf("Key(%q,%q,%q)=%q, want %q", tc.prefix, tc.stage, tc.name, got, tc.want)
		}
	}
}

func TestS3Sink_Put(t *testing.T) {
	f := &fakeS3{}
	s := &S3Sink{Client: f, Bucket: "bkt", Prefix: "imgs"}

	if err := s.Put(context.Background(), "download", "abc-regular.jpg", []byte("jpeg")); err != nil {
		t.Fatalf("Put 失败：%v", err)
	}
	got := f.puts["bkt/imgs/download/abc-regular.jpg"]
	if string(got) != "jpeg" {
		t.Fatalf("上传内容不符合预期：%q (keys=%v)", string(got), f.puts)
	}
	if ct := f.cts["bkt/imgs/download/abc-regular.jpg"]; ct != "image/jpeg" {
		t.Fatalf("content-type 不符合预期：%q", ct)
	}
}

func TestS3Sink_PutError(t *testing.T) {
	s := &S3Sink{Client: &fakeS3{err: errors.New("denied")}, Bucket: "bkt"}
	err := s.Put(context.Background(), "download", "x.jpg", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "s3://bkt/download/x.jpg") {
		t.Fatalf("期望错误包含对象地址，实际：%v", err)
	}
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), Options{}); err == nil {
		t.Fatalf("期望 bucket 为空时报错")
	}
	if (Options{Bucket: " "}).Enabled() {
		t.Fatalf("空白 bucket 不应视为启用")
	}
}
