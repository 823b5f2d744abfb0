package unsplash

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/source"
)

const (
	DefaultBaseURL = "https://api.unsplash.com"
	// MaxPageSize 是 /photos/random 的 count 上限。
	MaxPageSize = 30
)

// ErrMissingAccessKey 表示没有配置 UNSPLASH_ACCESS_KEY。
var ErrMissingAccessKey = errors.New("未配置 Unsplash access key（UNSPLASH_ACCESS_KEY）")

// Source 从 Unsplash 的随机图片接口拉取元数据，记录按原样透传。
type Source struct {
	BaseURL   string
	AccessKey string
}

// New 校验 access key 并返回 Source；baseURL 为空时使用官方地址。
func New(baseURL, accessKey string) (*Source, error) {
	accessKey = strings.TrimSpace(accessKey)
	if accessKey == "" {
		return nil, ErrMissingAccessKey
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{BaseURL: baseURL, AccessKey: accessKey}, nil
}

func (*Source) Name() string { return "unsplash" }

func (*Source) MaxPageSize() int { return MaxPageSize }

// FetchPage 请求 GET /photos/random/?count=<want>。随机接口没有偏移，只看 p.Want。
func (s *Source) FetchPage(ctx context.Context, c *http.Client, p source.Page) (domain.Collection, error) {
	if p.Want < 1 || p.Want > MaxPageSize {
		return nil, fmt.Errorf("count 超出范围 [1, %d]：%d", MaxPageSize, p.Want)
	}

	u := fmt.Sprintf("%s/photos/random/?count=%d", s.BaseURL, p.Want)
	h := http.Header{}
	h.Set("Accept-Version", "v1")
	h.Set("Authorization", "Client-ID "+s.AccessKey)

	b, err := source.Get(ctx, c, u, h)
	if err != nil {
		return nil, err
	}

	var out domain.Collection
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("响应不是图片数组：%w", err)
	}
	return out, nil
}
