package picsum

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/source"
)

const (
	DefaultBaseURL = "https://picsum.photos"
	// MaxPageSize 是 /v2/list 的 limit 上限。
	MaxPageSize = 100
)

// Source 从 Lorem Picsum 的列表接口分页拉取元数据（无需 key）。
//
// picsum 只给出原图地址，本 Source 会为每条记录补一个 urls 对象，
// 让下游 downloader 与 unsplash 记录走同一套档位解析。
type Source struct {
	BaseURL string
}

func New(baseURL string) *Source {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{BaseURL: baseURL}
}

func (*Source) Name() string { return "picsum" }

func (*Source) MaxPageSize() int { return MaxPageSize }

type listItem struct {
	ID          string `json:"id"`
	Author      string `json:"author"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	URL         string `json:"url"`
	DownloadURL string `json:"download_url"`
}

// 各档位的目标宽度；raw/full 使用原始尺寸。
var tierWidths = map[domain.Quality]int{
	domain.QualityRegular: 1080,
	domain.QualitySmall:   400,
	domain.QualityThumb:   200,
}

// FetchPage 请求 GET /v2/list?page=<index+1>&limit=<size>（页码从 1 开始，偏移由 Size 决定）。
func (s *Source) FetchPage(ctx context.Context, c *http.Client, p source.Page) (domain.Collection, error) {
	if p.Size < 1 || p.Size > MaxPageSize {
		return nil, fmt.Errorf("limit 超出范围 [1, %d]：%d", MaxPageSize, p.Size)
	}
	if p.Index < 0 {
		return nil, fmt.Errorf("页码不能为负：%d", p.Index)
	}

	u := fmt.Sprintf("%s/v2/list?page=%d&limit=%d", s.BaseURL, p.Index+1, p.Size)
	b, err := source.Get(ctx, c, u, nil)
	if err != nil {
		return nil, err
	}

	// 先按原样解码（透传全部字段），再解一遍取出构造 urls 需要的字段。
	var raw domain.Collection
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("响应不是图片数组：%w", err)
	}
	var items []listItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("响应字段类型不符合预期：%w", err)
	}

	for i := range raw {
		if raw[i] == nil {
			raw[i] = domain.ImageRecord{}
		}
		urls, err := json.Marshal(s.tierURLs(items[i]))
		if err != nil {
			return nil, err
		}
		raw[i]["urls"] = urls
	}
	return raw, nil
}

func (s *Source) tierURLs(it listItem) map[domain.Quality]string {
	urls := make(map[domain.Quality]string, len(domain.Qualities))
	if it.ID == "" {
		return urls
	}
	full := it.DownloadURL
	if full == "" && it.Width > 0 && it.Height > 0 {
		full = fmt.Sprintf("%s/id/%s/%d/%d", s.BaseURL, it.ID, it.Width, it.Height)
	}
	if full != "" {
		urls[domain.QualityRaw] = full
		urls[domain.QualityFull] = full
	}
	if it.Width <= 0 || it.Height <= 0 {
		return urls
	}
	for q, w := range tierWidths {
		if w > it.Width {
			w = it.Width
		}
		h := (it.Height*w*2 + it.Width) / (2 * it.Width)
		if h < 1 {
			h = 1
		}
		urls[q] = fmt.Sprintf("%s/id/%s/%d/%d", s.BaseURL, it.ID, w, h)
	}
	return urls
}
