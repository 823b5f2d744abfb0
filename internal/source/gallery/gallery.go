package gallery

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/source"
)

// MaxPageSize 只约束单次切片大小；页面本身只抓取一次。
const MaxPageSize = 100

// Source 把一个 HTML 图片墙页面当作元数据来源：抽取 <img>/<source> 的
// src/srcset，每张图片一条记录。
//
// 约束：
// - 页面只抓取一次并缓存在内存里，第 Index 页是抽取结果的 [Index*Size, Index*Size+Size) 切片
// - 同一页面内按 URL 去重，保持文档顺序
// - id = sha1(最大尺寸 URL) 的前 12 个十六进制字符
type Source struct {
	PageURL string

	mu      sync.Mutex
	fetched bool
	records domain.Collection
}

func New(pageURL string) (*Source, error) {
	pageURL = strings.TrimSpace(pageURL)
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("gallery_url 必须是 http/https 地址：%q", pageURL)
	}
	return &Source{PageURL: pageURL}, nil
}

func (*Source) Name() string { return "gallery" }

func (*Source) MaxPageSize() int { return MaxPageSize }

func (s *Source) FetchPage(ctx context.Context, c *http.Client, p source.Page) (domain.Collection, error) {
	if p.Size < 1 || p.Size > MaxPageSize {
		return nil, fmt.Errorf("页大小超出范围 [1, %d]：%d", MaxPageSize, p.Size)
	}
	if p.Index < 0 {
		return nil, fmt.Errorf("页码不能为负：%d", p.Index)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fetched {
		b, err := source.Get(ctx, c, s.PageURL, nil)
		if err != nil {
			return nil, err
		}
		recs, err := Parse(b, s.PageURL)
		if err != nil {
			return nil, err
		}
		s.records = recs
		s.fetched = true
	}

	start := p.Index * p.Size
	if start >= len(s.records) {
		return domain.Collection{}, nil
	}
	end := start + p.Size
	if end > len(s.records) {
		end = len(s.records)
	}
	out := make(domain.Collection, end-start)
	copy(out, s.records[start:end])
	return out, nil
}

type candidate struct {
	url   string
	width int // srcset 的 w 描述符；未知为 0
}

// Parse 是纯函数：相同 html + pageURL => 相同记录。
func Parse(html []byte, pageURL string) (domain.Collection, error) {
	if len(html) == 0 {
		return nil, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	out := make(domain.Collection, 0, 32)

	doc.Find("img, picture source").Each(func(_ int, sel *goquery.Selection) {
		cands := make([]candidate, 0, 4)
		for _, attr := range []string{"src", "data-src", "data-original"} {
			if v, ok := sel.Attr(attr); ok {
				if u := resolveURL(pageURL, v); u != "" {
					cands = append(cands, candidate{url: u})
				}
			}
		}
		for _, attr := range []string{"srcset", "data-srcset"} {
			if v, ok := sel.Attr(attr); ok {
				cands = append(cands, parseSrcset(pageURL, v)...)
			}
		}
		if len(cands) == 0 {
			return
		}

		largest, smallest := pick(cands)
		if _, dup := seen[largest]; dup {
			return
		}
		seen[largest] = struct{}{}

		sum := sha1.Sum([]byte(largest))
		id := hex.EncodeToString(sum[:])[:12]

		extra := map[string]any{"page_url": pageURL}
		if alt := strings.TrimSpace(sel.AttrOr("alt", "")); alt != "" {
			extra["alt"] = alt
		}
		rec, err := domain.NewRecord(id, map[domain.Quality]string{
			domain.QualityRaw:     largest,
			domain.QualityFull:    largest,
			domain.QualityRegular: largest,
			domain.QualitySmall:   smallest,
			domain.QualityThumb:   smallest,
		}, extra)
		if err != nil {
			return
		}
		out = append(out, rec)
	})
	return out, nil
}

// pick 返回 (最大, 最小) 候选；宽度未知的候选视为最小，并列时保持文档顺序。
func pick(cands []candidate) (string, string) {
	sorted := append([]candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].width > sorted[j].width })
	return sorted[0].url, sorted[len(sorted)-1].url
}

func parseSrcset(base, v string) []candidate {
	parts := strings.Split(v, ",")
	out := make([]candidate, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(strings.TrimSpace(p))
		if len(fields) == 0 {
			continue
		}
		u := resolveURL(base, fields[0])
		if u == "" {
			continue
		}
		w := 0
		if len(fields) > 1 && strings.HasSuffix(fields[1], "w") {
			w, _ = strconv.Atoi(strings.TrimSuffix(fields[1], "w"))
		}
		out = append(out, candidate{url: u, width: w})
	}
	return out
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "data:") {
		return ""
	}
	bu, err := url.Parse(base)
	if err != nil {
		return ""
	}
	hu, err := url.Parse(href)
	if err != nil {
		return ""
	}
	u := bu.ResolveReference(hu)
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
