package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Quality 是外部服务提供的图片质量档位（raw/full/regular/small/thumb）。
type Quality string

const (
	QualityRaw     Quality = "raw"
	QualityFull    Quality = "full"
	QualityRegular Quality = "regular"
	QualitySmall   Quality = "small"
	QualityThumb   Quality = "thumb"
)

// DefaultQuality 与原始数据集的下载默认值一致。
const DefaultQuality = QualityRegular

// Qualities 按从大到小的顺序列出全部档位。
var Qualities = []Quality{QualityRaw, QualityFull, QualityRegular, QualitySmall, QualityThumb}

// ParseQuality 校验档位名称（大小写不敏感）。
func ParseQuality(s string) (Quality, bool) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	for _, x := range Qualities {
		if q == x {
			return q, true
		}
	}
	return "", false
}

// ImageRecord 是外部 API 返回的一条图片元数据。
//
// 约束：
// - 按原样透传（值保持原始 JSON 字节），只在取 id/url 时解析
// - 不在本地做去重
type ImageRecord map[string]json.RawMessage

// Collection 是一次 fetch 的有序结果，落盘为单个 JSON 数组。
type Collection []ImageRecord

var (
	// ErrMissingID 表示记录缺少字符串类型的 id 字段。
	ErrMissingID = errors.New("记录缺少 id")
	// ErrMissingURL 表示记录在指定档位下没有 URL。
	ErrMissingURL = errors.New("记录缺少该档位的 URL")
)

var idRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ID 返回记录标识。标识会被用作文件名，因此只允许 [A-Za-z0-9_-]。
func (r ImageRecord) ID() (string, error) {
	raw, ok := r["id"]
	if !ok {
		return "", ErrMissingID
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("id 不是字符串：%w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingID
	}
	if !idRE.MatchString(id) {
		return "", fmt.Errorf("非法 id：%q", id)
	}
	return id, nil
}

// URLError 表示 URL 存在但不可用（解析失败或非 http/https）。
type URLError struct {
	Quality Quality
	Raw     string
	Err     error
}

func (e *URLError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("urls.%s 无效：%q：%v", e.Quality, e.Raw, e.Err)
	}
	return fmt.Sprintf("urls.%s 无效：%q", e.Quality, e.Raw)
}

func (e *URLError) Unwrap() error { return e.Err }

// URL 解析 urls.<q>，要求是绝对的 http/https 地址。
func (r ImageRecord) URL(q Quality) (string, error) {
	raw, ok := r["urls"]
	if !ok {
		return "", ErrMissingURL
	}
	var urls map[string]json.RawMessage
	if err := json.Unmarshal(raw, &urls); err != nil {
		return "", &URLError{Quality: q, Raw: string(raw), Err: err}
	}
	v, ok := urls[string(q)]
	if !ok {
		return "", ErrMissingURL
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", &URLError{Quality: q, Raw: string(v), Err: err}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrMissingURL
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", &URLError{Quality: q, Raw: s, Err: err}
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &URLError{Quality: q, Raw: s}
	}
	return s, nil
}

// NewRecord 用给定的 id 和各档位 URL 构造一条记录（source 归一化时使用）。
// extra 中的字段原样合并；id/urls 以参数为准。
func NewRecord(id string, urls map[Quality]string, extra map[string]any) (ImageRecord, error) {
	rec := make(ImageRecord, len(extra)+2)
	for k, v := range extra {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("字段 %q 无法编码：%w", k, err)
		}
		rec[k] = b
	}
	b, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	rec["id"] = b

	m := make(map[string]string, len(urls))
	for q, u := range urls {
		m[string(q)] = u
	}
	b, err = json.Marshal(m)
	if err != nil {
		return nil, err
	}
	rec["urls"] = b
	return rec, nil
}

// ImageFileName 是 StoredImage 的文件名：<id>-<quality>.jpg。
func ImageFileName(id string, q Quality) string {
	return id + "-" + string(q) + ".jpg"
}
