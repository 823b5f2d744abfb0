package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"
)

// HTTPStatusError 表示外部服务返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Body       string // 截断后的响应体，便于定位
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// RateLimitedError 表示外部服务拒绝了请求（403/429，通常是配额耗尽）。
// 不做重试/退避：fetch 阶段整体失败，download 阶段记为单条失败。
type RateLimitedError struct {
	URL        string
	StatusCode int
	// Remaining 来自 X-Ratelimit-Remaining（若服务提供）。
	Remaining string
}

func (e *RateLimitedError) Error() string {
	if e == nil {
		return "rate limited"
	}
	if e.Remaining != "" {
		return fmt.Sprintf("HTTP %d：已触发限流（remaining=%s）", e.StatusCode, e.Remaining)
	}
	return fmt.Sprintf("HTTP %d：已触发限流", e.StatusCode)
}

func IsRateLimited(err error) bool {
	var e *RateLimitedError
	return errors.As(err, &e)
}

const maxErrorBody = 200

// Get 发起 GET 并读完 body；非 2xx 返回类型化错误。
func Get(ctx context.Context, c *http.Client, u string, header http.Header) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitedError{
			URL:        u,
			StatusCode: resp.StatusCode,
			Remaining:  strings.TrimSpace(resp.Header.Get("X-Ratelimit-Remaining")),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Body: truncate(string(b), maxErrorBody)}
	}
	return b, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
