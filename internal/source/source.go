package source

import (
	"context"
	"net/http"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

// Page 描述一次分页请求。
//
// Size 是固定页大小（决定偏移：第 Index 页覆盖 [Index*Size, (Index+1)*Size)）；
// Want 是本页实际还需要的条数（最后一页可能小于 Size）。随机类接口只看 Want；
// 偏移类接口按 Size 取页，由调用方截断多余记录。
type Page struct {
	Index int
	Size  int
	Want  int
}

// Source 把“外部服务的接口形态”限制在 source 包内部；fetch 流程只依赖统一接口。
//
// 约束：
// - FetchPage 不做重试、不落盘（由上层统一控制）
// - 返回的记录按原样透传；需要归一化时只允许补充 id/urls 字段
// - 非 2xx 必须返回 *HTTPStatusError 或 *RateLimitedError
type Source interface {
	Name() string
	// MaxPageSize 是外部服务单页允许的最大条数。
	MaxPageSize() int
	FetchPage(ctx context.Context, c *http.Client, p Page) (domain.Collection, error)
}
