package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/metadata"
	"github.com/John-Robertt/imgpipe/internal/source"
)

// ErrExhausted 表示某一页返回了 0 条记录：外部服务无法再提供更多数据。
var ErrExhausted = errors.New("外部服务没有返回任何记录")

// PageError 标记失败发生在哪一页（从 0 开始）。
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("fetch 第 %d 页失败：%v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Options 是一次 fetch 的全部输入。
type Options struct {
	Source   source.Source
	Client   *http.Client
	Count    int
	PageSize int
	// OutPath 为空时只返回结果，不落盘（用于测试/预览）。
	OutPath string
}

// Observer 接收逐页进度；实现必须能处理 nil 以外的任意调用顺序。
type Observer interface {
	OnPage(page, got, collected, total int, dur time.Duration)
}

// Run 分页拉取直到恰好 Count 条，然后整体写入 OutPath。
//
// 规则（固定）：
// - 每页请求 min(PageSize, 剩余条数)；页内多出的记录丢弃
// - 短页（少于请求条数）接受并计数，继续请求下一页
// - 0 条的页视为数据耗尽：返回 ErrExhausted
// - 任何网络错误/非 2xx 立即失败；失败时不写任何文件（旧文件保持不变）
func Run(ctx context.Context, opts Options, obs Observer) (domain.FetchResult, domain.Collection, error) {
	started := time.Now()

	if opts.Source == nil {
		return domain.FetchResult{}, nil, errors.New("source 不能为空")
	}
	if opts.Count < 1 {
		return domain.FetchResult{}, nil, fmt.Errorf("count 必须 >= 1：%d", opts.Count)
	}
	limit := opts.Source.MaxPageSize()
	if opts.PageSize < 1 || opts.PageSize > limit {
		return domain.FetchResult{}, nil, fmt.Errorf("page_size 超出 %s 的范围 [1, %d]：%d", opts.Source.Name(), limit, opts.PageSize)
	}

	res := domain.FetchResult{
		Source:    opts.Source.Name(),
		Requested: opts.Count,
		PageSize:  opts.PageSize,
		Output:    opts.OutPath,
	}

	out := make(domain.Collection, 0, opts.Count)
	for page := 0; len(out) < opts.Count; page++ {
		want := opts.Count - len(out)
		if want > opts.PageSize {
			want = opts.PageSize
		}

		pageStarted := time.Now()
		recs, err := opts.Source.FetchPage(ctx, opts.Client, source.Page{Index: page, Size: opts.PageSize, Want: want})
		res.Pages++
		if err != nil {
			return res, nil, &PageError{Page: page, Err: err}
		}
		if len(recs) == 0 {
			return res, nil, &PageError{Page: page, Err: ErrExhausted}
		}
		if len(recs) < want {
			res.ShortPages++
		}
		if len(recs) > want {
			recs = recs[:want]
		}
		out = append(out, recs...)

		if obs != nil {
			obs.OnPage(page, len(recs), len(out), opts.Count, time.Since(pageStarted))
		}
	}

	if opts.OutPath != "" {
		if err := metadata.Save(opts.OutPath, out); err != nil {
			return res, nil, fmt.Errorf("写入 %q 失败：%w", opts.OutPath, err)
		}
	}

	res.Records = len(out)
	res.StartedAt = started.UTC()
	res.FinishedAt = time.Now().UTC()
	res.ElapsedMS = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
	return res, out, nil
}
