package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/infra/fsx"
	"github.com/John-Robertt/imgpipe/internal/infra/sink"
	"github.com/John-Robertt/imgpipe/internal/source"
)

// DownloadOptions 是 download 阶段的全部输入。
type DownloadOptions struct {
	Records   domain.Collection
	Quality   domain.Quality
	ImagesDir string
	Mode      domain.Mode
	Workers   int
	Client    *http.Client
	// Mirror 非 nil 时，每个写入成功的文件同时上传一份。
	Mirror sink.Sink
}

// Download 下载每条记录在 Quality 档位下的图片到 ImagesDir/<id>-<quality>.jpg。
// 单条失败只记入 report，不影响其他条目；写入内容与响应 body 逐字节一致。
func Download(ctx context.Context, opts DownloadOptions, obs Observer) domain.StageReport {
	q := opts.Quality
	if q == "" {
		q = domain.DefaultQuality
	}
	if opts.Client == nil {
		return finishEarly(domain.StageDownload, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeFetchFailed, "http client 为空"), obs)
	}
	if err := fsx.EnsureDir(opts.ImagesDir); err != nil {
		return finishEarly(domain.StageDownload, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("创建 images 目录失败：%v", err)), obs)
	}

	tasks := make([]task, 0, len(opts.Records))
	for i := range opts.Records {
		idx, rec := i, opts.Records[i]
		tasks = append(tasks, func(ctx context.Context) domain.ItemResult {
			return downloadOne(ctx, opts, q, idx, rec)
		})
	}
	return execute(ctx, domain.StageDownload, opts.Mode, opts.Workers, tasks, obs)
}

func downloadOne(ctx context.Context, opts DownloadOptions, q domain.Quality, idx int, rec domain.ImageRecord) domain.ItemResult {
	item := domain.ItemResult{Status: domain.StatusOK}

	id, err := rec.ID()
	if err != nil {
		item.Source = fmt.Sprintf("records[%d]", idx)
		return fail(&item, domain.ErrCodeInvalidRecord, fmt.Sprintf("第 %d 条记录无效：%v", idx, err))
	}
	item.ID = id

	u, err := rec.URL(q)
	if err != nil {
		var ue *domain.URLError
		if errors.As(err, &ue) {
			return fail(&item, domain.ErrCodeInvalidURL, err.Error())
		}
		return fail(&item, domain.ErrCodeMissingURL, fmt.Sprintf("记录缺少 urls.%s", q))
	}
	item.Source = u

	body, err := source.Get(ctx, opts.Client, u, nil)
	if err != nil {
		return fillFetchError(&item, err)
	}

	name := domain.ImageFileName(id, q)
	item.Output = filepath.Join(opts.ImagesDir, name)
	if err := fsx.WriteFileAtomic(opts.ImagesDir, name, body); err != nil {
		return fail(&item, domain.ErrCodeIOFailed, fmt.Sprintf("写入 %s 失败：%v", name, err))
	}
	item.Bytes = int64(len(body))

	if opts.Mirror != nil {
		if err := opts.Mirror.Put(ctx, domain.StageDownload, name, body); err != nil {
			return fail(&item, domain.ErrCodeMirrorFailed, err.Error())
		}
	}
	return item
}

func fillFetchError(item *domain.ItemResult, err error) domain.ItemResult {
	var hs *source.HTTPStatusError
	if errors.As(err, &hs) {
		return fail(item, domain.ErrCodeHTTPStatus, fmt.Sprintf("HTTP %d", hs.StatusCode))
	}
	var rl *source.RateLimitedError
	if errors.As(err, &rl) {
		return fail(item, domain.ErrCodeHTTPStatus, fmt.Sprintf("HTTP %d（可能触发限流）", rl.StatusCode))
	}

	low := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(low, "timeout") {
		return fail(item, domain.ErrCodeFetchFailed, "下载超时："+err.Error())
	}
	return fail(item, domain.ErrCodeFetchFailed, "下载失败："+err.Error())
}
