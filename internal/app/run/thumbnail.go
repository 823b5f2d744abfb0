package run

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/John-Robertt/imgpipe/internal/domain"
	"github.com/John-Robertt/imgpipe/internal/infra/fsx"
	"github.com/John-Robertt/imgpipe/internal/infra/imgx"
	"github.com/John-Robertt/imgpipe/internal/infra/sink"
	"github.com/John-Robertt/imgpipe/internal/scan"
)

// ThumbnailOptions 是 thumbnail 阶段的全部输入。
type ThumbnailOptions struct {
	ImagesDir string
	ThumbsDir string
	Width     int
	Height    int
	Mode      domain.Mode
	Workers   int
	Mirror    sink.Sink
}

// Thumbnails 为 ImagesDir 下的每张图片生成缩略图，写到 ThumbsDir 下的同名相对路径。
// 已存在的缩略图会被覆盖；同一输入重复执行得到相同字节。
func Thumbnails(ctx context.Context, opts ThumbnailOptions, obs Observer) domain.StageReport {
	if opts.Width < 1 || opts.Height < 1 {
		return finishEarly(domain.StageThumbnail, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeEncodeFailed, fmt.Sprintf("缩略图尺寸无效：%dx%d", opts.Width, opts.Height)), obs)
	}

	// 相对路径统一按 cwd 解析，保证排除规则与写入位置一致。
	imagesDir, err := filepath.Abs(opts.ImagesDir)
	if err != nil {
		return finishEarly(domain.StageThumbnail, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("解析 images 目录失败：%v", err)), obs)
	}
	thumbsDir, err := filepath.Abs(opts.ThumbsDir)
	if err != nil {
		return finishEarly(domain.StageThumbnail, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("解析 thumbnails 目录失败：%v", err)), obs)
	}
	opts.ImagesDir, opts.ThumbsDir = imagesDir, thumbsDir

	fi, err := os.Stat(opts.ImagesDir)
	if err != nil {
		return finishEarly(domain.StageThumbnail, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("读取 images 目录失败：%v", err)), obs)
	}
	if !fi.IsDir() {
		return finishEarly(domain.StageThumbnail, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeIOFailed, (&fsx.PathTypeConflictError{Path: opts.ImagesDir, Want: "dir", Got: "file"}).Error()), obs)
	}

	files, err := scan.ScanImages(opts.ImagesDir, []string{opts.ThumbsDir})
	if err != nil {
		return finishEarly(domain.StageThumbnail, opts.Mode, opts.Workers, syntheticFailed(domain.ErrCodeIOFailed, fmt.Sprintf("扫描失败：%v", err)), obs)
	}

	tasks := make([]task, 0, len(files))
	for i := range files {
		f := files[i]
		tasks = append(tasks, func(ctx context.Context) domain.ItemResult {
			return thumbnailOne(ctx, opts, f)
		})
	}
	return execute(ctx, domain.StageThumbnail, opts.Mode, opts.Workers, tasks, obs)
}

func thumbnailOne(ctx context.Context, opts ThumbnailOptions, f scan.ImageFile) domain.ItemResult {
	rel := filepath.ToSlash(f.RelPath)
	item := domain.ItemResult{
		ID:     rel,
		Source: f.AbsPath,
		Status: domain.StatusOK,
	}

	src, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return fail(&item, domain.ErrCodeIOFailed, fmt.Sprintf("读取 %s 失败：%v", rel, err))
	}

	out, _, err := imgx.Thumbnail(src, f.RelPath, opts.Width, opts.Height)
	if err != nil {
		if imgx.IsDecode(err) {
			return fail(&item, domain.ErrCodeDecodeFailed, fmt.Sprintf("%s：%v", rel, err))
		}
		return fail(&item, domain.ErrCodeEncodeFailed, fmt.Sprintf("生成 %s 缩略图失败：%v", rel, err))
	}

	dir := filepath.Join(opts.ThumbsDir, filepath.Dir(f.RelPath))
	name := filepath.Base(f.RelPath)
	item.Output = filepath.Join(dir, name)
	if err := fsx.WriteFileAtomic(dir, name, out); err != nil {
		return fail(&item, domain.ErrCodeIOFailed, fmt.Sprintf("写入缩略图失败：%v", err))
	}
	item.Bytes = int64(len(out))

	if opts.Mirror != nil {
		if err := opts.Mirror.Put(ctx, domain.StageThumbnail, rel, out); err != nil {
			return fail(&item, domain.ErrCodeMirrorFailed, err.Error())
		}
	}
	return item
}
