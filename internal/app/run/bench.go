package run

import (
	"context"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

// StageFunc 以给定 mode 执行一次阶段。
type StageFunc func(mode domain.Mode) domain.StageReport

// Bench 先串行、后并行执行同一阶段（输入相同），并计算 speedup。
func Bench(stage string, fn StageFunc) domain.BenchReport {
	serial := fn(domain.ModeSerial)
	parallel := fn(domain.ModeParallel)

	br := domain.BenchReport{
		Stage:    stage,
		Serial:   serial,
		Parallel: parallel,
	}
	if p := parallel.Elapsed(); p > 0 {
		br.Speedup = float64(serial.Elapsed()) / float64(p)
	}
	return br
}

// BenchDownload 对 download 阶段做串行/并行对比；opts.Mode 被忽略。
func BenchDownload(ctx context.Context, opts DownloadOptions, obs Observer) domain.BenchReport {
	return Bench(domain.StageDownload, func(mode domain.Mode) domain.StageReport {
		o := opts
		o.Mode = mode
		return Download(ctx, o, obs)
	})
}

// BenchThumbnails 对 thumbnail 阶段做串行/并行对比；opts.Mode 被忽略。
func BenchThumbnails(ctx context.Context, opts ThumbnailOptions, obs Observer) domain.BenchReport {
	return Bench(domain.StageThumbnail, func(mode domain.Mode) domain.StageReport {
		o := opts
		o.Mode = mode
		return Thumbnails(ctx, o, obs)
	})
}
