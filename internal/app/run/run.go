package run

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

// MaxWorkers 是 worker 数的上限；超过会被截断。
const MaxWorkers = 64

// task 处理一个条目；不允许 panic，所有失败都折叠进 ItemResult。
type task func(ctx context.Context) domain.ItemResult

// Workers 把配置值归一化为实际 worker 数：serial 恒为 1；<=0 时取 CPU 核数。
func Workers(mode domain.Mode, n int) int {
	if mode == domain.ModeSerial {
		return 1
	}
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n < 1 {
		n = 1
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

func normalizeMode(m domain.Mode) domain.Mode {
	if m == domain.ModeSerial {
		return domain.ModeSerial
	}
	return domain.ModeParallel
}

// execute 按 mode 执行 tasks，并产出 Finalize 后的 StageReport。
//
// - serial：在调用方 goroutine 中顺序执行
// - parallel：固定大小的 worker pool（jobs/results channel），条目之间没有共享状态
func execute(ctx context.Context, stage string, mode domain.Mode, workers int, tasks []task, obs Observer) domain.StageReport {
	mode = normalizeMode(mode)
	workers = Workers(mode, workers)

	rep := domain.StageReport{
		Stage:     stage,
		Mode:      mode,
		Workers:   workers,
		StartedAt: time.Now(),
		Items:     make([]domain.ItemResult, 0, len(tasks)),
	}

	if obs != nil {
		obs.OnStart(stage, mode, workers, len(tasks))
	}

	type execResult struct {
		res domain.ItemResult
		dur time.Duration
	}

	done := 0
	collect := func(r execResult) {
		done++
		r.res.DurationMS = r.dur.Milliseconds()
		rep.Items = append(rep.Items, r.res)
		if obs != nil {
			obs.OnItemDone(done, len(tasks), r.res, r.dur)
		}
	}

	if mode == domain.ModeSerial {
		for _, t := range tasks {
			started := time.Now()
			r := t(ctx)
			collect(execResult{res: r, dur: time.Since(started)})
		}
	} else {
		jobs := make(chan task)
		results := make(chan execResult, len(tasks))

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for t := range jobs {
					started := time.Now()
					r := t(ctx)
					results <- execResult{res: r, dur: time.Since(started)}
				}
			}()
		}

		go func() {
			for _, t := range tasks {
				jobs <- t
			}
			close(jobs)
			wg.Wait()
			close(results)
		}()

		for r := range results {
			collect(r)
		}
	}

	rep.FinishedAt = time.Now()
	rep.Finalize()
	if obs != nil {
		obs.OnStageDone(rep)
	}
	return rep
}

// finishEarly 用于阶段无法开始（例如输入目录不存在）：只含一条合成失败条目。
func finishEarly(stage string, mode domain.Mode, workers int, item domain.ItemResult, obs Observer) domain.StageReport {
	mode = normalizeMode(mode)
	now := time.Now()
	rep := domain.StageReport{
		Stage:      stage,
		Mode:       mode,
		Workers:    Workers(mode, workers),
		StartedAt:  now,
		FinishedAt: now,
		Items:      []domain.ItemResult{item},
	}
	rep.Finalize()
	if obs != nil {
		obs.OnStageDone(rep)
	}
	return rep
}

func syntheticFailed(code, msg string) domain.ItemResult {
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
	}
}

func fail(item *domain.ItemResult, code, msg string) domain.ItemResult {
	item.Status = domain.StatusFailed
	item.ErrorCode = code
	item.ErrorMsg = msg
	return *item
}
