package run

import (
	"time"

	"github.com/John-Robertt/imgpipe/internal/domain"
)

// Observer 用于把“阶段开始/条目结果/阶段结束”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - Observer 的实现必须并发安全：parallel 模式下事件的顺序不确定。
type Observer interface {
	// OnStart 在阶段开始执行条目前调用。
	OnStart(stage string, mode domain.Mode, workers, total int)
	// OnItemDone 在某个条目处理完成时调用；idx 从 1 开始，按完成顺序递增。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
	// OnStageDone 在 report 完成 Finalize 后调用。
	OnStageDone(rep domain.StageReport)
}
