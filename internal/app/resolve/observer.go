package resolve

import (
	"time"

	"github.com/John-Robertt/BookFinder/internal/domain"
)

// Observer 用于把阶段进度从解析流程中解耦出来。
//
// 约束：
// - resolve 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）
// - 事件在调用 Resolve 的 goroutine 上同步触发，实现不应阻塞
type Observer interface {
	// OnStage 在每个阶段结束时调用；state 是阶段结束后的状态（失败时为 failed）。
	OnStage(stage domain.Stage, state domain.State, dur time.Duration, err error)
}
