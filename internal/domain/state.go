package domain

// State 是解析流水线的状态。
// 正常路径：Idle -> MirrorSelected -> Searched -> Matched -> Resolved；
// 任意状态都可以进入终态 Failed。
type State string

const (
	StateIdle           State = "idle"
	StateMirrorSelected State = "mirror_selected"
	StateSearched       State = "searched"
	StateMatched        State = "matched"
	StateResolved       State = "resolved"
	StateFailed         State = "failed"
)

// Terminal 表示状态不会再迁移。
func (s State) Terminal() bool { return s == StateResolved || s == StateFailed }
