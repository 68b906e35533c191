package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 是解析失败的分类；HTTP 层只依据 Kind 决定状态码。
type Kind string

const (
	KindInvalidRequest      Kind = "InvalidRequest"
	KindMirrorUnavailable   Kind = "MirrorUnavailable"
	KindBlocked             Kind = "Blocked"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindParseError          Kind = "ParseError"
	KindNoMatch             Kind = "NoMatch"
	KindLinkNotFound        Kind = "LinkNotFound"
)

// Stage 标记失败发生在流水线的哪一步（用于日志与 report 追溯）。
type Stage string

const (
	StageValidate Stage = "validate"
	StageMirror   Stage = "mirror"
	StageSearch   Stage = "search"
	StageMatch    Stage = "match"
	StageDownload Stage = "download"
)

// Error 是带分类的解析错误。
//
// 约束：
// - 每个阶段只产生自己的 Kind，上层原样透传，不做二次“猜测”
// - 调用方 ctx 结束（取消/调用方自己的截止时间）不是失败分类：Kind 为空，只记录 Stage
type Error struct {
	Kind  Kind
	Stage Stage
	URL   string // 出错时正在访问的地址（可为空）
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != "" {
		b.WriteString(string(e.Kind))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "stage=%s", e.Stage)
	if e.URL != "" {
		fmt.Fprintf(&b, " url=%s", e.URL)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf 从 error 链中提取 Kind；不是 *Error 时返回空串。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf 从 error 链中提取 Stage；不是 *Error 时返回空串。
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// URLOf 从 error 链中提取出错地址。
func URLOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.URL
	}
	return ""
}
