package domain

import (
	"errors"
	"strings"
)

// ResolutionRequest 是一次下载链接解析请求。
//
// 约束：
// - Title 与 ISBN 至少一个非空；只给 Author 不构成有效请求
// - Mirror 可选：调用方在后续重试时可以指定另一个已知镜像（不在已知集合内则拒绝）
type ResolutionRequest struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
	Mirror string `json:"mirror,omitempty"`
}

// Normalize 去掉首尾空白并折叠连续空白；不改变大小写（大小写由匹配阶段处理）。
func (r ResolutionRequest) Normalize() ResolutionRequest {
	return ResolutionRequest{
		Title:  normSpace(r.Title),
		Author: normSpace(r.Author),
		ISBN:   strings.TrimSpace(r.ISBN),
		Mirror: strings.TrimSpace(r.Mirror),
	}
}

// Validate 只做必填校验，不发起任何网络请求。
func (r ResolutionRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.ISBN) == "" {
		return &Error{
			Kind:  KindInvalidRequest,
			Stage: StageValidate,
			Err:   errors.New("title 与 isbn 至少需要提供一个"),
		}
	}
	return nil
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
