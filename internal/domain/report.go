package domain

import (
	"encoding/json"
	"time"
)

// ResolveReport 是一次解析的可追溯记录（CLI --report 落盘用）。
type ResolveReport struct {
	Request ResolutionRequest `json:"request"`
	Mirror  string            `json:"mirror"`

	State       State  `json:"state"`
	FailedFrom  State  `json:"failed_from,omitempty"`
	DownloadURL string `json:"download_url"`

	Candidate *Candidate `json:"candidate,omitempty"`

	ErrorKind  Kind   `json:"error_kind"`
	ErrorStage Stage  `json:"error_stage"`
	ErrorMsg   string `json:"error_msg"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Attempts []StageAttempt `json:"attempts"`
}

// StageAttempt 记录一个阶段的执行结果与耗时。
type StageAttempt struct {
	Stage      Stage  `json:"stage"`
	OK         bool   `json:"ok"`
	DurationMS int64  `json:"duration_ms"`
	ErrorKind  Kind   `json:"error_kind,omitempty"`
	ErrorMsg   string `json:"error_msg,omitempty"`
}

// Finalize 统一时间为 UTC，并保证 attempts 非 nil（JSON 输出 [] 而不是 null）。
func (r *ResolveReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	if r.Attempts == nil {
		r.Attempts = []StageAttempt{}
	}
}

// MarshalJSON 集中约束输出稳定性；当前只是透传 encoding/json 的默认行为。
func (r ResolveReport) MarshalJSON() ([]byte, error) {
	type Alias ResolveReport
	return json.Marshal(Alias(r))
}
