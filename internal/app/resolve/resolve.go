package resolve

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/BookFinder/internal/domain"
	"github.com/John-Robertt/BookFinder/internal/infra/httpx"
	"github.com/John-Robertt/BookFinder/internal/isbn"
	"github.com/John-Robertt/BookFinder/internal/libgen"
	"github.com/John-Robertt/BookFinder/internal/logger"
	"github.com/John-Robertt/BookFinder/internal/metrics"
)

// Pipeline 串联 镜像 -> 搜索 -> 匹配 -> 下载链接 四个阶段。
//
// 约束：
// - 每次调用独立：不缓存镜像/候选/结果，也不在调用之间共享可变状态
// - 每次调用一个独立的 cookie 会话（httpx.WithSession），搜索页的会话 cookie 只带到本次的详情页
// - 严格串行，不做扇出；任一阶段失败立即短路，错误原样返回
// - 不自动重试、不退避（是否换镜像重试由调用方决定，见 ResolutionRequest.Mirror）
type Pipeline struct {
	Mirrors  libgen.MirrorDirectory
	Searcher libgen.Searcher
	Matcher  libgen.CandidateMatcher
	Resolver libgen.DownloadResolver

	// Observer 可选，用于 CLI 输出阶段进度。
	Observer Observer
}

// Result 是一次解析的完整轨迹。
type Result struct {
	Request   domain.ResolutionRequest
	Mirror    domain.Mirror
	Candidate *domain.Candidate
	Download  domain.ResolvedDownload

	State      domain.State
	FailedFrom domain.State
	Err        error

	Attempts   []domain.StageAttempt
	StartedAt  time.Time
	FinishedAt time.Time
}

// Resolve 返回最终可下载的绝对地址。
func (p *Pipeline) Resolve(ctx context.Context, req domain.ResolutionRequest) (domain.ResolvedDownload, error) {
	res, err := p.ResolveTrace(ctx, req)
	return res.Download, err
}

// ResolveTrace 与 Resolve 相同，但同时返回状态迁移与各阶段耗时。
func (p *Pipeline) ResolveTrace(ctx context.Context, req domain.ResolutionRequest) (Result, error) {
	res := Result{
		State:     domain.StateIdle,
		StartedAt: time.Now(),
	}
	ctx = httpx.WithSession(ctx)

	req = req.Normalize()
	req.ISBN = isbn.Clean(req.ISBN)
	res.Request = req

	// 校验在任何网络请求之前。
	if err := req.Validate(); err != nil {
		return p.fail(ctx, &res, err)
	}

	dir := p.Mirrors
	if req.Mirror != "" {
		pinned, err := libgen.Pin(dir, req.Mirror)
		if err != nil {
			return p.fail(ctx, &res, err)
		}
		dir = pinned
	}

	err := p.step(ctx, &res, domain.StageMirror, domain.StateMirrorSelected, domain.KindMirrorUnavailable, func(ctx context.Context) error {
		m, err := dir.CurrentMirror(ctx)
		res.Mirror = m
		return err
	})
	if err != nil {
		return p.fail(ctx, &res, err)
	}

	var cands []domain.Candidate
	err = p.step(ctx, &res, domain.StageSearch, domain.StateSearched, domain.KindUpstreamUnavailable, func(ctx context.Context) error {
		var err error
		cands, err = p.Searcher.Search(ctx, res.Mirror, req)
		return err
	})
	if err != nil {
		return p.fail(ctx, &res, err)
	}

	err = p.step(ctx, &res, domain.StageMatch, domain.StateMatched, domain.KindNoMatch, func(context.Context) error {
		c, err := p.Matcher.Pick(cands, req)
		if err == nil {
			res.Candidate = &c
		}
		return err
	})
	if err != nil {
		return p.fail(ctx, &res, err)
	}

	err = p.step(ctx, &res, domain.StageDownload, domain.StateResolved, domain.KindUpstreamUnavailable, func(ctx context.Context) error {
		d, err := p.Resolver.Resolve(ctx, res.Mirror, *res.Candidate)
		res.Download = d
		return err
	})
	if err != nil {
		return p.fail(ctx, &res, err)
	}

	res.FinishedAt = time.Now()
	metrics.ResolutionsTotal.WithLabelValues("ok").Inc()
	logger.For(ctx).WithFields(logrus.Fields{
		"mirror": res.Mirror.String(),
		"md5":    res.Candidate.MD5,
		"url":    res.Download.URL,
		"took":   res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond).String(),
	}).Info("解析完成")
	return res, nil
}

// step 执行一个阶段并记录耗时/状态迁移。
// 阶段实现返回未分类的错误时，按该阶段的默认 Kind 归类（调用方 ctx 已结束时除外）。
func (p *Pipeline) step(ctx context.Context, res *Result, stage domain.Stage, next domain.State, fallback domain.Kind, fn func(context.Context) error) error {
	t0 := time.Now()
	err := fn(ctx)
	dur := time.Since(t0)
	metrics.StageDuration.WithLabelValues(string(stage)).Observe(dur.Seconds())

	if err != nil && domain.KindOf(err) == "" {
		switch {
		case ctx.Err() == nil:
			err = &domain.Error{Kind: fallback, Stage: stage, Err: err}
		case domain.StageOf(err) == "":
			// 调用方 ctx 已结束：只标注阶段，不归类为上游故障。
			err = &domain.Error{Stage: stage, Err: err}
		}
	}

	att := domain.StageAttempt{Stage: stage, OK: err == nil, DurationMS: dur.Milliseconds()}
	if err != nil {
		att.ErrorKind = domain.KindOf(err)
		att.ErrorMsg = err.Error()
		res.FailedFrom = res.State
		res.State = domain.StateFailed
	} else {
		res.State = next
	}
	res.Attempts = append(res.Attempts, att)

	logger.For(ctx).WithFields(logrus.Fields{
		"stage": stage,
		"state": res.State,
		"took":  dur.Round(time.Millisecond).String(),
	}).Debug("阶段结束")

	if p.Observer != nil {
		p.Observer.OnStage(stage, res.State, dur, err)
	}
	return err
}

func (p *Pipeline) fail(ctx context.Context, res *Result, err error) (Result, error) {
	if res.State != domain.StateFailed {
		res.FailedFrom = res.State
		res.State = domain.StateFailed
	}
	res.Err = err
	res.FinishedAt = time.Now()

	kind := domain.KindOf(err)
	outcome := string(kind)
	switch {
	case outcome != "":
	case ctx.Err() != nil:
		outcome = "canceled"
	default:
		outcome = "unknown"
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()

	entry := logger.For(ctx).WithFields(logrus.Fields{
		"stage":  domain.StageOf(err),
		"kind":   kind,
		"url":    domain.URLOf(err),
		"title":  res.Request.Title,
		"author": res.Request.Author,
		"isbn":   res.Request.ISBN,
	})
	// 调用方结束不算上游故障，降到 info。
	if kind == "" && ctx.Err() != nil {
		entry.WithError(err).Info("解析已取消")
	} else {
		entry.WithError(err).Warn("解析失败")
	}
	return *res, err
}

// Report 转换为对外稳定的 ResolveReport。
func (r Result) Report() domain.ResolveReport {
	rep := domain.ResolveReport{
		Request:     r.Request,
		State:       r.State,
		FailedFrom:  r.FailedFrom,
		DownloadURL: r.Download.URL,
		Candidate:   r.Candidate,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
		Attempts:    append([]domain.StageAttempt(nil), r.Attempts...),
	}
	if !r.Mirror.IsZero() {
		rep.Mirror = r.Mirror.String()
	}
	if r.Err != nil {
		rep.ErrorKind = domain.KindOf(r.Err)
		rep.ErrorStage = domain.StageOf(r.Err)
		rep.ErrorMsg = r.Err.Error()
	}
	rep.Finalize()
	return rep
}
