package libgen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/John-Robertt/BookFinder/internal/domain"
)

// DefaultMirrors 是未配置时依次探测的候选镜像。
var DefaultMirrors = []string{
	"https://libgen.is",
	"https://libgen.rs",
	"https://libgen.st",
}

// MirrorDirectory 负责给出“当前可用”的镜像。
//
// 约束：
// - 每次解析调用都重新确定镜像，不跨请求缓存
// - 找不到可用镜像时返回 Kind=MirrorUnavailable
type MirrorDirectory interface {
	CurrentMirror(ctx context.Context) (domain.Mirror, error)
}

// KnownMirrors 由能列出自身候选集合的目录实现（用于校验调用方指定的镜像）。
type KnownMirrors interface {
	Known() []domain.Mirror
}

// StaticDirectory 固定返回一个镜像，不发起网络请求。
type StaticDirectory struct {
	Mirror domain.Mirror
}

func NewStaticDirectory(base string) (StaticDirectory, error) {
	m, err := domain.ParseMirror(base)
	if err != nil {
		return StaticDirectory{}, err
	}
	return StaticDirectory{Mirror: m}, nil
}

func (d StaticDirectory) CurrentMirror(ctx context.Context) (domain.Mirror, error) {
	if d.Mirror.IsZero() {
		return domain.Mirror{}, &domain.Error{Kind: domain.KindMirrorUnavailable, Stage: domain.StageMirror, Err: errors.New("未配置镜像")}
	}
	return d.Mirror, nil
}

func (d StaticDirectory) Known() []domain.Mirror {
	if d.Mirror.IsZero() {
		return nil
	}
	return []domain.Mirror{d.Mirror}
}

// ProbeDirectory 按配置顺序逐个探测候选镜像，返回第一个能正常应答的。
//
// 约束：
// - 串行探测，不并发扇出
// - 单个候选的探测受 Timeout 限制
// - 非 2xx / 拦截页 / 网络错误都视为该候选不可用
// - 调用方 ctx 结束时立即停止，不归为 MirrorUnavailable
type ProbeDirectory struct {
	Candidates []domain.Mirror
	Client     *http.Client
	Timeout    time.Duration
}

func NewProbeDirectory(bases []string, c *http.Client, timeout time.Duration) (*ProbeDirectory, error) {
	if len(bases) == 0 {
		return nil, errors.New("候选镜像列表不能为空")
	}
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	ms := make([]domain.Mirror, 0, len(bases))
	for _, b := range bases {
		m, err := domain.ParseMirror(b)
		if err != nil {
			return nil, err
		}
		ms = append(ms, m)
	}
	return &ProbeDirectory{Candidates: ms, Client: c, Timeout: timeout}, nil
}

func (d *ProbeDirectory) CurrentMirror(ctx context.Context) (domain.Mirror, error) {
	var lastErr error
	for _, m := range d.Candidates {
		if err := ctx.Err(); err != nil {
			return domain.Mirror{}, classify(domain.StageMirror, "", &CallerDoneError{Err: err})
		}
		_, err := fetchPage(ctx, d.Client, domain.StageMirror, m.String()+"/", d.Timeout)
		if err == nil {
			return m, nil
		}
		var ce *CallerDoneError
		if errors.As(err, &ce) {
			return domain.Mirror{}, classify(domain.StageMirror, m.String()+"/", err)
		}
		lastErr = fmt.Errorf("%s：%w", m, err)
	}
	if lastErr == nil {
		lastErr = errors.New("没有候选镜像")
	}
	return domain.Mirror{}, &domain.Error{
		Kind:  domain.KindMirrorUnavailable,
		Stage: domain.StageMirror,
		Err:   fmt.Errorf("无可用镜像（候选 %d 个）：%w", len(d.Candidates), lastErr),
	}
}

func (d *ProbeDirectory) Known() []domain.Mirror {
	return append([]domain.Mirror(nil), d.Candidates...)
}

// Pin 返回固定到 base 的目录，供调用方在后续重试时切换镜像。
// base 必须属于 dir 的已知镜像，否则返回 Kind=InvalidRequest。
func Pin(dir MirrorDirectory, base string) (MirrorDirectory, error) {
	want, err := domain.ParseMirror(base)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindInvalidRequest, Stage: domain.StageMirror, Err: err}
	}
	km, ok := dir.(KnownMirrors)
	if !ok {
		return nil, &domain.Error{Kind: domain.KindInvalidRequest, Stage: domain.StageMirror, Err: errors.New("当前镜像目录不支持指定镜像")}
	}
	for _, m := range km.Known() {
		if m.SameOrigin(want) {
			return StaticDirectory{Mirror: m}, nil
		}
	}
	return nil, &domain.Error{
		Kind:  domain.KindInvalidRequest,
		Stage: domain.StageMirror,
		Err:   fmt.Errorf("镜像不在已知列表中：%s", want),
	}
}
