package libgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/John-Robertt/BookFinder/internal/domain"
	"github.com/John-Robertt/BookFinder/internal/metrics"
)

// 单页读取上限：搜索页/详情页通常 < 1MiB，超出部分直接截断。
const maxPageBytes = 8 << 20

// DefaultHopTimeout 是每一跳网络请求的超时上限。
const DefaultHopTimeout = 10 * time.Second

// HTTPStatusError 表示站点返回了非 2xx（且不是拦截）的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// BlockedError 表示请求被站点拦截（403 或反爬验证页）。
// 产品约束：不尝试绕过，直接上报，让调用方自行退避或换镜像。
type BlockedError struct {
	URL        string
	StatusCode int
	Reason     string // 例如 "forbidden" / "challenge"
}

func (e *BlockedError) Error() string {
	if e == nil {
		return "blocked"
	}
	if strings.TrimSpace(e.Reason) == "" {
		return fmt.Sprintf("blocked: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("blocked: HTTP %d %s", e.StatusCode, strings.TrimSpace(e.Reason))
}

// CallerDoneError 表示调用方的 ctx 已结束（取消或调用方自己的截止时间）。
// 这不是上游故障，classify 不会给它分配 Kind。
type CallerDoneError struct {
	Err error
}

func (e *CallerDoneError) Error() string { return e.Err.Error() }
func (e *CallerDoneError) Unwrap() error { return e.Err }

// admitter 由需要限速的 RoundTripper 实现（见 httpx.Transport.Admit）。
type admitter interface {
	Admit(ctx context.Context, host string) error
}

// page 是一次抓取的结果；URL 是跟随重定向之后的最终地址。
type page struct {
	Body []byte
	URL  *url.URL
}

// 反爬验证页的特征片段（只看 body 前部）。
var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("<title>Just a moment...</title>"),
	[]byte("DDoS-Guard"),
}

// fetchPage 以单跳超时抓取一个页面。
//
// 约束：
// - 不重试（重试策略交给调用方）
// - 限速等待发生在单跳超时开始之前，只受调用方 ctx 约束
// - 调用方 ctx 结束 => *CallerDoneError；403 / 验证页 => *BlockedError；其他非 2xx => *HTTPStatusError
func fetchPage(ctx context.Context, c *http.Client, stage domain.Stage, u string, timeout time.Duration) (page, error) {
	if c == nil {
		return page{}, errors.New("http client 不能为空")
	}
	if timeout <= 0 {
		timeout = DefaultHopTimeout
	}

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return page{}, err
	}
	if a, ok := c.Transport.(admitter); ok {
		if err := a.Admit(ctx, req.URL.Host); err != nil {
			return page{}, &CallerDoneError{Err: err}
		}
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(hctx)

	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return page{}, &CallerDoneError{Err: ctx.Err()}
		}
		metrics.ObserveUpstream(string(stage), 0, err)
		return page{}, err
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(string(stage), resp.StatusCode, nil)

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		if ctx.Err() != nil {
			return page{}, &CallerDoneError{Err: ctx.Err()}
		}
		return page{}, err
	}

	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}

	if resp.StatusCode == http.StatusForbidden {
		return page{}, &BlockedError{URL: final.String(), StatusCode: resp.StatusCode, Reason: "forbidden"}
	}
	if isChallenge(b) {
		return page{}, &BlockedError{URL: final.String(), StatusCode: resp.StatusCode, Reason: "challenge"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return page{}, &HTTPStatusError{URL: final.String(), StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	return page{Body: b, URL: final}, nil
}

func isChallenge(b []byte) bool {
	head := b
	if len(head) > 16<<10 {
		head = head[:16<<10]
	}
	for _, m := range challengeMarkers {
		if bytes.Contains(head, m) {
			return true
		}
	}
	return false
}

// classify 把抓取阶段的底层错误归类为 domain.Error。
// 拦截单独归类为 Blocked；调用方 ctx 结束只标注阶段、不给 Kind；
// 其余网络/状态码/单跳超时统一为 UpstreamUnavailable。
func classify(stage domain.Stage, u string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var ce *CallerDoneError
	if errors.As(err, &ce) {
		return &domain.Error{Stage: stage, URL: u, Err: ce.Err}
	}
	var be *BlockedError
	if errors.As(err, &be) {
		return &domain.Error{Kind: domain.KindBlocked, Stage: stage, URL: be.URL, Err: err}
	}
	var se *HTTPStatusError
	if errors.As(err, &se) {
		return &domain.Error{Kind: domain.KindUpstreamUnavailable, Stage: stage, URL: se.URL, Err: err}
	}
	return &domain.Error{Kind: domain.KindUpstreamUnavailable, Stage: stage, URL: u, Err: err}
}
