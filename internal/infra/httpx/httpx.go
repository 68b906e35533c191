package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultRatePerSecond = 1.0
	DefaultBurst         = 2
)

// Options 描述抓取镜像用的 HTTP client 策略。
type Options struct {
	// ProxyURL 非空时所有请求走代理，并禁用 keep-alive（代理池轮换依赖每请求新连接）。
	ProxyURL string
	// RatePerSecond 是每个 host 的令牌补充速率；<=0 表示不限速。
	RatePerSecond float64
	// Burst 是每个 host 的令牌桶容量；<=0 使用 DefaultBurst。
	Burst int
}

// Transport 把“UA 池 + 代理 + keep-alive 策略 + 按 host 限速 + 会话 cookie”固化为统一策略。
//
// 约束：
// - 不做任何重试
// - 限速不在 RoundTrip 里等待：调用方在单跳超时开始之前先调用 Admit
// - cookie 只在 WithSession 建立的会话内传递，会话之间互不可见
type Transport struct {
	Base *http.Transport

	ua      *uaPool
	Limiter *HostLimiter

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" && t.ua != nil {
		r.Header.Set("User-Agent", t.ua.random())
	}
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}
	if t.DisableKeepAlives {
		r.Close = true
	}

	jar := sessionJar(r.Context())
	if jar != nil {
		for _, c := range jar.Cookies(r.URL) {
			r.AddCookie(c)
		}
	}
	resp, err := t.Base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if jar != nil {
		if cs := resp.Cookies(); len(cs) > 0 {
			jar.SetCookies(r.URL, cs)
		}
	}
	return resp, nil
}

// Admit 等待 host 的限速令牌；未启用限速时立即返回。
// 只在 ctx 结束时失败，返回值就是 ctx.Err()。
func (t *Transport) Admit(ctx context.Context, host string) error {
	if t == nil || t.Limiter == nil {
		return ctx.Err()
	}
	return t.Limiter.Wait(ctx, host)
}

// NewClient 构造用于镜像页面抓取的 HTTP client。
//
// 规则：
// - proxyURL 非空：必须走代理，且禁用 keep-alive（每请求新连接）
// - 内置 UA 池：每个请求随机 UA
// - cookie 由 WithSession 按次隔离，client 本身不带 Jar
// - 按 host 限速（见 Transport.Admit）；不重试
// - 不设 client 级 Timeout：单跳时长只由调用方 ctx 的截止时间决定（搜索/详情与探测各有各的上限）
func NewClient(o Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 2,
	}

	disableKeepAlives := false
	if p := strings.TrimSpace(o.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("代理地址缺少 scheme 或 host：" + p)
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	tr := &Transport{
		Base:              base,
		ua:                globalUA,
		DisableKeepAlives: disableKeepAlives,
	}
	if o.RatePerSecond > 0 {
		burst := o.Burst
		if burst <= 0 {
			burst = DefaultBurst
		}
		tr.Limiter = NewHostLimiter(rate.Limit(o.RatePerSecond), burst)
	}

	return &http.Client{Transport: tr}, nil
}

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
