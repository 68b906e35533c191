package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestNewClient_ProxyDisablesKeepAlive(t *testing.T) {
	c, err := NewClient(Options{ProxyURL: "http://127.0.0.1:8080"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr, ok := c.Transport.(*Transport)
	if !ok {
		t.Fatalf("期望 *Transport，实际 %T", c.Transport)
	}
	if tr.Base.Proxy == nil {
		t.Fatalf("期望启用代理，但 Proxy=nil")
	}
	if !tr.Base.DisableKeepAlives {
		t.Fatalf("期望禁用 keep-alive，但 Base.DisableKeepAlives=false")
	}
	if !tr.DisableKeepAlives {
		t.Fatalf("期望设置 Request.Close=true 的额外保险，但 DisableKeepAlives=false")
	}
}

func TestNewClient_DefaultsWithoutProxy(t *testing.T) {
	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	tr := c.Transport.(*Transport)
	if tr.Base.Proxy != nil {
		t.Fatalf("不期望启用代理，但 Proxy!=nil")
	}
	if tr.Base.DisableKeepAlives {
		t.Fatalf("不期望禁用 keep-alive，但 Base.DisableKeepAlives=true")
	}
	if tr.Limiter != nil {
		t.Fatalf("RatePerSecond=0 时不应限速")
	}
	if c.Timeout != 0 {
		t.Fatalf("单跳时长由调用方 ctx 决定，client 不应设 Timeout，实际 %v", c.Timeout)
	}
	if c.Jar != nil {
		t.Fatalf("cookie 只应存在于会话 ctx 中，client 不应带 Jar")
	}
	if err := tr.Admit(context.Background(), "libgen.rs"); err != nil {
		t.Fatalf("未限速时 Admit 应立即返回：%v", err)
	}
}

func TestNewClient_InvalidProxyURL(t *testing.T) {
	for _, p := range []string{"http://[::1", "127.0.0.1:8080"} {
		if _, err := NewClient(Options{ProxyURL: p}); err == nil {
			t.Fatalf("期望错误：%q", p)
		}
	}
}

func TestTransport_NoRetryOnConnectionError(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("ResponseWriter 不支持 Hijack")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("Hijack 失败：%v", err)
			return
		}
		_ = conn.Close()
	}))
	defer srv.Close()

	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	resp, err := c.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatalf("期望连接错误，但得到 nil")
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("不应重试：期望 1 次请求，实际 %d", got)
	}
}

func TestTransport_SetsUserAgentAndScopesCookiesToSession(t *testing.T) {
	var sawUA string
	var sawCookies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search.php":
			http.SetCookie(w, &http.Cookie{Name: "lg", Value: r.URL.Query().Get("s"), Path: "/"})
		case "/book/index.php":
			sawUA = r.UserAgent()
			v := "-"
			if ck, err := r.Cookie("lg"); err == nil {
				v = ck.Value
			}
			sawCookies = append(sawCookies, v)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	get := func(ctx context.Context, p string) {
		t.Helper()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+p, nil)
		if err != nil {
			t.Fatalf("构造请求失败：%v", err)
		}
		resp, err := c.Do(req)
		if err != nil {
			t.Fatalf("请求 %s 失败：%v", p, err)
		}
		resp.Body.Close()
	}

	a := WithSession(context.Background())
	get(a, "/search.php?s=a")
	get(a, "/book/index.php")

	b := WithSession(context.Background())
	get(b, "/book/index.php")

	// 没有会话时不带也不保存 cookie。
	get(context.Background(), "/search.php?s=none")
	get(context.Background(), "/book/index.php")

	if sawUA == "" || sawUA == "Go-http-client/1.1" {
		t.Fatalf("期望使用 UA 池中的 UA，实际 %q", sawUA)
	}
	if len(sawCookies) != 3 || sawCookies[0] != "a" || sawCookies[1] != "-" || sawCookies[2] != "-" {
		t.Fatalf("cookie 应只在同一会话内传递，实际 %v", sawCookies)
	}
}

func TestHostLimiter_PerHostBuckets(t *testing.T) {
	l := NewHostLimiter(rate.Every(time.Hour), 1)

	if err := l.Wait(context.Background(), "a.test"); err != nil {
		t.Fatalf("首个令牌不应阻塞：%v", err)
	}
	// 另一个 host 有独立额度。
	if err := l.Wait(context.Background(), "B.test"); err != nil {
		t.Fatalf("不同 host 不应共享额度：%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "A.TEST"); err == nil {
		t.Fatalf("同一 host（大小写不敏感）额度耗尽后应返回错误")
	}
}

func TestHostLimiter_WaitsPastShortDeadlines(t *testing.T) {
	l := NewHostLimiter(rate.Every(50*time.Millisecond), 1)
	if err := l.Wait(context.Background(), "a.test"); err != nil {
		t.Fatalf("首个令牌不应阻塞：%v", err)
	}

	// 截止时间比预计等待长时正常拿到令牌。
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := l.Wait(ctx, "a.test"); err != nil {
		t.Fatalf("应等到令牌：%v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("第二个令牌应排队等待")
	}
}

func TestHostLimiter_ReturnsContextError(t *testing.T) {
	l := NewHostLimiter(rate.Every(time.Hour), 1)
	_ = l.Wait(context.Background(), "a.test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx, "a.test"); !errors.Is(err, context.Canceled) {
		t.Fatalf("ctx 结束时应原样返回 ctx.Err()，实际 %v", err)
	}
}
