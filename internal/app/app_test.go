package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/BookFinder/internal/config"
	"github.com/John-Robertt/BookFinder/internal/domain"
	"github.com/John-Robertt/BookFinder/internal/libgen"
)

func TestBuildPipeline_StaticMirrorWhenBaseURLSet(t *testing.T) {
	p, err := BuildPipeline(config.EffectiveConfig{
		MirrorBaseURL: "https://libgen.rs",
		HTTPTimeout:   time.Second,
		RatePerSecond: 1,
		Burst:         2,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	d, ok := p.Mirrors.(libgen.StaticDirectory)
	if !ok {
		t.Fatalf("配置了 base_url 时应使用固定镜像，实际 %T", p.Mirrors)
	}
	if d.Mirror.String() != "https://libgen.rs" {
		t.Fatalf("镜像不符合预期：%s", d.Mirror)
	}
}

func TestBuildPipeline_ProbeDefaults(t *testing.T) {
	p, err := BuildPipeline(config.EffectiveConfig{HTTPTimeout: time.Second})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	d, ok := p.Mirrors.(*libgen.ProbeDirectory)
	if !ok {
		t.Fatalf("未配置 base_url 时应探测镜像，实际 %T", p.Mirrors)
	}
	if len(d.Candidates) != len(libgen.DefaultMirrors) {
		t.Fatalf("应使用内置候选列表，实际 %d 个", len(d.Candidates))
	}
}

func TestBuildPipeline_InvalidProxy(t *testing.T) {
	if _, err := BuildPipeline(config.EffectiveConfig{ProxyURL: "127.0.0.1:7890"}); err == nil {
		t.Fatalf("代理地址缺少 scheme 时应报错")
	}
}

func TestNewPipeline_UsesConfiguredMarkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search.php":
			_, _ = w.Write([]byte(`<table class=c><tr><td>ID</td><td>Author</td><td>Title</td></tr>` +
				`<tr><td>1</td><td>Frank Herbert</td><td><a href="/book/index.php?md5=33333333333333333333333333333333">Dune</a></td></tr></table>`))
		case "/book/index.php":
			_, _ = w.Write([]byte(`<a href="/get.php?md5=33333333333333333333333333333333">get</a><a href="/main/33333333333333333333333333333333">main</a>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, err := NewPipeline(config.EffectiveConfig{
		MirrorBaseURL:   srv.URL,
		HTTPTimeout:     time.Second,
		DownloadMarkers: []string{"/main/"},
	}, srv.Client())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	got, err := p.Resolve(context.Background(), domain.ResolutionRequest{Title: "Dune"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got.URL != srv.URL+"/main/33333333333333333333333333333333" {
		t.Fatalf("应按配置的 marker 选择链接，实际 %q", got.URL)
	}
}

// bookMirror 返回一个健康的假镜像：搜索结果标题即查询词，详情页给出 get.php 链接。
// onSearch/onDetail 可为空，用于观察请求。
func bookMirror(t *testing.T, onSearch, onDetail func(r *http.Request, w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search.php":
			if onSearch != nil {
				onSearch(r, w)
			}
			title := r.URL.Query().Get("req")
			fmt.Fprintf(w, `<table class=c><tr><td>ID</td><td>Author</td><td>Title</td></tr>`+
				`<tr><td>1</td><td>Someone</td><td><a href="/book/index.php?md5=44444444444444444444444444444444&t=%s">%s</a></td></tr></table>`, title, title)
		case "/book/index.php":
			if onDetail != nil {
				onDetail(r, w)
			}
			_, _ = w.Write([]byte(`<a href="/get.php?md5=44444444444444444444444444444444">get</a>`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBuildPipeline_ConcurrentResolutionsWaitForThrottle(t *testing.T) {
	srv := bookMirror(t, nil, nil)

	// 6 次解析共 12 跳，5/s 的额度要排队两秒多，远超单跳 300ms。
	p, err := BuildPipeline(config.EffectiveConfig{
		MirrorBaseURL: srv.URL,
		HTTPTimeout:   300 * time.Millisecond,
		RatePerSecond: 5,
		Burst:         1,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Resolve(context.Background(), domain.ResolutionRequest{Title: "Dune"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("第 %d 次解析不应失败（排队等待不是上游故障）：%v", i, err)
		}
	}
}

func TestBuildPipeline_ThrottleWaitEndsWithCaller(t *testing.T) {
	srv := bookMirror(t, nil, nil)

	p, err := BuildPipeline(config.EffectiveConfig{
		MirrorBaseURL: srv.URL,
		HTTPTimeout:   time.Second,
		RatePerSecond: 0.01,
		Burst:         1,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	// 首个令牌被搜索页用掉，详情页只能等到调用方超时。
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.Resolve(ctx, domain.ResolutionRequest{Title: "Dune"})
	if err == nil {
		t.Fatalf("期望调用方超时")
	}
	if k := domain.KindOf(err); k != "" {
		t.Fatalf("调用方超时不应归类为 %s：%v", k, err)
	}
	if domain.StageOf(err) != domain.StageDownload {
		t.Fatalf("应停在 download 阶段，实际 %q", domain.StageOf(err))
	}
}

func TestBuildPipeline_CookiesStayWithinOneResolution(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	record := func(where string, r *http.Request) {
		v := "-"
		if ck, err := r.Cookie("lgsess"); err == nil {
			v = ck.Value
		}
		mu.Lock()
		seen = append(seen, where+":"+v)
		mu.Unlock()
	}
	srv := bookMirror(t,
		func(r *http.Request, w http.ResponseWriter) {
			record("search", r)
			http.SetCookie(w, &http.Cookie{Name: "lgsess", Value: "session-of-" + r.URL.Query().Get("req"), Path: "/"})
		},
		func(r *http.Request, _ http.ResponseWriter) { record("detail", r) },
	)

	p, err := BuildPipeline(config.EffectiveConfig{MirrorBaseURL: srv.URL, HTTPTimeout: time.Second})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	for _, title := range []string{"Dune", "Emma"} {
		if _, err := p.Resolve(context.Background(), domain.ResolutionRequest{Title: title}); err != nil {
			t.Fatalf("解析 %s 失败：%v", title, err)
		}
	}

	want := []string{"search:-", "detail:session-of-Dune", "search:-", "detail:session-of-Emma"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("cookie 不应跨解析传递：\n实际 %v\n期望 %v", seen, want)
	}
}

func TestBuildPipeline_ProbeTimeoutNotCappedByHTTPTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer slow.Close()

	p, err := BuildPipeline(config.EffectiveConfig{
		MirrorCandidates: []string{slow.URL},
		HTTPTimeout:      100 * time.Millisecond,
		ProbeTimeout:     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	m, err := p.Mirrors.CurrentMirror(context.Background())
	if err != nil {
		t.Fatalf("探测应按 probe_timeout 计时，不受 http.timeout 限制：%v", err)
	}
	if m.String() != slow.URL {
		t.Fatalf("镜像不符合预期：%s", m)
	}
}
