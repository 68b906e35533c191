package libgen

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-Robertt/BookFinder/internal/domain"
)

func TestStaticDirectory_NoNetwork(t *testing.T) {
	d, err := NewStaticDirectory("https://libgen.is/")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	m, err := d.CurrentMirror(context.Background())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if m.String() != "https://libgen.is" {
		t.Fatalf("镜像不符合预期：%q", m)
	}
}

func TestStaticDirectory_ZeroIsUnavailable(t *testing.T) {
	_, err := StaticDirectory{}.CurrentMirror(context.Background())
	if domain.KindOf(err) != domain.KindMirrorUnavailable {
		t.Fatalf("期望 MirrorUnavailable，实际 err=%v", err)
	}
}

func TestProbeDirectory_FirstHealthyInOrder(t *testing.T) {
	var downHits, upHits int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&downHits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&upHits, 1)
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer up.Close()
	spare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("已找到可用镜像后不应继续探测")
	}))
	defer spare.Close()

	d, err := NewProbeDirectory([]string{down.URL, up.URL, spare.URL}, &http.Client{}, time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	m, err := d.CurrentMirror(context.Background())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	want, _ := domain.ParseMirror(up.URL)
	if !m.SameOrigin(want) {
		t.Fatalf("期望 %s，实际 %s", want, m)
	}
	if downHits != 1 || upHits != 1 {
		t.Fatalf("每个候选最多探测一次：down=%d up=%d", downHits, upHits)
	}
}

func TestProbeDirectory_AllDownIsMirrorUnavailable(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer down.Close()
	closed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	d, err := NewProbeDirectory([]string{down.URL, closedURL}, &http.Client{}, time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	_, err = d.CurrentMirror(context.Background())
	if domain.KindOf(err) != domain.KindMirrorUnavailable {
		t.Fatalf("期望 MirrorUnavailable，实际 err=%v", err)
	}
	if domain.StageOf(err) != domain.StageMirror {
		t.Fatalf("期望 stage=mirror，实际 %q", domain.StageOf(err))
	}
}

func TestNewProbeDirectory_Invalid(t *testing.T) {
	if _, err := NewProbeDirectory(nil, &http.Client{}, time.Second); err == nil {
		t.Fatalf("空候选列表应报错")
	}
	if _, err := NewProbeDirectory([]string{"libgen.is"}, &http.Client{}, time.Second); err == nil {
		t.Fatalf("缺少 scheme 的候选应报错")
	}
}

func TestPin(t *testing.T) {
	d, err := NewProbeDirectory([]string{"https://libgen.is", "https://libgen.rs"}, &http.Client{}, time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}

	pinned, err := Pin(d, "https://LIBGEN.rs/")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	m, err := pinned.CurrentMirror(context.Background())
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if m.String() != "https://libgen.rs" {
		t.Fatalf("期望固定到 libgen.rs，实际 %s", m)
	}

	if _, err := Pin(d, "https://evil.example"); domain.KindOf(err) != domain.KindInvalidRequest {
		t.Fatalf("未知镜像应返回 InvalidRequest，实际 err=%v", err)
	}
}

func TestProbeDirectory_CallerCancelIsNotMirrorUnavailable(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewProbeDirectory([]string{srv.URL}, srv.Client(), time.Second)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.CurrentMirror(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	if k := domain.KindOf(err); k != "" {
		t.Fatalf("调用方取消不应归类为 %s", k)
	}
	if domain.StageOf(err) != domain.StageMirror {
		t.Fatalf("应标注 mirror 阶段，实际 %q", domain.StageOf(err))
	}
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("取消后不应再探测，实际请求 %d 次", got)
	}
}
