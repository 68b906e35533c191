package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/BookFinder/internal/config"
	"github.com/John-Robertt/BookFinder/internal/domain"
)

// progressUI 是交互终端下的阶段进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr，不污染 stdout 的 JSON 输出契约
// - 事件驱动：resolve 层只发事件，CLI 决定如何展示
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{w: w}
}

// Start 打印生效配置，让用户第一时间知道用的是哪个镜像/代理。
func (p *progressUI) Start(eff config.EffectiveConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.startedAt = now

	fmt.Fprintf(p.w, "[%s] bookfinder resolve\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  mirror: %s\n", formatMirror(eff))
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  timeout: %s/跳\n", eff.HTTPTimeout)
	if eff.ConfigPath != "" {
		fmt.Fprintf(p.w, "  config: %s\n", eff.ConfigPath)
	}
	fmt.Fprintln(p.w)
}

func (p *progressUI) OnStage(stage domain.Stage, state domain.State, dur time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		fmt.Fprintf(p.w, "%-8s FAIL %s: %s (%s)\n",
			stage, kindLabel(err), truncate(err.Error(), 160), formatShortDuration(dur),
		)
		return
	}
	fmt.Fprintf(p.w, "%-8s OK   -> %s (%s)\n", stage, state, formatShortDuration(dur))
}

// kindLabel 没有分类的失败只可能是调用方结束（Ctrl-C）。
func kindLabel(err error) string {
	if k := domain.KindOf(err); k != "" {
		return string(k)
	}
	return "Canceled"
}

func formatMirror(eff config.EffectiveConfig) string {
	if eff.MirrorBaseURL != "" {
		return eff.MirrorBaseURL + " (固定)"
	}
	if len(eff.MirrorCandidates) == 0 {
		return "探测内置候选"
	}
	return "探测 " + strings.Join(eff.MirrorCandidates, ", ")
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
