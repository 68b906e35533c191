package app

import (
	"fmt"
	"net/http"

	"github.com/John-Robertt/BookFinder/internal/app/resolve"
	"github.com/John-Robertt/BookFinder/internal/config"
	"github.com/John-Robertt/BookFinder/internal/infra/httpx"
	"github.com/John-Robertt/BookFinder/internal/libgen"
)

// BuildPipeline 按最终配置装配解析流水线。
//
// 规则：
// - 配置了 MirrorBaseURL：固定镜像，不探测
// - 否则按 MirrorCandidates（为空时用内置列表）顺序探测
// - 所有阶段共用一个 client（共享连接池与按 host 限速）；cookie 按次隔离，见 resolve.Pipeline
// - 单跳时长只由各阶段的 ctx 截止时间决定：搜索/详情用 HTTPTimeout，探测用 ProbeTimeout
func BuildPipeline(eff config.EffectiveConfig) (*resolve.Pipeline, error) {
	c, err := httpx.NewClient(httpx.Options{
		ProxyURL:      eff.ProxyURL,
		RatePerSecond: eff.RatePerSecond,
		Burst:         eff.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("构造 http client 失败：%w", err)
	}
	return NewPipeline(eff, c)
}

// NewPipeline 与 BuildPipeline 相同，但使用调用方提供的 client（测试注入 httptest client）。
func NewPipeline(eff config.EffectiveConfig, c *http.Client) (*resolve.Pipeline, error) {
	dir, err := mirrorDirectory(eff, c)
	if err != nil {
		return nil, err
	}
	return &resolve.Pipeline{
		Mirrors:  dir,
		Searcher: libgen.HTMLSearcher{Client: c, Timeout: eff.HTTPTimeout},
		Matcher:  libgen.SubstringMatcher{},
		Resolver: libgen.HTMLResolver{Client: c, Timeout: eff.HTTPTimeout, Markers: eff.DownloadMarkers},
	}, nil
}

func mirrorDirectory(eff config.EffectiveConfig, c *http.Client) (libgen.MirrorDirectory, error) {
	if eff.MirrorBaseURL != "" {
		d, err := libgen.NewStaticDirectory(eff.MirrorBaseURL)
		if err != nil {
			return nil, fmt.Errorf("镜像地址无效：%w", err)
		}
		return d, nil
	}
	cands := eff.MirrorCandidates
	if len(cands) == 0 {
		cands = libgen.DefaultMirrors
	}
	d, err := libgen.NewProbeDirectory(cands, c, eff.ProbeTimeout)
	if err != nil {
		return nil, fmt.Errorf("候选镜像无效：%w", err)
	}
	return d, nil
}
