package libgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/BookFinder/internal/domain"
)

// DefaultDownloadMarkers 是详情页上“文件下载脚本”链接的路径特征。
var DefaultDownloadMarkers = []string{"get.php", "download.php", "/get/"}

// DownloadResolver 把候选解析为最终可下载的文件地址。
type DownloadResolver interface {
	Resolve(ctx context.Context, m domain.Mirror, c domain.Candidate) (domain.ResolvedDownload, error)
}

// HTMLResolver 走“详情页 -> 下载链接”两跳：
// 1) 抓取候选的详情页（相对地址挂到镜像下）
// 2) 按文档顺序找第一个路径包含下载特征的链接
// 3) 相对链接以详情页的最终地址（跟随重定向后）为基准补全
//
// 约束：不能省掉详情页这一跳，搜索结果里的链接不是文件本身。
type HTMLResolver struct {
	Client  *http.Client
	Timeout time.Duration
	Markers []string
}

func (r HTMLResolver) Resolve(ctx context.Context, m domain.Mirror, c domain.Candidate) (domain.ResolvedDownload, error) {
	if strings.TrimSpace(c.DetailPageURL) == "" {
		return domain.ResolvedDownload{}, &domain.Error{Kind: domain.KindLinkNotFound, Stage: domain.StageDownload, Err: errors.New("候选缺少详情页地址")}
	}
	detailURL, err := m.Resolve(c.DetailPageURL)
	if err != nil {
		return domain.ResolvedDownload{}, &domain.Error{Kind: domain.KindUpstreamUnavailable, Stage: domain.StageDownload, URL: c.DetailPageURL, Err: err}
	}

	p, err := fetchPage(ctx, r.Client, domain.StageDownload, detailURL, r.Timeout)
	if err != nil {
		return domain.ResolvedDownload{}, classify(domain.StageDownload, detailURL, err)
	}

	markers := r.Markers
	if len(markers) == 0 {
		markers = DefaultDownloadMarkers
	}
	href, err := FindDownloadHref(p.Body, markers)
	if err != nil {
		return domain.ResolvedDownload{}, &domain.Error{Kind: domain.KindLinkNotFound, Stage: domain.StageDownload, URL: p.URL.String(), Err: err}
	}

	abs, err := resolveURL(p.URL, href)
	if err != nil {
		return domain.ResolvedDownload{}, &domain.Error{Kind: domain.KindLinkNotFound, Stage: domain.StageDownload, URL: p.URL.String(), Err: err}
	}
	return domain.ResolvedDownload{URL: abs}, nil
}

// FindDownloadHref 返回页面中第一个路径包含任一 marker 的链接 href（纯函数）。
func FindDownloadHref(html []byte, markers []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}

	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		h, _ := a.Attr("href")
		if hasMarker(h, markers) {
			href = strings.TrimSpace(h)
			return false
		}
		return true
	})
	if href == "" {
		return "", fmt.Errorf("详情页中未找到下载链接（markers=%s）", strings.Join(markers, ","))
	}
	return href, nil
}

func hasMarker(href string, markers []string) bool {
	href = strings.TrimSpace(href)
	if href == "" {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		// javascript:/mailto:/magnet: 之类
		return false
	}
	p := strings.ToLower(u.Path)
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(p, m) {
			return true
		}
	}
	return false
}
