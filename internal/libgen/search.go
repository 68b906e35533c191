package libgen

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/John-Robertt/BookFinder/internal/domain"
	"github.com/John-Robertt/BookFinder/internal/isbn"
)

const defaultResults = 25

// Query 是发给站点的搜索条件。
type Query struct {
	Text string
	Mode domain.SearchMode
}

// QueryFor 按固定策略构造查询：
// - 只有 ISBN（无 title/author）：identifier 模式，查询词为 ISBN 本身（精确键，不掺自由文本）
// - 其他情况：def 模式，按 isbn、title、author 的顺序用单个空格拼接已提供的字段
func QueryFor(req domain.ResolutionRequest) Query {
	id := isbn.Clean(req.ISBN)
	if id != "" && req.Title == "" && req.Author == "" {
		return Query{Text: id, Mode: domain.SearchModeIdentifier}
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{id, req.Title, req.Author} {
		if p = normSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return Query{Text: strings.Join(parts, " "), Mode: domain.SearchModeDefault}
}

// Searcher 查询镜像的搜索接口并把结果列表解析为候选。
// 返回顺序即站点的相关度顺序，不做重排。
type Searcher interface {
	Search(ctx context.Context, m domain.Mirror, req domain.ResolutionRequest) ([]domain.Candidate, error)
}

// HTMLSearcher 通过 search.php 的 simple 视图（HTML 表格）搜索。
type HTMLSearcher struct {
	Client  *http.Client
	Timeout time.Duration
	// Results 是每页结果数（站点只接受 25/50/100）；<=0 使用 25。
	Results int
}

// SearchURL 返回镜像上的搜索地址。
func (s HTMLSearcher) SearchURL(m domain.Mirror, q Query) (string, error) {
	base, err := m.Resolve("search.php")
	if err != nil {
		return "", err
	}
	res := s.Results
	if res <= 0 {
		res = defaultResults
	}
	v := url.Values{}
	v.Set("req", q.Text)
	v.Set("column", string(q.Mode))
	v.Set("res", strconv.Itoa(res))
	v.Set("view", "simple")
	v.Set("open", "0")
	v.Set("phrase", "1")
	return base + "?" + v.Encode(), nil
}

func (s HTMLSearcher) Search(ctx context.Context, m domain.Mirror, req domain.ResolutionRequest) ([]domain.Candidate, error) {
	q := QueryFor(req)
	if q.Text == "" {
		return nil, &domain.Error{Kind: domain.KindInvalidRequest, Stage: domain.StageSearch, Err: errors.New("查询词为空")}
	}
	u, err := s.SearchURL(m, q)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindUpstreamUnavailable, Stage: domain.StageSearch, Err: err}
	}

	p, err := fetchPage(ctx, s.Client, domain.StageSearch, u, s.Timeout)
	if err != nil {
		return nil, classify(domain.StageSearch, u, err)
	}

	cands, err := ParseListing(p.Body, p.URL)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindParseError, Stage: domain.StageSearch, URL: p.URL.String(), Err: err}
	}
	return cands, nil
}

// “N files found” 计数；表格缺失但有该标记时视为合法的空结果页。
var filesFoundRE = regexp.MustCompile(`(?i)\b\d[\d,\s]*\s*files?\s+found\b`)

var md5RE = regexp.MustCompile(`(?i)md5[=/]([0-9a-f]{32})`)

// 站点固定的列位置（header 识别失败时的回退）：ID | Author(s) | Title | ...
const (
	defaultAuthorCol = 1
	defaultTitleCol  = 2
)

// ParseListing 把搜索结果页 HTML 解析为候选列表（纯函数）。
//
// 规则：
// - 结果表是 table.c；首行是表头，按表头文字定位 author/title 列
// - 一行至少要有 author、title 两列，且 title 所在行能找到指向详情页（md5）的链接，否则跳过
// - 表格只有表头，或没有表格但有 “files found” 计数 => 空列表，不是错误
// - 既没有表格也没有计数 => 页面结构无法识别，返回错误
//
// pageURL 为 nil 时，详情页地址保留站点给出的原始（可能是相对的）href。
func ParseListing(html []byte, pageURL *url.URL) ([]domain.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}

	table := doc.Find("table.c").First()
	if table.Length() == 0 {
		if filesFoundRE.MatchString(doc.Text()) {
			return []domain.Candidate{}, nil
		}
		return nil, errors.New("未找到结果表格（疑似页面结构变化或返回了非搜索页）")
	}

	rows := table.Find("tr")
	if rows.Length() == 0 {
		return []domain.Candidate{}, nil
	}
	authorCol, titleCol := columnIndex(rows.First())

	out := make([]domain.Candidate, 0, rows.Length())
	rows.Slice(1, goquery.ToEnd).Each(func(_ int, tr *goquery.Selection) {
		cells := tr.ChildrenFiltered("td")
		if cells.Length() <= authorCol || cells.Length() <= titleCol {
			return
		}
		titleCell := cells.Eq(titleCol)
		link := detailLink(titleCell)
		if link == nil {
			// 个别视图把链接放在其它列：退回整行查找。
			link = detailLink(tr)
		}
		if link == nil {
			return
		}
		href, _ := link.Attr("href")

		detailURL := strings.TrimSpace(href)
		if pageURL != nil {
			if abs, err := resolveURL(pageURL, href); err == nil {
				detailURL = abs
			}
		}

		md5 := ""
		if m := md5RE.FindStringSubmatch(href); len(m) == 2 {
			md5 = strings.ToLower(m[1])
		}

		out = append(out, domain.Candidate{
			Title:         linkTitle(link, titleCell),
			Author:        normSpace(cells.Eq(authorCol).Text()),
			MD5:           md5,
			ISBNs:         isbn.Extract(link.Find("font").Text()),
			DetailPageURL: detailURL,
		})
	})
	return out, nil
}

func columnIndex(header *goquery.Selection) (authorCol, titleCol int) {
	authorCol, titleCol = -1, -1
	header.ChildrenFiltered("td, th").Each(func(i int, s *goquery.Selection) {
		h := strings.ToLower(normSpace(s.Text()))
		switch {
		case authorCol < 0 && strings.HasPrefix(h, "author"):
			authorCol = i
		case titleCol < 0 && strings.HasPrefix(h, "title"):
			titleCol = i
		}
	})
	if authorCol < 0 {
		authorCol = defaultAuthorCol
	}
	if titleCol < 0 {
		titleCol = defaultTitleCol
	}
	return authorCol, titleCol
}

// detailLink 返回 sel 内第一个指向详情页（带 md5）的链接。
func detailLink(sel *goquery.Selection) *goquery.Selection {
	var found *goquery.Selection
	sel.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if md5RE.MatchString(href) {
			found = a
			return false
		}
		return true
	})
	return found
}

// linkTitle 取链接文字作为标题；站点会在链接内用 <font> 附加 ISBN/版本信息，需剔除。
func linkTitle(link, cell *goquery.Selection) string {
	c := link.Clone()
	c.Find("font").Remove()
	title := normSpace(c.Text())
	if title == "" {
		title = normSpace(cell.Text())
	}
	return title
}
