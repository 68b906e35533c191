package libgen

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/BookFinder/internal/domain"
)

// CandidateMatcher 从候选中选出一条。
type CandidateMatcher interface {
	Pick(cands []domain.Candidate, req domain.ResolutionRequest) (domain.Candidate, error)
}

// SubstringMatcher 实现“大小写不敏感的子串”接受策略。
//
// 约束：
// - 候选标题必须包含请求标题；请求带作者时，候选作者也必须包含请求作者
// - identifier 模式（只给 ISBN）的结果直接信任，不再校验标题/作者
// - 按站点相关度顺序取第一条可接受的候选，不做二次打分
type SubstringMatcher struct{}

func (SubstringMatcher) Pick(cands []domain.Candidate, req domain.ResolutionRequest) (domain.Candidate, error) {
	if len(cands) == 0 {
		return domain.Candidate{}, &domain.Error{Kind: domain.KindNoMatch, Stage: domain.StageMatch, Err: errors.New("搜索结果为空")}
	}

	if QueryFor(req).Mode == domain.SearchModeIdentifier {
		return cands[0], nil
	}

	title := fold(req.Title)
	author := fold(req.Author)
	for _, c := range cands {
		if !strings.Contains(fold(c.Title), title) {
			continue
		}
		if author != "" && !strings.Contains(fold(c.Author), author) {
			continue
		}
		return c, nil
	}
	return domain.Candidate{}, &domain.Error{
		Kind:  domain.KindNoMatch,
		Stage: domain.StageMatch,
		Err:   fmt.Errorf("%d 条候选均不匹配 title=%q author=%q", len(cands), req.Title, req.Author),
	}
}

// fold 做 Unicode 大小写折叠 + NFKC 兼容归一 + 空白折叠。
// cases.Caser 有状态，不能跨 goroutine 共享，因此每次新建。
func fold(s string) string {
	s = normSpace(s)
	if s == "" {
		return ""
	}
	return cases.Fold().String(norm.NFKC.String(s))
}
