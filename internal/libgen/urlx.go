package libgen

import (
	"fmt"
	"net/url"
	"strings"
)

// resolveURL 以 base 为基准把 href 解析为绝对地址。
// base 应当是“拿到该 href 的页面”的最终地址，而不是镜像根地址（页面可能已重定向到其它 host）。
func resolveURL(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", fmt.Errorf("href 为空")
	}
	ru, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ru.IsAbs() {
		return ru.String(), nil
	}
	if base == nil || !base.IsAbs() {
		return "", fmt.Errorf("无法解析相对地址 %q：缺少绝对 base", href)
	}
	return base.ResolveReference(ru).String(), nil
}

func normSpace(s string) string { return strings.Join(strings.Fields(s), " ") }
