package httpx

import (
	"context"
	"net/http"
	"net/http/cookiejar"

	"golang.org/x/net/publicsuffix"
)

type sessionKey struct{}

// WithSession 返回带独立 cookie jar 的 ctx。
// 同一会话内搜索页设置的 cookie 会带到详情页；会话结束即丢弃。
func WithSession(ctx context.Context) context.Context {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New 目前不会返回错误；真出错时退化为无 cookie。
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, http.CookieJar(jar))
}

func sessionJar(ctx context.Context) http.CookieJar {
	jar, _ := ctx.Value(sessionKey{}).(http.CookieJar)
	return jar
}
