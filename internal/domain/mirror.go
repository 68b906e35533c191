package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// Mirror 是书目站点某个可用实例的根地址（scheme + host）。
// 搜索页与详情页都以相对路径挂在它下面。
type Mirror struct {
	Base *url.URL
}

// ParseMirror 校验并规范化镜像地址：必须是 http/https，且带 host；路径/查询一律丢弃。
func ParseMirror(s string) (Mirror, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Mirror{}, fmt.Errorf("镜像地址不能为空")
	}
	u, err := url.Parse(s)
	if err != nil {
		return Mirror{}, fmt.Errorf("镜像地址无效：%q：%w", s, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Mirror{}, fmt.Errorf("镜像地址必须是 http/https：%q", s)
	}
	if u.Host == "" {
		return Mirror{}, fmt.Errorf("镜像地址缺少 host：%q", s)
	}
	return Mirror{Base: &url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host), Path: "/"}}, nil
}

func (m Mirror) String() string {
	if m.Base == nil {
		return ""
	}
	return m.Base.Scheme + "://" + m.Base.Host
}

func (m Mirror) IsZero() bool { return m.Base == nil }

// SameOrigin 判断两个镜像是否指向同一 scheme + host。
func (m Mirror) SameOrigin(o Mirror) bool {
	if m.Base == nil || o.Base == nil {
		return false
	}
	return m.Base.Scheme == o.Base.Scheme && m.Base.Host == o.Base.Host
}

// Resolve 把 ref 解析为绝对 URL：ref 已是绝对地址时原样返回，否则挂到镜像根下。
func (m Mirror) Resolve(ref string) (string, error) {
	if m.Base == nil {
		return "", fmt.Errorf("镜像未初始化")
	}
	ref = strings.TrimSpace(ref)
	ru, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return m.Base.ResolveReference(ru).String(), nil
}
