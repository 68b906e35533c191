package isbn

import (
	"regexp"
	"strings"
)

// 允许的 ISBN 书写变体：ISBN-13（978/979 前缀）或 ISBN-10（末位可为 X），数字间可夹空格/连字符。
// 注意：这里只负责“找候选”，是否合法由校验位决定。
var candidateRE = regexp.MustCompile(`(?i)\b(?:97[89](?:[\s-]?[0-9]){10}|(?:[0-9][\s-]?){9}[0-9x])\b`)

var prefixRE = regexp.MustCompile(`(?i)^isbn(?:-1[03])?\s*:?\s*`)

// Normalize 把宽松输入（连字符、空格、"ISBN:" 前缀）规范化为纯数字形式（ISBN-10 末位 X 大写）。
// 长度或校验位不合法时返回 false。
func Normalize(s string) (string, bool) {
	s = prefixRE.ReplaceAllString(strings.TrimSpace(s), "")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == 'x' || r == 'X':
			b.WriteRune('X')
		case r == '-' || r == ' ' || r == '\t':
			// 分隔符
		default:
			return "", false
		}
	}
	out := b.String()
	switch len(out) {
	case 10:
		if valid10(out) {
			return out, true
		}
	case 13:
		if valid13(out) {
			return out, true
		}
	}
	return "", false
}

// Clean 尽量规范化；不合法时只去掉首尾空白原样返回（不拒绝请求，交给站点判断）。
func Clean(s string) string {
	if n, ok := Normalize(s); ok {
		return n
	}
	return strings.TrimSpace(s)
}

// Extract 从一段自由文本中提取所有合法 ISBN（规范化、去重、保持出现顺序）。
func Extract(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	seen := map[string]struct{}{}
	for _, m := range candidateRE.FindAllString(s, -1) {
		n, ok := Normalize(m)
		if !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func valid10(s string) bool {
	sum := 0
	for i := 0; i < 10; i++ {
		c := s[i]
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c == 'X' && i == 9:
			d = 10
		default:
			return false
		}
		sum += (10 - i) * d
	}
	return sum%11 == 0
}

func valid13(s string) bool {
	sum := 0
	for i := 0; i < 13; i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return sum%10 == 0
}
