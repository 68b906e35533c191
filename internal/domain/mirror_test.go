package domain

import "testing"

func TestParseMirror_DropsPathAndLowercases(t *testing.T) {
	m, err := ParseMirror("HTTPS://LibGen.IS/search.php?req=x")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if m.String() != "https://libgen.is" {
		t.Fatalf("期望 https://libgen.is，实际 %q", m.String())
	}
}

func TestParseMirror_Invalid(t *testing.T) {
	for _, s := range []string{"", "ftp://libgen.is", "libgen.is", "http://[::1"} {
		if _, err := ParseMirror(s); err == nil {
			t.Fatalf("期望错误：%q", s)
		}
	}
}

func TestMirror_Resolve(t *testing.T) {
	m, _ := ParseMirror("https://libgen.is")

	got, err := m.Resolve("book/index.php?md5=abc")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got != "https://libgen.is/book/index.php?md5=abc" {
		t.Fatalf("相对路径解析不符合预期：%q", got)
	}

	got, err = m.Resolve("https://other.example/x")
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if got != "https://other.example/x" {
		t.Fatalf("绝对地址应原样返回：%q", got)
	}
}

func TestMirror_SameOrigin(t *testing.T) {
	a, _ := ParseMirror("https://libgen.is")
	b, _ := ParseMirror("https://LIBGEN.is/")
	c, _ := ParseMirror("http://libgen.is")
	if !a.SameOrigin(b) {
		t.Fatalf("期望同源：%s vs %s", a, b)
	}
	if a.SameOrigin(c) {
		t.Fatalf("scheme 不同不应视为同源")
	}
}
