package dom

import (
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

var selectorCache sync.Map // string -> cascadia.Sel

// compile parses sel once and caches the result. Invalid selectors yield nil.
func compile(sel string) cascadia.Sel {
	if v, ok := selectorCache.Load(sel); ok {
		s, _ := v.(cascadia.Sel)
		return s
	}
	s, err := cascadia.Parse(sel)
	if err != nil {
		selectorCache.Store(sel, nil)
		return nil
	}
	selectorCache.Store(sel, s)
	return s
}

// ValidSelector reports whether sel parses.
func ValidSelector(sel string) bool { return compile(sel) != nil }

// Matches reports whether n is an element matching sel.
func Matches(n *html.Node, sel string) bool {
	s := compile(sel)
	return s != nil && n != nil && n.Type == html.ElementNode && s.Match(n)
}

// QueryFirst returns the first descendant of n matching sel, in document order.
func QueryFirst(n *html.Node, sel string) *html.Node {
	s := compile(sel)
	if s == nil || n == nil {
		return nil
	}
	return cascadia.Query(n, s)
}

// QueryAll returns every descendant of n matching sel, in document order.
func QueryAll(n *html.Node, sel string) []*html.Node {
	s := compile(sel)
	if s == nil || n == nil {
		return nil
	}
	return cascadia.QueryAll(n, s)
}

// Attr returns the value of attribute key on n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

// TextContent concatenates the text of every descendant text node of n, skipping
// script and style contents.
func TextContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			b.WriteString(c.Data)
			return
		case html.ElementNode:
			if c.Data == "script" || c.Data == "style" {
				return
			}
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}

// Contains reports whether n is ancestor or n itself of other.
func Contains(n, other *html.Node) bool {
	for c := other; c != nil; c = c.Parent {
		if c == n {
			return true
		}
	}
	return false
}

// Render serializes n and its subtree.
func Render(n *html.Node) string {
	var b strings.Builder
	_ = html.Render(&b, n)
	return b.String()
}
