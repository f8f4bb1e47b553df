package chat

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/onnwee/kick-chat-monitor/dom"
)

// UnknownAuthor is used when an entry has no recognizable author element.
const UnknownAuthor = "Unknown"

// Message is one normalized chat entry.
type Message struct {
	Author string
	Text   string
}

// FindEntry returns n when it is itself a chat entry, else its first descendant entry.
func FindEntry(n *html.Node, sel Selectors) *html.Node {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	if dom.Matches(n, sel.Entry) {
		return n
	}
	return dom.QueryFirst(n, sel.Entry)
}

// Normalize flattens a chat entry into (author, text). Emotes rendered as markup with no
// text contribute their names and images their alt text, so emote-only messages still
// match. Whitespace runs collapse to one space.
func Normalize(entry *html.Node, sel Selectors) Message {
	var b strings.Builder
	b.WriteString(dom.TextContent(entry))
	for _, e := range dom.QueryAll(entry, "["+sel.EmoteAttr+"]") {
		if name := dom.Attr(e, sel.EmoteAttr); name != "" {
			b.WriteString(" ")
			b.WriteString(name)
		}
	}
	for _, img := range dom.QueryAll(entry, "img") {
		if alt := dom.Attr(img, "alt"); alt != "" {
			b.WriteString(" ")
			b.WriteString(alt)
		}
	}
	return Message{
		Author: authorOf(entry, sel),
		Text:   strings.Join(strings.Fields(b.String()), " "),
	}
}

func authorOf(entry *html.Node, sel Selectors) string {
	for _, s := range sel.Author {
		if n := dom.QueryFirst(entry, s); n != nil {
			return strings.TrimSpace(dom.TextContent(n))
		}
	}
	return UnknownAuthor
}
