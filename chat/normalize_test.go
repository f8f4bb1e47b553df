package chat

import (
	"testing"

	"github.com/onnwee/kick-chat-monitor/dom"
)

func entry(t *testing.T, markup string) Message {
	t.Helper()
	nodes := dom.MustParse(markup)
	sel := DefaultSelectors()
	e := FindEntry(nodes[0], sel)
	if e == nil {
		t.Fatalf("no entry found in %s", markup)
	}
	return Normalize(e, sel)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		markup     string
		wantAuthor string
		wantText   string
	}{
		{
			name:       "text and emote",
			markup:     `<div class="break-words">Hello <span data-emote-name="Kappa"></span></div>`,
			wantAuthor: UnknownAuthor,
			wantText:   "Hello Kappa",
		},
		{
			name:       "image only",
			markup:     `<div class="break-words"><img src="x.png" alt="PogU"></div>`,
			wantAuthor: UnknownAuthor,
			wantText:   "PogU",
		},
		{
			name:       "author button",
			markup:     `<div class="break-words"><button class="font-bold"> viewer1 </button>: join the   !giveaway now</div>`,
			wantAuthor: "viewer1",
			wantText:   "viewer1 : join the !giveaway now",
		},
		{
			name:       "username class fallback",
			markup:     `<div class="break-words"><span class="chat-entry-username">mod1</span> !ban</div>`,
			wantAuthor: "mod1",
			wantText:   "mod1 !ban",
		},
		{
			name:       "emotes then images in document order",
			markup:     `<div class="break-words">gg <img alt="LUL"><span data-emote-name="PogChamp"></span><img alt=""><span data-emote-name="EZ"></span></div>`,
			wantAuthor: UnknownAuthor,
			wantText:   "gg PogChamp EZ LUL",
		},
		{
			name:       "nested entry",
			markup:     `<div class="wrapper"><div class="break-words">  spaced
			out  </div></div>`,
			wantAuthor: UnknownAuthor,
			wantText:   "spaced out",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := entry(t, tt.markup)
			if m.Author != tt.wantAuthor {
				t.Errorf("author = %q, want %q", m.Author, tt.wantAuthor)
			}
			if m.Text != tt.wantText {
				t.Errorf("text = %q, want %q", m.Text, tt.wantText)
			}
		})
	}
}

func TestFindEntrySkipsNonEntries(t *testing.T) {
	nodes := dom.MustParse(`<div class="system-message">Welcome</div>`)
	if FindEntry(nodes[0], DefaultSelectors()) != nil {
		t.Fatal("expected no entry")
	}
	text := dom.MustParse(`plain text`)
	if FindEntry(text[0], DefaultSelectors()) != nil {
		t.Fatal("text node treated as entry")
	}
}
