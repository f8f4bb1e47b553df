package action

import (
	"time"

	"golang.org/x/net/html"

	"github.com/onnwee/kick-chat-monitor/dom"
)

// submitDelay gives the page's editor time to register inserted text before the send
// button is clicked.
const submitDelay = 100 * time.Millisecond

// DefaultInputSelectors locate the chat input, most specific first.
var DefaultInputSelectors = []string{`#message-input .ProseMirror`, `[contenteditable="true"]`}

// DefaultSendSelectors locate the send button, most specific first.
var DefaultSendSelectors = []string{`button[type="submit"]`, `button[aria-label="Send message"]`}

// ChatInputAdapter posts a message through the page's chat input.
type ChatInputAdapter interface {
	InsertText(text string) bool
	Submit()
}

// Scheduler runs fn once d has elapsed. *loop.Loop satisfies it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

func queryFirst(doc *dom.Document, selectors []string) *html.Node {
	for _, sel := range selectors {
		if n := doc.QuerySelector(sel); n != nil {
			return n
		}
	}
	return nil
}

// ResolveChatInput finds the chat input and picks a submit strategy: a button click when a
// send button exists, otherwise an Enter keydown on the input. It returns nil when there
// is no input on the page.
func ResolveChatInput(doc *dom.Document, sched Scheduler, inputSelectors, sendSelectors []string) ChatInputAdapter {
	input := queryFirst(doc, inputSelectors)
	if input == nil {
		return nil
	}
	if btn := queryFirst(doc, sendSelectors); btn != nil {
		return &buttonSubmit{doc: doc, input: input, button: btn, sched: sched}
	}
	return &keySubmit{doc: doc, input: input}
}

func insertInto(doc *dom.Document, input *html.Node, text string) bool {
	doc.Focus(input)
	return doc.InsertText(text)
}

type buttonSubmit struct {
	doc    *dom.Document
	input  *html.Node
	button *html.Node
	sched  Scheduler
}

func (b *buttonSubmit) InsertText(text string) bool { return insertInto(b.doc, b.input, text) }

func (b *buttonSubmit) Submit() {
	b.sched.AfterFunc(submitDelay, func() { b.doc.Click(b.button) })
}

type keySubmit struct {
	doc   *dom.Document
	input *html.Node
}

func (k *keySubmit) InsertText(text string) bool { return insertInto(k.doc, k.input, text) }

func (k *keySubmit) Submit() {
	k.doc.Dispatch(k.input, dom.Event{
		Type:       "keydown",
		Key:        "Enter",
		Code:       "Enter",
		KeyCode:    13,
		Bubbles:    true,
		Cancelable: true,
	})
}
