// Package action performs the side effect of a matched trigger rule: a notification
// request, an audible tone, or a chat message typed into the page.
package action

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/kick-chat-monitor/dom"
	"github.com/onnwee/kick-chat-monitor/relay"
	"github.com/onnwee/kick-chat-monitor/telemetry"
	"github.com/onnwee/kick-chat-monitor/triggers"
)

// NotificationTitle heads every notification raised by a rule.
const NotificationTitle = "Kick Chat Monitor"

var (
	errInputNotFound = errors.New("chat input not found")
	errNoAudio       = errors.New("no audio output")
)

// Notifier accepts notification requests without blocking. *relay.Relay satisfies it.
type Notifier interface {
	Send(req relay.Request) bool
}

// AudioOutput plays an encoded WAV clip.
type AudioOutput interface {
	Play(wav []byte) error
}

// Deps are the Executor's collaborators. Nil selector lists fall back to the defaults.
type Deps struct {
	Notifier       Notifier
	Audio          AudioOutput
	Scheduler      Scheduler
	Tone           Tone
	InputSelectors []string
	SendSelectors  []string
}

// Executor runs rule actions on the event loop.
type Executor struct {
	state *triggers.State
	doc   *dom.Document
	deps  Deps
	wav   []byte
	log   *slog.Logger
}

// NewExecutor returns an Executor acting on doc.
func NewExecutor(state *triggers.State, doc *dom.Document, deps Deps) *Executor {
	if deps.Tone.FrequencyHz <= 0 || deps.Tone.Duration <= 0 {
		deps.Tone = DefaultTone()
	}
	if len(deps.InputSelectors) == 0 {
		deps.InputSelectors = DefaultInputSelectors
	}
	if len(deps.SendSelectors) == 0 {
		deps.SendSelectors = DefaultSendSelectors
	}
	return &Executor{
		state: state,
		doc:   doc,
		deps:  deps,
		wav:   deps.Tone.WAV(),
		log:   slog.Default().With(slog.String("component", "action")),
	}
}

// Execute performs rule's action. The global toggle and the rule itself are checked again
// here, since a delayed action fires well after the match; a rule edited in the meantime
// runs as currently configured.
func (e *Executor) Execute(rule triggers.Rule) {
	action := string(rule.Action)
	if !e.state.Enabled() {
		telemetry.ActionsExecuted.WithLabelValues(action, "disabled").Inc()
		e.log.Debug("dropping action, monitor disabled", slog.String("rule", rule.Label()))
		return
	}
	live, ok := e.state.Lookup(rule.ID)
	if !ok || !live.IsEnabled() {
		telemetry.ActionsExecuted.WithLabelValues(action, "rule_disabled").Inc()
		e.log.Info("dropping action, rule disabled or removed since match",
			slog.String("rule", rule.Label()), slog.String("rule_id", rule.ID))
		return
	}
	rule = live
	action = string(rule.Action)

	_, span := telemetry.StartSpan(context.Background(), telemetry.TracerName, "action.execute",
		attribute.String("action", action),
		attribute.String("rule_id", rule.ID),
	)
	defer span.End()

	var err error
	telemetry.TimeFunc(telemetry.ActionDuration.WithLabelValues(action), func() {
		switch rule.Action {
		case triggers.ActionNotification:
			e.notify(rule)
		case triggers.ActionSound:
			err = e.playSound()
		case triggers.ActionChat:
			err = e.sendChat(rule.Message)
		}
	})
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.ActionsExecuted.WithLabelValues(action, "error").Inc()
		return
	}
	telemetry.SetSpanSuccess(span)
	telemetry.ActionsExecuted.WithLabelValues(action, "ok").Inc()
}

func (e *Executor) notify(rule triggers.Rule) {
	if e.deps.Notifier == nil {
		return
	}
	e.deps.Notifier.Send(relay.Request{
		Type:    relay.TypeNotification,
		Title:   NotificationTitle,
		Message: "Match found: " + rule.Label(),
	})
}

func (e *Executor) playSound() error {
	if e.deps.Audio == nil {
		e.log.Debug("no audio output attached")
		return errNoAudio
	}
	if err := e.deps.Audio.Play(e.wav); err != nil {
		e.log.Warn("failed to play tone", slog.Any("err", err))
		return err
	}
	return nil
}

func (e *Executor) sendChat(message string) error {
	in := ResolveChatInput(e.doc, e.deps.Scheduler, e.deps.InputSelectors, e.deps.SendSelectors)
	if in == nil {
		e.log.Error("chat input not found")
		return errInputNotFound
	}
	in.InsertText(message)
	in.Submit()
	return nil
}
