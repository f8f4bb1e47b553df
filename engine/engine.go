// Package engine evaluates normalized chat messages against the trigger rules and hands
// matching rules to the action executor, immediately or after the rule's delay.
package engine

import (
	"log/slog"
	"strings"
	"time"

	"github.com/onnwee/kick-chat-monitor/telemetry"
	"github.com/onnwee/kick-chat-monitor/triggers"
)

// Executor performs a matched rule's action.
type Executor interface {
	Execute(rule triggers.Rule)
}

// Scheduler runs fn once d has elapsed. *loop.Loop satisfies it.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

// Engine is the matching engine. It is driven from the event loop and keeps no state of
// its own beyond the shared configuration.
type Engine struct {
	state *triggers.State
	exec  Executor
	sched Scheduler
	log   *slog.Logger
}

// New returns an Engine reading rules and the global toggle from state.
func New(state *triggers.State, exec Executor, sched Scheduler) *Engine {
	return &Engine{
		state: state,
		exec:  exec,
		sched: sched,
		log:   slog.Default().With(slog.String("component", "engine")),
	}
}

// Process evaluates every enabled rule in stored order. Each match fires independently;
// several rules may fire for one message.
func (e *Engine) Process(author, text string) {
	if text == "" || !e.state.Enabled() {
		return
	}
	telemetry.MessagesProcessed.Inc()
	for _, rule := range e.state.Rules() {
		if !Match(rule, author, text) {
			continue
		}
		telemetry.RuleMatches.WithLabelValues(string(rule.Action)).Inc()
		e.log.Debug("rule matched",
			slog.String("rule", rule.Label()),
			slog.String("action", string(rule.Action)),
			slog.String("author", author),
			slog.Int("delay_ms", rule.Delay))
		if rule.Delay > 0 {
			r := rule
			telemetry.DelayedActions.Inc()
			e.sched.AfterFunc(time.Duration(r.Delay)*time.Millisecond, func() { e.exec.Execute(r) })
			continue
		}
		e.exec.Execute(rule)
	}
}

// Match reports whether rule fires for the message. Author comparison ignores case; the
// keyword comparison does not. An empty keyword never matches.
func Match(rule triggers.Rule, author, text string) bool {
	if !rule.IsEnabled() || rule.Keyword == "" {
		return false
	}
	if rule.UserType == triggers.UserSpecific && !strings.EqualFold(author, rule.Username) {
		return false
	}
	if rule.Condition == triggers.ConditionExact {
		return text == rule.Keyword
	}
	return strings.Contains(text, rule.Keyword)
}
