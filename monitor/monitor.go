// Package monitor wires the chat observer, matching engine and action executor around one
// configuration state, and keeps that state in step with the config store.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/kick-chat-monitor/action"
	"github.com/onnwee/kick-chat-monitor/chat"
	"github.com/onnwee/kick-chat-monitor/db"
	"github.com/onnwee/kick-chat-monitor/dom"
	"github.com/onnwee/kick-chat-monitor/engine"
	"github.com/onnwee/kick-chat-monitor/loop"
	"github.com/onnwee/kick-chat-monitor/telemetry"
	"github.com/onnwee/kick-chat-monitor/triggers"
)

// Options configures the monitoring core.
type Options struct {
	Selectors      chat.Selectors
	HealthInterval time.Duration
	// Actions are the executor's collaborators. Scheduler is always the monitor's loop.
	Actions action.Deps
}

// Status is a point-in-time view of the core.
type Status struct {
	Enabled  bool   `json:"enabled"`
	Rules    int    `json:"rules"`
	Attached string `json:"attached"`
	Running  bool   `json:"running"`
}

// Monitor owns the runtime state and its consumers.
type Monitor struct {
	store    db.ConfigStore
	loop     *loop.Loop
	state    *triggers.State
	observer *chat.Observer
	engine   *engine.Engine
	exec     *action.Executor
	log      *slog.Logger
}

// New builds the core on doc. Nothing observes until Run.
func New(store db.ConfigStore, doc *dom.Document, l *loop.Loop, opts Options) *Monitor {
	state := triggers.NewState(triggers.DefaultConfig())
	deps := opts.Actions
	deps.Scheduler = l
	exec := action.NewExecutor(state, doc, deps)
	eng := engine.New(state, exec, l)
	obs := chat.NewObserver(doc, l, state, eng, chat.Options{Selectors: opts.Selectors, HealthInterval: opts.HealthInterval})
	state.OnEnabledChange(telemetry.SetEnabled)
	return &Monitor{
		store:    store,
		loop:     l,
		state:    state,
		observer: obs,
		engine:   eng,
		exec:     exec,
		log:      slog.Default().With(slog.String("component", "monitor")),
	}
}

// State exposes the live configuration.
func (m *Monitor) State() *triggers.State { return m.state }

// Run loads the stored configuration, starts observation and the periodic container
// check, then applies store changes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	changes, unsubscribe := m.store.Subscribe()
	defer unsubscribe()

	cfg, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var stopHealth func()
	if !m.loop.Do(func() {
		m.state.ApplyConfig(cfg)
		telemetry.SetEnabled(cfg.Enabled)
		telemetry.RulesLoaded.Set(float64(len(cfg.Rules)))
		if cfg.Enabled {
			m.observer.Start()
		}
		stopHealth = m.observer.Run()
	}) {
		return fmt.Errorf("event loop closed before start")
	}
	m.log.Info("monitor started", slog.Int("rules", len(cfg.Rules)), slog.Bool("enabled", cfg.Enabled))

	defer m.loop.Post(func() {
		stopHealth()
		m.observer.Stop()
	})

	for {
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			m.loop.Post(func() { m.apply(c) })
		}
	}
}

// apply runs on the loop.
func (m *Monitor) apply(c db.Change) {
	switch c.Key {
	case db.KeyTriggers:
		rules, err := c.Triggers()
		if err == nil {
			rules, err = triggers.PrepareRules(rules)
		}
		if err != nil {
			m.log.Warn("ignoring invalid triggers change", slog.Any("err", err))
			return
		}
		m.state.ApplyRules(rules)
		telemetry.RulesLoaded.Set(float64(len(rules)))
		m.log.Info("triggers updated", slog.Int("rules", len(rules)))
	case db.KeyEnabled:
		on, err := c.Enabled()
		if err != nil {
			m.log.Warn("ignoring invalid enabled change", slog.Any("err", err))
			return
		}
		m.state.ApplyEnabled(on)
		m.log.Info("monitor toggled", slog.Bool("enabled", on))
	default:
		m.log.Debug("ignoring change", slog.String("key", c.Key))
	}
}

// Status reports the current state. Observer details are read on the loop; when the loop
// has stopped only the configuration is reported.
func (m *Monitor) Status() Status {
	cfg := m.state.Snapshot()
	st := Status{Enabled: cfg.Enabled, Rules: len(cfg.Rules)}
	m.loop.Do(func() {
		st.Attached = m.observer.Level()
		st.Running = m.observer.Running()
	})
	return st
}
