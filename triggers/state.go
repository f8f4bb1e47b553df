package triggers

import (
	"sync"
	"sync/atomic"
)

// Config is the runtime configuration snapshot: the ordered rules and the global toggle.
type Config struct {
	Rules   []Rule `json:"triggers"`
	Enabled bool   `json:"enabled"`
}

// DefaultConfig is what an empty store yields.
func DefaultConfig() Config { return Config{Rules: []Rule{}, Enabled: true} }

// State owns the current Config. Snapshots are replaced wholesale, never edited in place,
// so a reader always sees a fully formed rule list.
type State struct {
	cur atomic.Pointer[Config]

	mu        sync.Mutex
	listeners []func(enabled bool)
}

// NewState returns a State holding cfg.
func NewState(cfg Config) *State {
	s := &State{}
	s.cur.Store(&cfg)
	return s
}

// Snapshot returns the current configuration. Callers must not mutate the rule slice.
func (s *State) Snapshot() Config { return *s.cur.Load() }

// Enabled reports the global toggle.
func (s *State) Enabled() bool { return s.cur.Load().Enabled }

// Rules returns the current ordered rule list.
func (s *State) Rules() []Rule { return s.cur.Load().Rules }

// Lookup returns the live rule with the given id.
func (s *State) Lookup(id string) (Rule, bool) {
	for _, r := range s.cur.Load().Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// OnEnabledChange registers fn to be called after every on/off transition.
func (s *State) OnEnabledChange(fn func(enabled bool)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// ApplyConfig replaces the whole snapshot.
func (s *State) ApplyConfig(cfg Config) {
	if cfg.Rules == nil {
		cfg.Rules = []Rule{}
	}
	prev := s.cur.Swap(&cfg)
	if prev.Enabled != cfg.Enabled {
		s.notify(cfg.Enabled)
	}
}

// ApplyRules replaces the rule list and keeps the toggle.
func (s *State) ApplyRules(rules []Rule) {
	cfg := s.Snapshot()
	cfg.Rules = rules
	s.ApplyConfig(cfg)
}

// ApplyEnabled replaces the toggle and keeps the rules.
func (s *State) ApplyEnabled(enabled bool) {
	cfg := s.Snapshot()
	cfg.Enabled = enabled
	s.ApplyConfig(cfg)
}

func (s *State) notify(enabled bool) {
	s.mu.Lock()
	fns := make([]func(bool), len(s.listeners))
	copy(fns, s.listeners)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(enabled)
	}
}
