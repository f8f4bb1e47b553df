package triggers

import "testing"

func TestStateTransitions(t *testing.T) {
	s := NewState(DefaultConfig())
	var got []bool
	s.OnEnabledChange(func(enabled bool) { got = append(got, enabled) })

	s.ApplyEnabled(true) // no transition
	s.ApplyEnabled(false)
	s.ApplyRules([]Rule{{ID: "r1", Keyword: "a", Action: ActionSound, Enabled: true}})
	s.ApplyEnabled(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("transitions = %v, want [false true]", got)
	}
	if len(s.Rules()) != 1 {
		t.Fatalf("rules lost across enabled change")
	}
}

func TestStateLookup(t *testing.T) {
	s := NewState(Config{Enabled: true, Rules: []Rule{{ID: "a", Keyword: "x"}, {ID: "b", Keyword: "y"}}})
	if r, ok := s.Lookup("b"); !ok || r.Keyword != "y" {
		t.Fatalf("Lookup(b) = %+v, %v", r, ok)
	}
	s.ApplyRules([]Rule{{ID: "a", Keyword: "x"}})
	if _, ok := s.Lookup("b"); ok {
		t.Fatalf("expected b gone after replacement")
	}
}

func TestSnapshotIsWholeValue(t *testing.T) {
	s := NewState(DefaultConfig())
	before := s.Snapshot()
	s.ApplyConfig(Config{Enabled: false})
	if !before.Enabled {
		t.Fatalf("earlier snapshot changed")
	}
	if s.Snapshot().Rules == nil {
		t.Fatalf("nil rules should be replaced with empty slice")
	}
}
