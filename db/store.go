package db

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/onnwee/kick-chat-monitor/triggers"
)

// Keys under which the configuration is stored.
const (
	KeyTriggers = "triggers"
	KeyEnabled  = "enabled"
)

// Change announces a new value for one configuration key. Value is the complete new value,
// never a delta.
type Change struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Triggers decodes a KeyTriggers change.
func (c Change) Triggers() ([]triggers.Rule, error) {
	var rules []triggers.Rule
	if err := json.Unmarshal(c.Value, &rules); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.Key, err)
	}
	if rules == nil {
		rules = []triggers.Rule{}
	}
	return rules, nil
}

// Enabled decodes a KeyEnabled change.
func (c Change) Enabled() (bool, error) {
	var on bool
	if err := json.Unmarshal(c.Value, &on); err != nil {
		return false, fmt.Errorf("decode %s: %w", c.Key, err)
	}
	return on, nil
}

// ConfigStore persists the configuration and notifies subscribers of every change,
// including changes made by other processes sharing the store.
type ConfigStore interface {
	Load(ctx context.Context) (triggers.Config, error)
	SaveTriggers(ctx context.Context, rules []triggers.Rule) error
	SetEnabled(ctx context.Context, enabled bool) error
	Subscribe() (<-chan Change, func())
	Ping(ctx context.Context) error
}

const subscriberBuffer = 16

// broker fans changes out to subscribers. A subscriber that falls behind misses the
// oldest pending change rather than blocking the publisher; every Change carries a full
// value, so the next one resynchronizes it.
type broker struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

func (b *broker) subscribe() (<-chan Change, func()) {
	ch := make(chan Change, subscriberBuffer)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Change]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broker) publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		for {
			select {
			case ch <- c:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

func decodeConfig(rawTriggers, rawEnabled []byte) (triggers.Config, error) {
	cfg := triggers.DefaultConfig()
	if len(rawTriggers) > 0 {
		rules, err := Change{Key: KeyTriggers, Value: rawTriggers}.Triggers()
		if err != nil {
			return cfg, err
		}
		if cfg.Rules, err = triggers.PrepareRules(rules); err != nil {
			return cfg, fmt.Errorf("stored %s: %w", KeyTriggers, err)
		}
	}
	if len(rawEnabled) > 0 {
		on, err := Change{Key: KeyEnabled, Value: rawEnabled}.Enabled()
		if err != nil {
			return cfg, err
		}
		cfg.Enabled = on
	}
	return cfg, nil
}

// MemoryStore is a ConfigStore held in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	triggers json.RawMessage
	enabled  json.RawMessage
	broker   broker
}

// NewMemoryStore returns an empty store (no rules, enabled).
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Load(_ context.Context) (triggers.Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return decodeConfig(m.triggers, m.enabled)
}

func (m *MemoryStore) SaveTriggers(_ context.Context, rules []triggers.Rule) error {
	if rules == nil {
		rules = []triggers.Rule{}
	}
	raw, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.triggers = raw
	m.mu.Unlock()
	m.broker.publish(Change{Key: KeyTriggers, Value: raw})
	return nil
}

func (m *MemoryStore) SetEnabled(_ context.Context, enabled bool) error {
	raw, _ := json.Marshal(enabled)
	m.mu.Lock()
	m.enabled = raw
	m.mu.Unlock()
	m.broker.publish(Change{Key: KeyEnabled, Value: raw})
	return nil
}

func (m *MemoryStore) Subscribe() (<-chan Change, func()) { return m.broker.subscribe() }

func (m *MemoryStore) Ping(context.Context) error { return nil }
