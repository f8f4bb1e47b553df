// Package triggers holds the trigger rule model, the runtime configuration state shared by
// the observer, matching engine and executor, and the portable import/export format.
package triggers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrUnknownValue is returned when an enum field carries a value outside its domain.
var ErrUnknownValue = errors.New("unknown value")

// UserType gates whether a rule checks the message author.
type UserType string

const (
	UserAny      UserType = "any"
	UserSpecific UserType = "specific"
)

// Condition selects how the keyword is compared with the message text.
type Condition string

const (
	ConditionContains Condition = "contains"
	ConditionExact    Condition = "exact"
)

// Action is the side effect performed when a rule matches.
type Action string

const (
	ActionNotification Action = "notification"
	ActionSound        Action = "sound"
	ActionChat         Action = "chat"
)

// ParseUserType maps "" to UserAny.
func ParseUserType(s string) (UserType, error) {
	switch UserType(s) {
	case "", UserAny:
		return UserAny, nil
	case UserSpecific:
		return UserSpecific, nil
	}
	return "", fmt.Errorf("userType %q: %w", s, ErrUnknownValue)
}

// ParseCondition maps "" to ConditionContains.
func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case "", ConditionContains:
		return ConditionContains, nil
	case ConditionExact:
		return ConditionExact, nil
	}
	return "", fmt.Errorf("condition %q: %w", s, ErrUnknownValue)
}

// ParseAction has no default; an empty action is an error.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionNotification, ActionSound, ActionChat:
		return a, nil
	}
	return "", fmt.Errorf("action %q: %w", s, ErrUnknownValue)
}

// Rule is one user-configured trigger: a match condition plus an action.
type Rule struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	UserType  UserType  `json:"userType"`
	Username  string    `json:"username"`
	Condition Condition `json:"condition"`
	Keyword   string    `json:"keyword"`
	Action    Action    `json:"action"`
	Message   string    `json:"message,omitempty"`
	// Delay is in milliseconds.
	Delay   int  `json:"delay"`
	Enabled bool `json:"enabled"`
}

// UnmarshalJSON defaults Enabled to true when the field is absent or null.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	aux := struct {
		*plain
		Enabled *bool `json:"enabled"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Enabled = aux.Enabled == nil || *aux.Enabled
	return nil
}

// IsEnabled reports whether the rule takes part in matching.
func (r Rule) IsEnabled() bool { return r.Enabled }

// Label identifies the rule in notifications: its name, or the keyword when unnamed.
func (r Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Keyword
}

// Normalize fills defaults and drops fields that are meaningless for the rule's modes.
func (r *Rule) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Keyword = strings.TrimSpace(r.Keyword)
	r.Username = strings.TrimSpace(r.Username)
	if r.Name == "" {
		r.Name = r.Keyword
	}
	if r.UserType == "" {
		r.UserType = UserAny
	}
	if r.Condition == "" {
		r.Condition = ConditionContains
	}
	if r.UserType == UserAny {
		r.Username = ""
	}
	if r.Action != ActionChat {
		r.Message = ""
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
}

// Validate checks the persisted-rule invariants and reports every violated field.
func (r Rule) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Keyword) == "" {
		errs = append(errs, errors.New("keyword is required"))
	}
	if _, err := ParseUserType(string(r.UserType)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseCondition(string(r.Condition)); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		errs = append(errs, err)
	}
	if r.UserType == UserSpecific && strings.TrimSpace(r.Username) == "" {
		errs = append(errs, errors.New("username is required when userType is specific"))
	}
	if r.Action == ActionChat && r.Message == "" {
		errs = append(errs, errors.New("message is required when action is chat"))
	}
	if r.Delay < 0 {
		errs = append(errs, fmt.Errorf("delay must be non-negative, got %d", r.Delay))
	}
	return errors.Join(errs...)
}

// PrepareRules is the config-load boundary: every rule is normalized and validated.
// Ids are unique in the result: a repeated id keeps its first holder and later rules get
// a fresh one. The returned slice is a copy; the input is not modified.
func PrepareRules(in []Rule) ([]Rule, error) {
	out := make([]Rule, len(in))
	copy(out, in)
	seen := make(map[string]struct{}, len(out))
	for i := range out {
		out[i].Normalize()
		if _, dup := seen[out[i].ID]; dup {
			out[i].ID = uuid.NewString()
		}
		seen[out[i].ID] = struct{}{}
		if err := out[i].Validate(); err != nil {
			return nil, fmt.Errorf("trigger %d (%s): %w", i, out[i].Label(), err)
		}
	}
	return out, nil
}
