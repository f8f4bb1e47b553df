package triggers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ExportFileName is the default file name for exported configurations.
const ExportFileName = "kick-bot-config.json"

// externalSendMessage is the portable name of ActionChat.
const externalSendMessage = "sendMessage"

var (
	// ErrInvalidJSON means an import document could not be parsed.
	ErrInvalidJSON = errors.New("error parsing JSON file")
	// ErrMissingTriggers means an import document has no triggers array.
	ErrMissingTriggers = errors.New("invalid configuration format: missing triggers array")
)

type portableRule struct {
	Name        string  `json:"name"`
	UserType    string  `json:"userType"`
	Username    string  `json:"username"`
	Condition   string  `json:"condition"`
	Keyword     string  `json:"keyword"`
	Action      string  `json:"action"`
	ActionValue *string `json:"actionValue"`
	// Message is accepted on import for documents written with the internal field name.
	Message *string `json:"message,omitempty"`
	Delay   int     `json:"delay"`
	Enabled *bool   `json:"enabled,omitempty"`
}

type portableDoc struct {
	Triggers []portableRule `json:"triggers"`
}

// Export renders rules in the portable file format.
func Export(rules []Rule) ([]byte, error) {
	doc := portableDoc{Triggers: make([]portableRule, 0, len(rules))}
	for _, r := range rules {
		p := portableRule{
			Name:      r.Name,
			UserType:  string(r.UserType),
			Username:  r.Username,
			Condition: string(r.Condition),
			Keyword:   r.Keyword,
			Action:    string(r.Action),
			Delay:     r.Delay,
			Enabled:   &r.Enabled,
		}
		if p.UserType == "" {
			p.UserType = string(UserAny)
		}
		if p.Condition == "" {
			p.Condition = string(ConditionContains)
		}
		if r.Action == ActionChat {
			msg := r.Message
			p.Action = externalSendMessage
			p.ActionValue = &msg
		}
		doc.Triggers = append(doc.Triggers, p)
	}
	return json.MarshalIndent(doc, "", "    ")
}

// Import parses a portable document into validated internal rules.
func Import(data []byte) ([]Rule, error) {
	if !json.Valid(data) {
		return nil, ErrInvalidJSON
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrMissingTriggers
	}
	arr := bytes.TrimSpace(raw["triggers"])
	if len(arr) == 0 || arr[0] != '[' {
		return nil, ErrMissingTriggers
	}
	var items []portableRule
	if err := json.Unmarshal(arr, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	rules := make([]Rule, 0, len(items))
	for _, p := range items {
		r := Rule{
			Name:      p.Name,
			UserType:  UserType(p.UserType),
			Username:  p.Username,
			Condition: Condition(p.Condition),
			Keyword:   p.Keyword,
			Action:    Action(p.Action),
			Delay:     p.Delay,
			Enabled:   p.Enabled == nil || *p.Enabled,
		}
		switch {
		case p.Action == externalSendMessage:
			r.Action = ActionChat
			if p.ActionValue != nil {
				r.Message = *p.ActionValue
			}
		case p.Message != nil:
			r.Message = *p.Message
		}
		rules = append(rules, r)
	}
	return PrepareRules(rules)
}
