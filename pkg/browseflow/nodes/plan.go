package nodes

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
)

// Plan is a planner's proposal: the next actions and the reasoning behind
// them.
type Plan struct {
	Actions        []Action `json:"actions"`
	ThoughtProcess string   `json:"thought_process"`

	// NeedsInput asks the user for help once the actions have run.
	NeedsInput  bool   `json:"needs_user_input,omitempty"`
	InputPrompt string `json:"input_prompt,omitempty"`
}

const maxRawInError = 512

// ParsePlan decodes a planner response. The response may wrap the JSON
// object in prose or a markdown code fence.
func ParsePlan(raw string) (*Plan, error) {
	body := extractObject(raw)
	if body == "" {
		return nil, planError("no JSON object in response", raw, nil)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, planError("response is not a JSON object", raw, err)
	}
	if _, ok := fields["actions"]; !ok {
		return nil, planError(`missing "actions"`, raw, nil)
	}
	if _, ok := fields["thought_process"]; !ok {
		return nil, planError(`missing "thought_process"`, raw, nil)
	}

	var p Plan
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, planError("unexpected field types", raw, err)
	}
	for i, a := range p.Actions {
		if a.Type == "" {
			return nil, planError(fmt.Sprintf("action %d has no action_type", i), raw, nil)
		}
		if a.Params == nil {
			p.Actions[i].Params = map[string]any{}
		}
	}
	if p.Actions == nil {
		p.Actions = []Action{}
	}
	return &p, nil
}

// extractObject returns the outermost {...} span of s.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func planError(reason, raw string, err error) error {
	if len(raw) > maxRawInError {
		cut := maxRawInError
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut]
	}
	return &browseflow.PlanFormatError{Reason: reason, Raw: raw, Err: err}
}

// IsPlanFormatError reports whether err is a malformed plan.
func IsPlanFormatError(err error) bool {
	var pfe *browseflow.PlanFormatError
	return errors.As(err, &pfe)
}
