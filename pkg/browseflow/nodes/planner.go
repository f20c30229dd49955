package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/randalmurphal/browseflow/pkg/browseflow"
	bferrors "github.com/randalmurphal/browseflow/pkg/browseflow/errors"
	"github.com/randalmurphal/browseflow/pkg/browseflow/llm"
)

// PlanRequest is what a planner sees.
type PlanRequest struct {
	Goal         string
	Scratch      browseflow.Scratch
	BrowserState map[string]any
	// UserInput is the latest input submitted for this workflow, if any.
	UserInput map[string]any
	// FailedActions are the failures that caused this replan.
	FailedActions []ActionResult
}

// Planner proposes the next actions toward a goal.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req PlanRequest) (*Plan, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	return f(ctx, req)
}

// DefaultPlanningTemplate is the prompt sent by LLMPlanner.
const DefaultPlanningTemplate = `Given the current state and goal, plan the next browser automation steps.

Current State:
${current_state}

Goal:
${goal}

Browser State:
${browser_state}

User Input:
${user_input}

Failed Actions From The Previous Attempt:
${failed_actions}

Plan the next steps as a JSON array of actions. Each action should have:
- action_type: one of navigate, click, type, wait, screenshot, scroll, select
- params: parameters for the action (url, selector, text, value, amount, timeout)
- reasoning: why this action is needed

If you cannot continue without help from the user, set "needs_user_input"
to true and put the question in "input_prompt".

Response Format:
{
    "actions": [
        {
            "action_type": "action_name",
            "params": {"param1": "value1"},
            "reasoning": "explanation"
        }
    ],
    "thought_process": "overall reasoning"
}`

const planningSystemPrompt = "You plan browser automation steps. Respond with a single JSON object and nothing else."

const repairPrompt = "That reply was not a valid plan. Respond again with only the JSON object described above."

// LLMPlanner plans by prompting a language model.
type LLMPlanner struct {
	client   llm.Client
	model    string
	template string
	retry    bferrors.RetryPolicy
	logger   *slog.Logger
}

// LLMPlannerOption configures an LLMPlanner.
type LLMPlannerOption func(*LLMPlanner)

// WithPlannerModel overrides the client's default model.
func WithPlannerModel(model string) LLMPlannerOption {
	return func(p *LLMPlanner) { p.model = model }
}

// WithPlanningTemplate replaces the prompt template. ${goal},
// ${current_state}, ${browser_state}, ${user_input} and ${failed_actions}
// are substituted.
func WithPlanningTemplate(tmpl string) LLMPlannerOption {
	return func(p *LLMPlanner) {
		if tmpl != "" {
			p.template = tmpl
		}
	}
}

// WithPlannerRetry sets how transient client failures are retried.
func WithPlannerRetry(policy bferrors.RetryPolicy) LLMPlannerOption {
	return func(p *LLMPlanner) { p.retry = policy }
}

// WithPlannerLogger sets the planner logger.
func WithPlannerLogger(logger *slog.Logger) LLMPlannerOption {
	return func(p *LLMPlanner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewLLMPlanner creates a planner backed by client.
func NewLLMPlanner(client llm.Client, opts ...LLMPlannerOption) *LLMPlanner {
	p := &LLMPlanner{
		client:   client,
		template: DefaultPlanningTemplate,
		retry:    bferrors.DefaultPolicy,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan implements Planner. Malformed responses fail with
// *browseflow.PlanFormatError and are not retried.
func (p *LLMPlanner) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	prompt := expand(p.template, map[string]any{
		"goal":           req.Goal,
		"current_state":  map[string]any(req.Scratch),
		"browser_state":  orEmpty(req.BrowserState),
		"user_input":     orEmpty(req.UserInput),
		"failed_actions": toScratch(req.FailedActions),
	})

	creq := llm.NewRequest(planningSystemPrompt, prompt)
	creq.Model = p.model

	res := bferrors.Do(ctx, p.retry, "plan", func(ctx context.Context) (*Plan, error) {
		return p.complete(ctx, creq)
	})
	if res.Err != nil {
		var pfe *browseflow.PlanFormatError
		if errors.As(res.Err, &pfe) {
			return nil, pfe
		}
		return nil, res.Err
	}
	if res.Attempts > 1 {
		p.logger.Debug("planner succeeded after retry", slog.Int("attempts", res.Attempts))
	}
	return res.Value, nil
}

// complete asks for a plan. A reply that is not a plan gets one follow-up
// asking for the JSON object alone.
func (p *LLMPlanner) complete(ctx context.Context, req llm.Request) (*Plan, error) {
	resp, err := p.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("planner replied",
		slog.String("model", resp.Model),
		slog.Int("tokens", resp.Usage.Total()),
		slog.Duration("elapsed", resp.Elapsed),
	)
	plan, err := ParsePlan(resp.Content)
	if err == nil || !IsPlanFormatError(err) {
		return plan, err
	}

	resp, ferr := p.client.Complete(ctx, req.FollowUp(resp.Content, repairPrompt))
	if ferr != nil {
		return nil, ferr
	}
	if plan, ferr := ParsePlan(resp.Content); ferr == nil {
		return plan, nil
	}
	return nil, err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var (
	navigatePattern = regexp.MustCompile(`(?i)^(?:open|go to|goto|navigate to|visit|browse to|load)\s+(\S+)$`)
	clickPattern    = regexp.MustCompile(`(?i)^click(?: on)?\s+(.+)$`)
	typePattern     = regexp.MustCompile(`(?i)^(?:type|enter|fill in)\s+["']?(.+?)["']?\s+(?:into|in)\s+(.+)$`)
	selectPattern   = regexp.MustCompile(`(?i)^select\s+["']?(.+?)["']?\s+(?:from|in)\s+(.+)$`)
	scrollPattern   = regexp.MustCompile(`(?i)^scroll(?:\s+down)?(?:\s+(\d+))?$`)
	waitPattern     = regexp.MustCompile(`(?i)^wait(?:\s+for)?\s+(\d+)\s*s(?:ec(?:onds?)?)?$`)
	screenshotWords = regexp.MustCompile(`(?i)^(?:take a )?screenshot$`)
	stepSeparator   = regexp.MustCompile(`(?i)\s*(?:,\s*then|\bthen\b|;|\band then\b)\s*`)
)

// RulePlanner turns simple imperative goals ("open example.com then click
// #login") into actions without a language model. Goals it cannot read
// produce a plan that asks the user for a URL.
type RulePlanner struct{}

// Plan implements Planner.
func (RulePlanner) Plan(_ context.Context, req PlanRequest) (*Plan, error) {
	if u, ok := req.UserInput["url"].(string); ok && u != "" {
		a := Action{Type: ActionNavigate, Params: map[string]any{"url": normalizeURL(u)}, Reasoning: "URL supplied by the user"}
		return &Plan{Actions: []Action{a}, ThoughtProcess: "Navigating to the page the user asked for."}, nil
	}

	goal := req.Goal
	if g, ok := req.UserInput["goal"].(string); ok && g != "" {
		goal = g
	}

	if len(req.FailedActions) > 0 {
		actions := make([]Action, 0, len(req.FailedActions))
		for _, f := range req.FailedActions {
			actions = append(actions, f.Action)
		}
		return &Plan{Actions: actions, ThoughtProcess: fmt.Sprintf("Retrying %d failed action(s).", len(actions))}, nil
	}

	var actions []Action
	for _, part := range stepSeparator.Split(strings.TrimSpace(goal), -1) {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		a, ok := parseStep(part)
		if !ok {
			return &Plan{
				Actions:        []Action{},
				ThoughtProcess: fmt.Sprintf("Could not interpret %q.", part),
				NeedsInput:     true,
				InputPrompt:    fmt.Sprintf("I could not work out how to do %q. Which URL should I open?", part),
			}, nil
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		return &Plan{
			Actions:        []Action{},
			ThoughtProcess: "No goal given.",
			NeedsInput:     true,
			InputPrompt:    "What should I do?",
		}, nil
	}

	return &Plan{Actions: actions, ThoughtProcess: describe(actions)}, nil
}

func parseStep(s string) (Action, bool) {
	if m := navigatePattern.FindStringSubmatch(s); m != nil {
		return Action{Type: ActionNavigate, Params: map[string]any{"url": normalizeURL(m[1])}, Reasoning: "open the requested page"}, true
	}
	if m := typePattern.FindStringSubmatch(s); m != nil {
		return Action{Type: ActionTypeText, Params: map[string]any{"text": m[1], "selector": strings.TrimSpace(m[2])}, Reasoning: "fill in the requested field"}, true
	}
	if m := selectPattern.FindStringSubmatch(s); m != nil {
		return Action{Type: ActionSelect, Params: map[string]any{"value": m[1], "selector": strings.TrimSpace(m[2])}, Reasoning: "choose the requested option"}, true
	}
	if m := clickPattern.FindStringSubmatch(s); m != nil {
		return Action{Type: ActionClick, Params: map[string]any{"selector": strings.TrimSpace(m[1])}, Reasoning: "click the requested element"}, true
	}
	if m := scrollPattern.FindStringSubmatch(s); m != nil {
		params := map[string]any{}
		if m[1] != "" {
			params["amount"] = m[1]
		}
		return Action{Type: ActionScroll, Params: params, Reasoning: "scroll the page"}, true
	}
	if m := waitPattern.FindStringSubmatch(s); m != nil {
		return Action{Type: ActionWait, Params: map[string]any{"timeout": m[1]}, Reasoning: "give the page time"}, true
	}
	if screenshotWords.MatchString(s) {
		return Action{Type: ActionScreenshot, Params: map[string]any{}, Reasoning: "capture the page"}, true
	}
	if looksLikeHost(s) {
		return Action{Type: ActionNavigate, Params: map[string]any{"url": normalizeURL(s)}, Reasoning: "the goal is a page address"}, true
	}
	return Action{}, false
}

func looksLikeHost(s string) bool {
	if strings.ContainsAny(s, " \t") {
		return false
	}
	u, err := url.Parse(normalizeURL(s))
	return err == nil && strings.Contains(u.Host, ".")
}

func normalizeURL(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	return s
}

func describe(actions []Action) string {
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		data, _ := json.Marshal(a.Params)
		parts = append(parts, fmt.Sprintf("%s %s", a.Type, data))
	}
	return "Planned " + strings.Join(parts, ", ")
}
