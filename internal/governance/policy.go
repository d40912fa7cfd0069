package governance

import (
	"context"
	"fmt"
	"regexp"

	"github.com/gobwas/glob"

	"github.com/rahul/replayer/internal/script"
	"github.com/rahul/replayer/pkg/config"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the step to be evaluated.
type Request struct {
	Action script.Action
	Target string
	Value  string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates steps against a set of rules before they run.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultPolicyEngine denies actions by name, targets by pattern and, once
// any URL pattern is allowed, navigation outside the allowed URLs.
type DefaultPolicyEngine struct {
	DeniedActions map[script.Action]bool
	DeniedRegex   []*regexp.Regexp
	AllowedURLs   []glob.Glob
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedActions: make(map[script.Action]bool),
		DeniedRegex:   make([]*regexp.Regexp, 0),
	}
}

// FromConfig builds an engine from the policy section of the config file.
func FromConfig(cfg config.PolicyConfig) (*DefaultPolicyEngine, error) {
	e := NewDefaultPolicyEngine()
	for _, a := range cfg.DenyActions {
		action := script.Action(a)
		if !action.Valid() {
			return nil, fmt.Errorf("policy: unknown action %q", a)
		}
		e.DenyAction(action)
	}
	for _, p := range cfg.DenyTargets {
		if err := e.DenyTargets(p); err != nil {
			return nil, fmt.Errorf("policy: deny target %q: %w", p, err)
		}
	}
	for _, p := range cfg.AllowURLs {
		if err := e.AllowURL(p); err != nil {
			return nil, fmt.Errorf("policy: allow url %q: %w", p, err)
		}
	}
	return e, nil
}

func (e *DefaultPolicyEngine) DenyAction(action script.Action) {
	e.DeniedActions[action] = true
}

func (e *DefaultPolicyEngine) DenyTargets(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

// AllowURL adds a glob such as https://*.example.com/* to the navigation
// allow-list.
func (e *DefaultPolicyEngine) AllowURL(pattern string) error {
	g, err := glob.Compile(pattern)
	if err != nil {
		return err
	}
	e.AllowedURLs = append(e.AllowedURLs, g)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if e.DeniedActions[req.Action] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("action '%s' is restricted by policy", req.Action),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Target) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("target matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	if req.Action == script.ActionGoto && len(e.AllowedURLs) > 0 && !e.urlAllowed(req.Target) {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("url %s is not on the allow-list", req.Target),
		}, nil
	}

	return Result{
		Effect: EffectAllow,
		Reason: "approved by default policy",
	}, nil
}

func (e *DefaultPolicyEngine) urlAllowed(u string) bool {
	for _, g := range e.AllowedURLs {
		if g.Match(u) {
			return true
		}
	}
	return false
}

// StepPolicy adapts a PolicyEngine to the orchestrator's per-step check.
// Evaluation errors deny the step.
type StepPolicy struct {
	Engine PolicyEngine
}

func (p StepPolicy) Allow(ctx context.Context, step script.Step) (bool, string) {
	res, err := p.Engine.Evaluate(ctx, Request{Action: step.Action, Target: step.Target, Value: step.Value})
	if err != nil {
		return false, fmt.Sprintf("policy evaluation failed: %v", err)
	}
	return res.Effect == EffectAllow, res.Reason
}
