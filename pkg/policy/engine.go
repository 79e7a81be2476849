package policy

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

// Input is the document policies see as `input`. Exactly one of Node and
// Plan is set per evaluation.
type Input struct {
	// Node is the desired resource under evaluation.
	Node *resource.Node `json:"node,omitempty"`

	// Plan is the execution plan under evaluation.
	Plan *engine.Plan `json:"plan,omitempty"`

	// Timestamp is when the evaluation runs.
	Timestamp time.Time `json:"timestamp"`
}

// Engine compiles Rego policies once and evaluates them against desired
// nodes and execution plans.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy pairs a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltins(context.Background()); err != nil {
		return nil, fmt.Errorf("load built-in policies: %w", err)
	}

	return e, nil
}

// EvaluateNode evaluates all enabled policies against one desired node.
func (e *Engine) EvaluateNode(ctx context.Context, node resource.Node) (*Result, error) {
	result, err := e.evaluate(ctx, &Input{Node: &node, Timestamp: time.Now()})
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("resource_id", string(node.ID)).
		Str("name", node.Name).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Resource policy evaluation completed")

	return result, nil
}

// EvaluatePlan evaluates all enabled policies against an execution plan.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.Plan) (*Result, error) {
	result, err := e.evaluate(ctx, &Input{Plan: plan, Timestamp: time.Now()})
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("plan_id", plan.ID).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// evaluate runs every enabled policy's deny query over the input. A policy
// that fails to evaluate fails the whole evaluation: an admission decision
// is never made on a partially evaluated policy set.
func (e *Engine) evaluate(ctx context.Context, input *Input) (*Result, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations, warnings []Violation
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			return nil, fmt.Errorf("evaluate policy %s: %w", name, err)
		}

		for _, r := range rs {
			if len(r.Expressions) == 0 {
				continue
			}
			denySet, ok := r.Expressions[0].Value.([]interface{})
			if !ok {
				continue
			}
			for _, raw := range denySet {
				v := toViolation(cp.policy, raw)
				if v.Severity.Blocks() {
					violations = append(violations, v)
				} else {
					warnings = append(warnings, v)
				}
			}
		}
	}

	return &Result{
		Allowed:     len(violations) == 0,
		Violations:  violations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
		Duration:    time.Since(start),
	}, nil
}

// toViolation converts one deny result into a Violation. Rules may return
// a plain string or an object with message, severity and resource fields;
// the policy's severity applies when the rule does not override it.
func toViolation(p *Policy, raw interface{}) Violation {
	v := Violation{Policy: p.Name, Severity: p.Severity}

	switch val := raw.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			if s := Severity(sev); s.Validate() == nil {
				v.Severity = s
			}
		}
		if res, ok := val["resource"].(string); ok {
			v.Resource = resource.ID(res)
		}
	default:
		v.Message = fmt.Sprintf("%v", raw)
	}

	return v
}

// LoadPaths loads and compiles policies from files and directories,
// merging them over the current set. Nothing changes when any file fails
// to compile.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}

	staged := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		if err := e.compileInto(ctx, &policies[i], staged); err != nil {
			return err
		}
	}

	e.mu.Lock()
	for name, cp := range staged {
		e.policies[name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// Replace swaps the active policy set for the built-ins plus the given
// policies. The previous set stays active when any policy fails to
// compile.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	staged := make(map[string]*compiledPolicy, len(policies))

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileInto(ctx, &builtins[i], staged); err != nil {
			return err
		}
	}
	for i := range policies {
		if err := e.compileInto(ctx, &policies[i], staged); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.policies = staged
	e.mu.Unlock()

	e.logger.Info().Int("count", len(staged)).Msg("Policy set replaced")
	return nil
}

// Watch hot-reloads policies from the given paths until the context is
// cancelled. A reload that fails to compile keeps the active set.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.Replace(ctx, policies)
	})
}

// loadBuiltins compiles the built-in policies into the active set.
func (e *Engine) loadBuiltins(ctx context.Context) error {
	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileInto(ctx, &builtins[i], e.policies); err != nil {
			return err
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return nil
}

// compileInto parses and prepares one policy and stores it in dst. The
// deny query is derived from the module's own package path.
func (e *Engine) compileInto(ctx context.Context, p *Policy, dst map[string]*compiledPolicy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("parse policy %s: %w", p.Name, err)
	}

	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if err := p.Severity.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", p.Name, err)
	}

	query, err := rego.New(
		rego.Module(p.Name, p.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare policy %s: %w", p.Name, err)
	}

	dst[p.Name] = &compiledPolicy{
		policy:   p,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}
	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range slices.Sorted(maps.Keys(e.policies)) {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = true
	e.logger.Info().Str("policy", name).Msg("Policy enabled")
	return nil
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.logger.Info().Str("policy", name).Msg("Policy disabled")
	return nil
}
