package policy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

// Gate adapts the policy engine to the reconciler's admission points.
// Blocking violations reject with a *ViolationError; warnings pass
// through to the log and the event bus. Disabling policy means wiring no
// gate at all: the reconciler admits everything when its gate is nil.
type Gate struct {
	engine *Engine
	events *telemetry.EventPublisher
	logger zerolog.Logger
}

var _ engine.PolicyGate = (*Gate)(nil)

// NewGate creates an admission gate over the engine. A nil events
// publisher disables bus reporting.
func NewGate(eng *Engine, events *telemetry.EventPublisher, logger zerolog.Logger) *Gate {
	return &Gate{
		engine: eng,
		events: events,
		logger: logger.With().Str("component", "policy-gate").Logger(),
	}
}

// AdmitSnapshot implements engine.PolicyGate. Every node in the snapshot
// is evaluated; a blocking violation anywhere rejects the whole snapshot.
func (g *Gate) AdmitSnapshot(ctx context.Context, nodes []resource.Node) error {
	var blocking []Violation
	for _, node := range nodes {
		result, err := g.engine.EvaluateNode(ctx, node)
		if err != nil {
			return fmt.Errorf("admit snapshot: %w", err)
		}
		g.report(result)
		blocking = append(blocking, result.Violations...)
	}

	if len(blocking) > 0 {
		return &ViolationError{Violations: blocking}
	}
	return nil
}

// AdmitPlan implements engine.PolicyGate.
func (g *Gate) AdmitPlan(ctx context.Context, plan *engine.Plan) error {
	result, err := g.engine.EvaluatePlan(ctx, plan)
	if err != nil {
		return fmt.Errorf("admit plan: %w", err)
	}
	g.report(result)

	if len(result.Violations) > 0 {
		return &ViolationError{Violations: result.Violations}
	}
	return nil
}

// report logs every finding and mirrors it on the event bus.
func (g *Gate) report(result *Result) {
	for _, v := range result.Warnings {
		g.logger.Warn().
			Str("policy", v.Policy).
			Str("resource_id", string(v.Resource)).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
		g.publish(v, telemetry.EventLevelWarning)
	}
	for _, v := range result.Violations {
		g.logger.Error().
			Str("policy", v.Policy).
			Str("resource_id", string(v.Resource)).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
		g.publish(v, telemetry.EventLevelError)
	}
}

// publish sends a finding on the event bus when one is wired.
func (g *Gate) publish(v Violation, level string) {
	if g.events == nil {
		return
	}
	_ = g.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypePolicyViolation,
		Source:     "policy-gate",
		ResourceID: string(v.Resource),
		Message:    fmt.Sprintf("Policy %s: %s", v.Policy, v.Message),
		Level:      level,
		Data: map[string]interface{}{
			"policy":   v.Policy,
			"severity": string(v.Severity),
		},
	})
}
