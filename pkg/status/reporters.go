package status

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/state"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

// NopReporter discards every update.
type NopReporter struct{}

// ReportResource implements Reporter.
func (NopReporter) ReportResource(context.Context, Update) {}

// ReportRun implements Reporter.
func (NopReporter) ReportRun(context.Context, RunUpdate) {}

// LogReporter writes updates to a zerolog logger. Failures log at error
// level, skips and deferrals at warn, everything else at info.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a log-backed reporter.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{
		logger: logger.With().Str("component", "status").Logger(),
	}
}

// ReportResource implements Reporter.
func (r *LogReporter) ReportResource(ctx context.Context, u Update) {
	var evt *zerolog.Event
	switch u.State {
	case state.LifecycleFailed:
		evt = r.logger.Error()
	case state.LifecycleSkipped, state.LifecycleDeferred:
		evt = r.logger.Warn()
	default:
		evt = r.logger.Info()
	}

	evt = evt.
		Str("resource_id", string(u.ResourceID)).
		Str("kind", string(u.Kind)).
		Str("name", u.Name).
		Str("state", string(u.State))
	if u.Reason != "" {
		evt = evt.Str("reason", u.Reason)
	}
	if u.Attempts > 0 {
		evt = evt.Int("attempts", u.Attempts)
	}
	if !u.Binding.IsZero() {
		evt = evt.Str("binding", string(u.Binding))
	}
	if u.Orphan {
		evt = evt.Bool("orphan", true)
	}
	evt.Msg("resource state changed")
}

// ReportRun implements Reporter.
func (r *LogReporter) ReportRun(ctx context.Context, u RunUpdate) {
	var evt *zerolog.Event
	switch u.Status {
	case engine.RunStatusFailed:
		evt = r.logger.Error()
	case engine.RunStatusPartial, engine.RunStatusCancelled:
		evt = r.logger.Warn()
	default:
		evt = r.logger.Info()
	}

	evt.
		Str("run_id", u.RunID).
		Str("plan_id", u.PlanID).
		Str("status", string(u.Status)).
		Int("total", u.Counts.Total).
		Int("succeeded", u.Counts.Succeeded).
		Int("failed", u.Counts.Failed).
		Int("skipped", u.Counts.Skipped).
		Int("deferred", u.Counts.Deferred).
		Int("aborted", u.Counts.Aborted).
		Bool("cancelled", u.Cancelled).
		Msg("reconcile run completed")
}

// BusReporter publishes updates on the telemetry event bus. Unclaimed
// objects egress as orphan.detected, everything else as
// resource.state_changed; runs egress as reconcile.completed.
type BusReporter struct {
	events *telemetry.EventPublisher
}

// NewBusReporter creates an event-bus-backed reporter.
func NewBusReporter(events *telemetry.EventPublisher) *BusReporter {
	return &BusReporter{events: events}
}

// ReportResource implements Reporter.
func (r *BusReporter) ReportResource(ctx context.Context, u Update) {
	if u.Orphan {
		_ = r.events.Publish(telemetry.Event{
			Type:       telemetry.EventTypeOrphanDetected,
			Source:     "status",
			ResourceID: string(u.ResourceID),
			Message:    fmt.Sprintf("Unclaimed %s observed on the engine: %s", u.Kind, u.Name),
			Level:      telemetry.EventLevelWarning,
			Data: map[string]interface{}{
				"kind":    string(u.Kind),
				"name":    u.Name,
				"state":   string(u.State),
				"binding": string(u.Binding),
			},
		})
		return
	}

	level := telemetry.EventLevelInfo
	switch u.State {
	case state.LifecycleFailed:
		level = telemetry.EventLevelError
	case state.LifecycleSkipped, state.LifecycleDeferred:
		level = telemetry.EventLevelWarning
	}

	data := map[string]interface{}{
		"kind":  string(u.Kind),
		"name":  u.Name,
		"state": string(u.State),
	}
	if u.Reason != "" {
		data["reason"] = u.Reason
	}
	if u.Attempts > 0 {
		data["attempts"] = u.Attempts
	}
	if !u.Binding.IsZero() {
		data["binding"] = string(u.Binding)
	}

	_ = r.events.Publish(telemetry.Event{
		Type:       telemetry.EventTypeResourceStateChanged,
		Source:     "status",
		ResourceID: string(u.ResourceID),
		Message:    fmt.Sprintf("Resource %s is now %s", u.Name, u.State),
		Level:      level,
		Data:       data,
	})
}

// ReportRun implements Reporter.
func (r *BusReporter) ReportRun(ctx context.Context, u RunUpdate) {
	level := telemetry.EventLevelInfo
	switch u.Status {
	case engine.RunStatusFailed:
		level = telemetry.EventLevelError
	case engine.RunStatusPartial, engine.RunStatusCancelled:
		level = telemetry.EventLevelWarning
	}

	_ = r.events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeReconcileCompleted,
		Source:  "status",
		RunID:   u.RunID,
		Message: fmt.Sprintf("Reconcile run %s completed with status: %s", u.RunID, u.Status),
		Level:   level,
		Data: map[string]interface{}{
			"plan_id":   u.PlanID,
			"status":    string(u.Status),
			"cancelled": u.Cancelled,
			"total":     u.Counts.Total,
			"succeeded": u.Counts.Succeeded,
			"failed":    u.Counts.Failed,
			"skipped":   u.Counts.Skipped,
			"deferred":  u.Counts.Deferred,
			"aborted":   u.Counts.Aborted,
		},
	})
}

// MultiReporter fans updates out to several reporters in order.
type MultiReporter []Reporter

// ReportResource implements Reporter.
func (m MultiReporter) ReportResource(ctx context.Context, u Update) {
	for _, r := range m {
		r.ReportResource(ctx, u)
	}
}

// ReportRun implements Reporter.
func (m MultiReporter) ReportRun(ctx context.Context, u RunUpdate) {
	for _, r := range m {
		r.ReportRun(ctx, u)
	}
}
