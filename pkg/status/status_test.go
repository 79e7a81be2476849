package status

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

// recorder captures updates for assertions.
type recorder struct {
	mu   sync.Mutex
	res  []Update
	runs []RunUpdate
}

func (r *recorder) ReportResource(_ context.Context, u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res = append(r.res, u)
}

func (r *recorder) ReportRun(_ context.Context, u RunUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, u)
}

// syncBus builds a synchronous event bus and a channel receiving every
// published event. Delivery still happens on a separate goroutine, so
// assertions go through nextEvent.
func syncBus(t *testing.T) (*telemetry.EventPublisher, chan telemetry.Event) {
	t.Helper()
	bus, err := telemetry.NewEventPublisher(telemetry.EventsConfig{
		Enabled:      true,
		BufferSize:   16,
		MaxBatchSize: 16,
	})
	if err != nil {
		t.Fatalf("NewEventPublisher: %v", err)
	}
	got := make(chan telemetry.Event, 16)
	bus.Subscribe(func(e telemetry.Event) { got <- e }, nil)
	return bus, got
}

func nextEvent(t *testing.T, ch chan telemetry.Event) telemetry.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return telemetry.Event{}
	}
}

func TestFromTransition(t *testing.T) {
	at := time.Now()
	tr := state.Transition{
		ID:       "ctr-1",
		Kind:     resource.KindContainer,
		Name:     "web",
		From:     state.LifecycleStarting,
		To:       state.LifecycleRunning,
		Reason:   "start",
		Attempts: 2,
		Binding:  "c-abc",
		At:       at,
	}

	u := FromTransition(tr)
	if u.ResourceID != "ctr-1" || u.Kind != resource.KindContainer || u.Name != "web" {
		t.Fatalf("Expected identity fields to carry over, got: %+v", u)
	}
	if u.State != state.LifecycleRunning {
		t.Fatalf("Expected state running, got: %s", u.State)
	}
	if u.Reason != "start" || u.Attempts != 2 || u.Binding != "c-abc" || !u.At.Equal(at) {
		t.Fatalf("Expected detail fields to carry over, got: %+v", u)
	}
	if u.Orphan {
		t.Fatalf("Expected transition update not to be an orphan")
	}
}

func TestFromEntry(t *testing.T) {
	e := state.Entry{
		ID:      "vol-9",
		Kind:    resource.KindVolume,
		Name:    "stray",
		State:   state.LifecycleCreated,
		Binding: "v-9",
		Orphan:  true,
		Failure: &state.Failure{Reason: "create timed out", Attempts: 3},
	}

	u := FromEntry(e)
	if !u.Orphan {
		t.Fatalf("Expected orphan flag to carry over")
	}
	if u.Reason != "create timed out" || u.Attempts != 3 {
		t.Fatalf("Expected failure details to carry over, got: %+v", u)
	}
	if u.State != state.LifecycleCreated || u.Binding != "v-9" {
		t.Fatalf("Expected state and binding to carry over, got: %+v", u)
	}
}

func TestFromRunResult(t *testing.T) {
	res := &engine.RunResult{
		ID:          "run-1",
		PlanID:      "plan-1",
		Status:      engine.RunStatusPartial,
		CompletedAt: time.Now(),
		Summary:     engine.RunSummary{Total: 3, Succeeded: 2, Deferred: 1},
	}

	u := FromRunResult(res)
	if u.RunID != "run-1" || u.PlanID != "plan-1" {
		t.Fatalf("Expected run identity to carry over, got: %+v", u)
	}
	if u.Status != engine.RunStatusPartial || u.Counts.Deferred != 1 {
		t.Fatalf("Expected status and counts to carry over, got: %+v", u)
	}
}

func TestObserverReportsTransitionsInOrder(t *testing.T) {
	store := state.NewStore()
	rec := &recorder{}
	store.Subscribe(Observer(rec))

	node := resource.Node{
		ID:   "vol-1",
		Kind: resource.KindVolume,
		Name: "data",
		Spec: &resource.VolumeSpec{},
	}
	store.Begin(node)

	if _, err := store.RecordTransition("vol-1", state.LifecycleCreating, state.WithReason("create")); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if _, err := store.RecordTransition("vol-1", state.LifecycleCreated, state.WithBinding("v-1")); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.res) != 2 {
		t.Fatalf("Expected 2 updates, got: %d", len(rec.res))
	}
	if rec.res[0].State != state.LifecycleCreating || rec.res[0].Reason != "create" {
		t.Fatalf("Expected first update creating, got: %+v", rec.res[0])
	}
	if rec.res[1].State != state.LifecycleCreated || rec.res[1].Binding != "v-1" {
		t.Fatalf("Expected second update created with binding, got: %+v", rec.res[1])
	}
}

func TestLogReporterLevels(t *testing.T) {
	var buf bytes.Buffer
	rep := NewLogReporter(zerolog.New(&buf))

	rep.ReportResource(context.Background(), Update{
		ResourceID: "img-1",
		Kind:       resource.KindImage,
		Name:       "nginx",
		State:      state.LifecycleFailed,
		Reason:     "pull timed out",
		Attempts:   3,
	})

	line := buf.String()
	if !strings.Contains(line, `"level":"error"`) {
		t.Fatalf("Expected failed update to log at error level, got: %s", line)
	}
	if !strings.Contains(line, "pull timed out") || !strings.Contains(line, "img-1") {
		t.Fatalf("Expected reason and resource id in log line, got: %s", line)
	}

	buf.Reset()
	rep.ReportRun(context.Background(), RunUpdate{
		RunID:  "run-1",
		PlanID: "plan-1",
		Status: engine.RunStatusSucceeded,
		Counts: engine.RunSummary{Total: 2, Succeeded: 2},
	})
	line = buf.String()
	if !strings.Contains(line, `"level":"info"`) || !strings.Contains(line, "reconcile run completed") {
		t.Fatalf("Expected run summary at info level, got: %s", line)
	}
}

func TestBusReporterResourceEvents(t *testing.T) {
	bus, got := syncBus(t)
	rep := NewBusReporter(bus)

	rep.ReportResource(context.Background(), Update{
		ResourceID: "ctr-1",
		Kind:       resource.KindContainer,
		Name:       "web",
		State:      state.LifecycleRunning,
		Binding:    "c-1",
	})

	e := nextEvent(t, got)
	if e.Type != telemetry.EventTypeResourceStateChanged {
		t.Fatalf("Expected resource.state_changed, got: %s", e.Type)
	}
	if e.ResourceID != "ctr-1" || e.Level != telemetry.EventLevelInfo {
		t.Fatalf("Expected info event for ctr-1, got: %+v", e)
	}
	if e.Data["state"] != "running" {
		t.Fatalf("Expected state in event data, got: %v", e.Data)
	}

	rep.ReportResource(context.Background(), Update{
		ResourceID: "vol-9",
		Kind:       resource.KindVolume,
		Name:       "stray",
		State:      state.LifecycleCreated,
		Orphan:     true,
	})

	e = nextEvent(t, got)
	if e.Type != telemetry.EventTypeOrphanDetected {
		t.Fatalf("Expected orphan.detected, got: %s", e.Type)
	}
	if e.Level != telemetry.EventLevelWarning {
		t.Fatalf("Expected warning level for orphan, got: %s", e.Level)
	}
}

func TestBusReporterRunEvent(t *testing.T) {
	bus, got := syncBus(t)
	rep := NewBusReporter(bus)

	rep.ReportRun(context.Background(), RunUpdate{
		RunID:  "run-7",
		PlanID: "plan-7",
		Status: engine.RunStatusPartial,
		Counts: engine.RunSummary{Total: 4, Succeeded: 3, Deferred: 1},
	})

	e := nextEvent(t, got)
	if e.Type != telemetry.EventTypeReconcileCompleted {
		t.Fatalf("Expected reconcile.completed, got: %s", e.Type)
	}
	if e.RunID != "run-7" || e.Level != telemetry.EventLevelWarning {
		t.Fatalf("Expected warning event for partial run, got: %+v", e)
	}
	if e.Data["plan_id"] != "plan-7" || e.Data["deferred"] != 1 {
		t.Fatalf("Expected run details in event data, got: %v", e.Data)
	}
}

func TestMultiReporterFansOut(t *testing.T) {
	a := &recorder{}
	b := &recorder{}
	multi := MultiReporter{a, b, NopReporter{}}

	multi.ReportResource(context.Background(), Update{ResourceID: "net-1", State: state.LifecycleCreated})
	multi.ReportRun(context.Background(), RunUpdate{RunID: "run-1"})

	for _, rec := range []*recorder{a, b} {
		rec.mu.Lock()
		if len(rec.res) != 1 || len(rec.runs) != 1 {
			t.Fatalf("Expected each reporter to receive every update, got: %d resource, %d run", len(rec.res), len(rec.runs))
		}
		rec.mu.Unlock()
	}
}
