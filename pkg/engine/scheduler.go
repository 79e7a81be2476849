package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/graph"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// maxBackoff caps the delay between retry attempts.
const maxBackoff = 30 * time.Second

// Options tune plan execution.
type Options struct {
	// MaxParallel is the number of units executed concurrently.
	MaxParallel int

	// RetryMax is the number of retries after a failed first attempt.
	// Only transient and throttled errors are retried. Zero selects the
	// default; a negative value disables retries.
	RetryMax int

	// RetryBackoff is the base delay before the first retry. Subsequent
	// retries double it, with jitter, up to maxBackoff. Throttled errors
	// start from a ten times longer base.
	RetryBackoff time.Duration

	// OpTimeout bounds a single executor attempt.
	OpTimeout time.Duration

	// StopTimeout bounds the graceful stop before a container removal.
	StopTimeout time.Duration
}

// DefaultOptions returns the values used for fields left zero.
func DefaultOptions() Options {
	return Options{
		MaxParallel:  4,
		RetryMax:     3,
		RetryBackoff: 500 * time.Millisecond,
		OpTimeout:    5 * time.Minute,
		StopTimeout:  30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxParallel <= 0 {
		o.MaxParallel = def.MaxParallel
	}
	switch {
	case o.RetryMax == 0:
		o.RetryMax = def.RetryMax
	case o.RetryMax < 0:
		o.RetryMax = 0
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = def.RetryBackoff
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = def.OpTimeout
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = def.StopTimeout
	}
	return o
}

// Scheduler executes a plan's units concurrently while honoring the plan's
// dependency edges. A unit becomes ready once every prerequisite reached a
// terminal status; a bounded worker pool drains the ready queue.
type Scheduler struct {
	executor *Executor
	store    *state.Store
	logger   zerolog.Logger
	opts     Options
}

// NewScheduler creates a scheduler around an executor.
func NewScheduler(executor *Executor, store *state.Store, logger zerolog.Logger, opts Options) *Scheduler {
	return &Scheduler{
		executor: executor,
		store:    store,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		opts:     opts.withDefaults(),
	}
}

// Run executes the plan and returns the per-unit outcomes. A unit whose
// prerequisite failed or was skipped is skipped without executing; one whose
// prerequisite was deferred is deferred in turn. Cancelling the context
// stops new dispatch while in-flight units run to completion on a detached
// context, and units never started are counted aborted.
func (s *Scheduler) Run(ctx context.Context, desired *graph.Graph, plan *Plan) (*RunResult, error) {
	run := &RunResult{
		ID:        uuid.New().String(),
		PlanID:    plan.ID,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	if plan.Empty() {
		return s.finalize(run, plan, nil, ctx.Err() != nil), nil
	}

	pr, err := newPlanRun(plan)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("plan_id", plan.ID).
		Int("units", len(plan.Units)).
		Int("max_parallel", s.opts.MaxParallel).
		Msg("run started")

	ready := make(chan *PlanUnit, len(plan.Units))
	for _, unit := range pr.initialReady {
		ready <- unit
	}

	workers := s.opts.MaxParallel
	if workers > len(plan.Units) {
		workers = len(plan.Units)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range ready {
				s.runUnit(ctx, desired, pr, unit)
				pr.complete(unit, ready)
			}
		}()
	}
	wg.Wait()

	return s.finalize(run, plan, pr, ctx.Err() != nil), nil
}

// runUnit decides whether a ready unit executes, then drives it to a
// terminal status.
func (s *Scheduler) runUnit(ctx context.Context, desired *graph.Graph, pr *planRun, unit *PlanUnit) {
	result := pr.results[unit.ID]
	result.StartedAt = time.Now()

	switch {
	case ctx.Err() != nil:
		result.Status = UnitStatusAborted

	default:
		if blocked := pr.blockedBy(unit); blocked != nil {
			s.cascade(unit, result, blocked)
		} else {
			result.Status = UnitStatusRunning
			s.executeWithRetry(ctx, desired, unit, result)
		}
	}

	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	s.logUnit(unit, result)
}

// cascade propagates a prerequisite's terminal status onto a unit that will
// not execute. Failed or skipped prerequisites skip the unit and mark the
// resource skipped; deferred prerequisites defer it; aborted ones abort it.
func (s *Scheduler) cascade(unit *PlanUnit, result *UnitResult, blocked *UnitResult) {
	switch blocked.Status {
	case UnitStatusFailed, UnitStatusSkipped:
		result.Status = UnitStatusSkipped
		result.Error = NewPermanentError(fmt.Sprintf("dependency %s %s", blocked.UnitID, blocked.Status), nil).
			WithCode(ErrCodeDependencyFailed).
			WithResource(string(unit.ResourceID)).
			WithOperation(string(unit.Op))
		reason := fmt.Sprintf("dependency %s failed", blocked.ResourceID.Short())
		if _, err := s.store.RecordTransition(unit.ResourceID, state.LifecycleSkipped,
			state.WithFailureReason(reason)); err != nil {
			s.logger.Warn().Err(err).Str("unit_id", unit.ID).Msg("skip transition rejected")
		}

	case UnitStatusDeferred:
		result.Status = UnitStatusDeferred
		result.Error = NewConflictError(fmt.Sprintf("blocked by deferred unit %s", blocked.UnitID), nil).
			WithCode(ErrCodeInUse).
			WithResource(string(unit.ResourceID)).
			WithOperation(string(unit.Op))

	case UnitStatusAborted:
		result.Status = UnitStatusAborted
	}
}

// executeWithRetry runs executor attempts until success, a non-retryable
// failure, a deferral, or the retry budget is spent. Attempts run on a
// detached context so cancellation never interrupts a call already in
// flight; it only suppresses further retries.
func (s *Scheduler) executeWithRetry(ctx context.Context, desired *graph.Graph, unit *PlanUnit, result *UnitResult) {
	detached := context.WithoutCancel(ctx)
	throttled := false

	for attempt := 0; attempt <= s.opts.RetryMax; attempt++ {
		if attempt > 0 {
			delay := s.backoff(attempt, throttled)
			s.logger.Debug().
				Str("unit_id", unit.ID).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying unit")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				result.Status = UnitStatusFailed
				return
			}
		}

		attemptCtx, cancel := context.WithTimeout(detached, s.opts.OpTimeout)
		err := s.executor.Execute(attemptCtx, desired, unit)
		cancel()

		result.Attempts = attempt + 1
		if err == nil {
			result.Status = UnitStatusSucceeded
			result.Error = nil
			return
		}

		engErr := asEngineError(err)
		result.Error = engErr

		if unit.Op == OperationRemove && engErr.Code == ErrCodeInUse {
			result.Status = UnitStatusDeferred
			return
		}
		if !IsRetryable(engErr) {
			result.Status = UnitStatusFailed
			return
		}
		throttled = IsThrottled(engErr)
		if ctx.Err() != nil {
			result.Status = UnitStatusFailed
			return
		}
	}
	result.Status = UnitStatusFailed
}

// backoff computes the delay before the given retry attempt, exponential
// with jitter.
func (s *Scheduler) backoff(attempt int, throttled bool) time.Duration {
	base := s.opts.RetryBackoff
	if throttled {
		base *= 10
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			delay = maxBackoff
			break
		}
	}

	// Jitter between 75% and 125% keeps concurrent retries from aligning.
	delay = time.Duration(float64(delay) * (0.75 + 0.5*rand.Float64()))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

// logUnit emits one log line per finished unit.
func (s *Scheduler) logUnit(unit *PlanUnit, result *UnitResult) {
	event := s.logger.Info()
	if result.Status == UnitStatusFailed {
		event = s.logger.Warn()
	}
	if result.Error != nil {
		event = event.Str("error", result.Error.Error())
	}
	event.
		Str("unit_id", unit.ID).
		Str("op", string(unit.Op)).
		Str("kind", string(unit.Kind)).
		Str("name", unit.Name).
		Int("attempts", result.Attempts).
		Dur("duration", result.Duration).
		Msg("unit " + string(result.Status))
}

// finalize assembles per-unit results in plan order and computes the run
// summary and terminal status.
func (s *Scheduler) finalize(run *RunResult, plan *Plan, pr *planRun, cancelled bool) *RunResult {
	run.Cancelled = cancelled
	run.Results = make([]UnitResult, 0, len(plan.Units))
	run.Summary.Total = len(plan.Units)

	for _, unit := range plan.Units {
		result := pr.results[unit.ID]
		switch result.Status {
		case UnitStatusSucceeded:
			run.Summary.Succeeded++
		case UnitStatusFailed:
			run.Summary.Failed++
		case UnitStatusSkipped:
			run.Summary.Skipped++
		case UnitStatusDeferred:
			run.Summary.Deferred++
		case UnitStatusAborted:
			run.Summary.Aborted++
		}
		run.Results = append(run.Results, *result)
	}

	run.CompletedAt = time.Now()
	run.Duration = run.CompletedAt.Sub(run.StartedAt)
	run.Status = run.Summary.finalStatus(cancelled)

	s.logger.Info().
		Str("plan_id", run.PlanID).
		Str("status", string(run.Status)).
		Int("succeeded", run.Summary.Succeeded).
		Int("failed", run.Summary.Failed).
		Int("skipped", run.Summary.Skipped).
		Int("deferred", run.Summary.Deferred).
		Int("aborted", run.Summary.Aborted).
		Dur("duration", run.Duration).
		Msg("run finished")
	return run
}

// planRun tracks the in-degree countdown of a single plan execution.
type planRun struct {
	mu           sync.Mutex
	units        map[string]*PlanUnit
	results      map[string]*UnitResult
	dependents   map[string][]string
	indegree     map[string]int
	remaining    int
	initialReady []*PlanUnit
}

// newPlanRun indexes the plan, validates its edges, and seeds the ready set.
// Plans whose edges do not order completely are rejected before anything
// runs.
func newPlanRun(plan *Plan) (*planRun, error) {
	pr := &planRun{
		units:      make(map[string]*PlanUnit, len(plan.Units)),
		results:    make(map[string]*UnitResult, len(plan.Units)),
		dependents: make(map[string][]string),
		indegree:   make(map[string]int, len(plan.Units)),
		remaining:  len(plan.Units),
	}

	for _, unit := range plan.Units {
		if _, dup := pr.units[unit.ID]; dup {
			return nil, NewPermanentError(fmt.Sprintf("duplicate plan unit %s", unit.ID), nil).
				WithCode(ErrCodeInternal)
		}
		pr.units[unit.ID] = unit
		pr.results[unit.ID] = &UnitResult{
			UnitID:     unit.ID,
			ResourceID: unit.ResourceID,
			Kind:       unit.Kind,
			Op:         unit.Op,
			Status:     UnitStatusPending,
		}
	}

	for _, unit := range plan.Units {
		for _, dep := range unit.DependsOn {
			if _, ok := pr.units[dep]; !ok {
				return nil, NewPermanentError(fmt.Sprintf("plan unit %s depends on unknown unit %s", unit.ID, dep), nil).
					WithCode(ErrCodeInternal)
			}
			pr.dependents[dep] = append(pr.dependents[dep], unit.ID)
			pr.indegree[unit.ID]++
		}
	}

	for _, unit := range plan.Units {
		if pr.indegree[unit.ID] == 0 {
			pr.initialReady = append(pr.initialReady, unit)
		}
	}

	// A counting pass over a scratch copy proves the edges acyclic.
	scratch := make(map[string]int, len(pr.indegree))
	for id, deg := range pr.indegree {
		scratch[id] = deg
	}
	queue := make([]string, 0, len(pr.initialReady))
	for _, unit := range pr.initialReady {
		queue = append(queue, unit.ID)
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range pr.dependents[id] {
			scratch[dep]--
			if scratch[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed != len(plan.Units) {
		return nil, NewPermanentError("plan dependency edges contain a cycle", nil).
			WithCode(ErrCodeCycle)
	}

	return pr, nil
}

// blockedBy returns the prerequisite result that prevents a unit from
// executing, or nil when every prerequisite succeeded. Failed and skipped
// prerequisites take precedence over deferred, deferred over aborted.
func (pr *planRun) blockedBy(unit *PlanUnit) *UnitResult {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	var deferred, aborted *UnitResult
	for _, dep := range unit.DependsOn {
		result := pr.results[dep]
		switch result.Status {
		case UnitStatusFailed, UnitStatusSkipped:
			return result
		case UnitStatusDeferred:
			deferred = result
		case UnitStatusAborted:
			aborted = result
		}
	}
	if deferred != nil {
		return deferred
	}
	return aborted
}

// complete marks a unit terminal, releases dependents whose last
// prerequisite it was, and closes the ready channel once the plan is
// drained.
func (pr *planRun) complete(unit *PlanUnit, ready chan *PlanUnit) {
	pr.mu.Lock()
	var newly []*PlanUnit
	for _, dep := range pr.dependents[unit.ID] {
		pr.indegree[dep]--
		if pr.indegree[dep] == 0 {
			newly = append(newly, pr.units[dep])
		}
	}
	pr.remaining--
	done := pr.remaining == 0
	pr.mu.Unlock()

	for _, u := range newly {
		ready <- u
	}
	if done {
		close(ready)
	}
}

// asEngineError coerces any executor error into the engine taxonomy.
func asEngineError(err error) *EngineError {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr
	}
	return NewPermanentError(err.Error(), err)
}
