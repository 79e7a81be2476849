// Package engine implements the reconciliation core of stevedore.
//
// # Overview
//
// The engine converges a desired set of container resources (images,
// volumes, networks, containers) against what the container engine actually
// holds. Convergence is a 4-phase pipeline owned by the Reconciler:
//
//  1. Diff - classify every desired resource against tracked state (Differ)
//  2. Plan - expand the diff into dependency-ordered units (Planner)
//  3. Schedule - execute units concurrently under the plan's edges (Scheduler)
//  4. Record - persist lifecycle transitions around every call (Executor)
//
// Desired state arrives as snapshots of resource nodes. Snapshots coalesce
// into a latest-wins pending slot: a snapshot submitted while a run is in
// flight cancels that run, and the newest snapshot is the one reconciled
// next. The engine itself never watches files or fetches manifests; feeding
// it snapshots is the caller's job.
//
// # Core Types
//
//   - Delta: one resource's classification (create/update/recreate/remove)
//   - Diff: all deltas of one comparison plus orphan findings
//   - PlanUnit: one operation with the unit ids it must wait for
//   - Plan: the executable expansion of a diff
//   - UnitResult / RunResult: per-unit and per-run outcomes
//   - ResourceStatus: the tracked state of one resource
//
// # Error Classification
//
// Gateway failures are classified for retry decisions:
//
//   - Transient: temporary failures worth retrying (engine down, timeout)
//   - Throttled: rate limiting that needs a longer backoff
//   - Conflict: name or reference collisions resolved by adoption or
//     deferral, never by blind retry
//   - Permanent: failures no retry can fix
//
// Use the helper predicates to branch on a classification:
//
//	if IsRetryable(err) {
//	    // transient or throttled
//	}
//
// # Example Usage
//
//	rec := engine.NewReconciler(engine.Config{
//	    Gateway: gw,
//	    Store:   state.NewStore(),
//	    Logger:  logger,
//	})
//
//	if _, err := rec.Rehydrate(ctx); err != nil {
//	    return err
//	}
//	go rec.Run(ctx)
//
//	if err := rec.Submit(ctx, nodes); err != nil {
//	    // snapshot rejected: invalid, cyclic, or denied by policy
//	}
//
// One-shot callers use ReconcileOnce instead of the Run loop and inspect the
// returned RunResult directly.
//
// # Concurrency
//
// The Reconciler serializes runs; within a run the Scheduler executes up to
// Options.MaxParallel units at once. The state store is safe for concurrent
// reads while a run writes transitions.
package engine
