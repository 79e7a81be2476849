// Package stores persists the agent's state cache in SQLite: the current
// entry for every managed resource, an append-only transition journal, and
// reconcile run summaries. The cache is advisory; the reconciler functions
// fully without it, and rehydration only consults it to enrich what the
// engine reports. The status command reads it without a running daemon.
package stores
