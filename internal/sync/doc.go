// Package sync implements the per-user synchronization engine for the
// leaderboard server.
//
// The Coordinator orchestrates one full synchronization pass: it lists
// users from storage, drops users without a usable API key, fans the
// rest out through the rate-limited batch runner to the provider
// client, and processes every result: persisting daily stat records
// and provider call logs, picking up provider-reported timezone
// changes, and invoking achievement awarding.
//
// # Failure isolation
//
//   - Classification outcomes (private, not_found, error) are ordinary
//     results, not failures.
//   - Per-user failures (fetch, storage, awarding) are reported to the
//     injected error sink and never abort sibling users or the pass.
//   - Failure to list users ends the pass early; the next scheduled
//     trigger proceeds normally.
//
// # Reentrancy
//
// A Coordinator runs at most one pass at a time. RunOnce called while a
// pass is in flight is a silent no-op (not queued, not an error), so
// the interval timer and the daily pinned timer can never overlap.
// SyncOneUser sits outside that guard: it serves on-demand single-user
// refreshes and does not go through the batch runner.
package sync
