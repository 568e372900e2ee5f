// Package metrics provides lightweight atomic counters for feed health.
//
// Key counters:
//   - Decode failures and pre-snapshot drops
//   - Stale-duplicate drops and gap detections
//   - Resync attempts, successes, failures
//   - Replay/pending buffer overflows
//   - Emitted record counts
//
// Counters are owned per instrument worker; the Registry aggregates
// them for the debug HTTP endpoint. The core never prints metrics
// itself.
package metrics
