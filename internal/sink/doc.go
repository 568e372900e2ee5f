// Package sink delivers normalized book records to their outputs.
//
// Each sink owns a bounded buffer and a writer goroutine, so a slow
// output never blocks the reconstruction path:
//   - timescale: batched inserts into TimescaleDB
//   - jsonl: rotating minute-bucketed JSONL files
//   - redis: top-of-book publisher
package sink
