// Package connection maintains the websocket feeds.
//
// One Feed per venue:
//   - dials the venue's public stream and subscribes the configured
//     depth topics
//   - tags every frame with a connection ID so downstream consumers can
//     distinguish reconnect epochs
//   - reconnects with jittered exponential backoff
package connection
