// Package poller periodically refreshes tracked instruments with REST
// depth snapshots. It is a slow safety net alongside stream-driven
// resync: a fresh snapshot injected while a book is live re-anchors it
// at the snapshot's sequence.
package poller
