// Package normalize renders validated book transitions into the
// canonical record schema consumed by sinks, and derives top-of-book
// views from live ladders.
package normalize
