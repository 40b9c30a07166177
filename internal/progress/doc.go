// Package progress carries batch lifecycle events from the dispatcher to
// pluggable sinks. Emitters never block: the Hub buffers events, groups them
// on a background goroutine, and hands each group to every sink.
package progress
