// Package util holds small cross-cutting helpers with no natural home
// in a domain package.
//
// Grounded on gasoline-mcp's internal/util/safego.go, retargeted from a
// general-purpose background launcher to protocol.Connector's event-listener
// dispatch (§4.1): a panicking listener (e.g. the popup sentinel's
// dialog handler) must not take down the single read-loop goroutine a
// playback run depends on. Unlike gasoline-mcp's version, a panic is
// routed through internal/logging rather than a raw stderr write, and the
// caller supplies a label identifying which listener panicked, since a
// connector may have many registered listeners and "background goroutine"
// alone wouldn't say which one died.
package util

import (
	"context"
	"runtime/debug"

	"github.com/brennhill/autoqa-engine/internal/logging"
)

// SafeGo launches fn in a goroutine with deferred panic recovery, logging
// the recovered value and stack trace under label if fn panics. Does NOT
// os.Exit — a panicking listener should be survivable so the caller's
// read loop keeps running.
func SafeGo(label string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error(context.Background(), "recovered panic in background goroutine",
					"label", label, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
