// Package wait implements P1, the explicit wait primitives (§4.6):
// a fixed set of condition pollers with uniform deadline semantics. There
// is no implicit waiting anywhere in the engine (non-goal); every
// blocking operation in internal/player goes through one of these
// combinators with an explicit, caller-supplied deadline.
//
// Grounded on gasoline-mcp's internal/bridge/timeout.go per-call timeout
// policy, generalized from "one timeout per protocol call" to "poll a
// named condition until true or deadline", since the protocol itself
// exposes no native wait-for-condition command.
package wait

import (
	"context"
	"time"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
)

// defaultPollInterval is how often a Condition is re-evaluated. It is not
// configurable from §6 (only the deadline is exposed there), matching
// gasoline-mcp's fixed internal poll cadence.
const defaultPollInterval = 100 * time.Millisecond

// Condition reports whether the awaited state has been reached. It
// should be cheap and side-effect-free beyond the query it performs
// (e.g. one Runtime.evaluate call).
type Condition func(ctx context.Context) (bool, error)

// Until polls cond every defaultPollInterval until it returns true, ctx's
// deadline elapses, or cond returns an error. what is used only to build
// the KindTimeout error's Detail (§7: messages name what was being
// awaited).
func Until(ctx context.Context, what string, cond Condition) error {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		ok, err := cond(ctx)
		if err != nil {
			return apierrors.Wrap(apierrors.KindTimeout, "evaluating wait condition for "+what, err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return apierrors.Newf(apierrors.KindTimeout, "timed out waiting for %s", what)
		case <-ticker.C:
		}
	}
}

// ForPresent waits until exists reports the element is attached to the DOM.
func ForPresent(ctx context.Context, exists Condition) error {
	return Until(ctx, "element present", exists)
}

// ForVisible waits until visible reports the element has non-zero layout
// box and is not hidden.
func ForVisible(ctx context.Context, visible Condition) error {
	return Until(ctx, "element visible", visible)
}

// ForClickable waits until clickable reports the element is visible,
// enabled, and not obscured by an overlay.
func ForClickable(ctx context.Context, clickable Condition) error {
	return Until(ctx, "element clickable", clickable)
}

// ForPageLoad waits until loaded reports the page's load event has fired.
func ForPageLoad(ctx context.Context, loaded Condition) error {
	return Until(ctx, "page load", loaded)
}

// ForURLContains waits until urlContains reports the current URL contains
// the expected substring.
func ForURLContains(ctx context.Context, substr string, urlContains Condition) error {
	return Until(ctx, "url containing "+substr, urlContains)
}

// ForAlertPresent waits until alertPresent reports a native dialog is open.
func ForAlertPresent(ctx context.Context, alertPresent Condition) error {
	return Until(ctx, "native dialog present", alertPresent)
}

// ForNewWindow waits until newWindow reports the window/tab count has
// increased past a previously observed baseline.
func ForNewWindow(ctx context.Context, newWindow Condition) error {
	return Until(ctx, "new window", newWindow)
}

// WithDeadline builds a context bounded by d, returning ctx's own cancel
// so callers can release resources once the wait resolves.
func WithDeadline(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, d)
}
