// Package frame is P4, the frame navigator (§4.9): it walks a
// recorded frame chain (a sequence of integer frame indices and/or CSS
// selectors) into the target iframe before dispatch and back out to the
// top-level document after, using Runtime.evaluate against an expression
// built up per segment rather than a dedicated CDP frame-tree walk, since
// this pack carries no richer frame API.
//
// Grounded on gasoline-mcp's internal/tools/interact frame-aware selector
// handling and on chromedp's target/frame indexing conventions observed
// in other_examples/.../target.go, adapted to the simpler "chain of
// selectors, not full target switching" model this calls for.
package frame

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/protocol"
)

// segmentScript resolves one frame-chain segment (an integer index into
// window.frames, or a CSS selector for an <iframe>) against the window
// expression substituted for %s, returning that frame's contentWindow so
// the next segment can descend further.
const segmentScript = `(function(w, seg) {
  var idx = parseInt(seg, 10);
  var frameEl;
  if (!isNaN(idx) && String(idx) === seg) {
    if (!w.frames[idx]) throw new Error('frame not found: ' + seg);
    frameEl = w.frames[idx].frameElement;
    if (frameEl) return frameEl.contentWindow;
    return w.frames[idx];
  }
  frameEl = w.document.querySelector(seg);
  if (!frameEl) throw new Error('frame not found: ' + seg);
  return frameEl.contentWindow;
})(%s, %s)`

func segmentExpr(windowExpr, seg string) string {
	quotedSeg, _ := json.Marshal(seg)
	return fmt.Sprintf(segmentScript, windowExpr, quotedSeg)
}

// Navigator walks a frame chain by composing a JS expression that refers
// to the current frame's window object, re-evaluated fresh for each
// dispatch since execution contexts are invalidated by navigation.
type Navigator struct {
	conn  *protocol.Connector
	chain []string
}

// NewNavigator constructs a Navigator bound to conn.
func NewNavigator(conn *protocol.Connector) *Navigator {
	return &Navigator{conn: conn}
}

// EnterFrames descends into each segment of chain in order, validating
// each step resolves to a real frame before moving to the next.
func (n *Navigator) EnterFrames(ctx context.Context, chain []string) error {
	windowExpr := "window"
	for i, seg := range chain {
		expr := segmentExpr(windowExpr, seg)
		if err := n.probe(ctx, expr); err != nil {
			return apierrors.Wrap(apierrors.KindFrameNavigation,
				fmt.Sprintf("entering frame chain at segment %d (%s)", i, seg), err)
		}
		windowExpr = "(" + expr + ")"
	}
	n.chain = append([]string{}, chain...)
	return nil
}

// ExitFrames returns to the top-level document.
func (n *Navigator) ExitFrames() {
	n.chain = nil
}

// CurrentWindowExpr returns a JS expression resolving to the window
// object of the frame the navigator last entered, for use by
// domenrich/player when evaluating against the current frame.
func (n *Navigator) CurrentWindowExpr() string {
	windowExpr := "window"
	for _, seg := range n.chain {
		windowExpr = "(" + segmentExpr(windowExpr, seg) + ")"
	}
	return windowExpr
}

func (n *Navigator) probe(ctx context.Context, expr string) error {
	raw, err := n.conn.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression": expr,
	})
	if err != nil {
		return err
	}
	var result struct {
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails,omitempty"`
	}
	if err := json.Unmarshal(raw, &result); err == nil && result.ExceptionDetails != nil {
		return apierrors.New(apierrors.KindFrameNavigation, result.ExceptionDetails.Text)
	}
	return nil
}
