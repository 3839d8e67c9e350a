// Package popup is P3, the popup sentinel (§4.8): a per-step check
// run before dispatch that auto-dismisses native dialogs, and
// warns (never fails the step) when the window count changed unexpectedly
// or a DOM modal overlay is covering the viewport.
//
// Grounded on gasoline-mcp's internal/tools/interact handling of
// JavaScript dialogs as an always-on side channel rather than a
// per-action option, and on its general warn-don't-fail posture for
// conditions that are informative but not blocking.
package popup

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// Sentinel watches a single Connector for native dialogs for the
// lifetime of a playback run and tracks the window handle count baseline.
type Sentinel struct {
	conn            *protocol.Connector
	unsub           func()
	baselineWindows int

	mu             sync.Mutex
	lastDialogType string
	seenCount      int
	nextAction     *types.AlertActionKind
	nextPrompt     string
}

type javascriptDialogOpening struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Attach registers a Page.javascriptDialogOpening listener that resolves
// each dialog as it opens, applying types.AlertAccept/Dismiss/SendKeys
// when an InputData.AlertAction override was armed via HandleNext;
// absent an override, dialogs are dismissed.
func Attach(conn *protocol.Connector) *Sentinel {
	s := &Sentinel{conn: conn}
	s.unsub = conn.OnEvent("Page.javascriptDialogOpening", func(params json.RawMessage) {
		var d javascriptDialogOpening
		if err := json.Unmarshal(params, &d); err == nil {
			s.mu.Lock()
			s.lastDialogType = d.Type
			s.seenCount++
			s.mu.Unlock()
		}

		action, prompt := s.consumeOverride()
		s.dismiss(context.Background(), action, prompt)
	})
	return s
}

// HandleNext arms the resolution for the next dialog this sentinel
// observes, letting an ALERT event's explicit action (§4.11.3)
// override the default auto-dismiss. One-shot: consumed by the next
// dialog and then reverts to auto-dismiss.
func (s *Sentinel) HandleNext(action types.AlertActionKind, promptText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := action
	s.nextAction = &a
	s.nextPrompt = promptText
}

func (s *Sentinel) consumeOverride() (types.AlertActionKind, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextAction == nil {
		return types.AlertDismiss, ""
	}
	action, prompt := *s.nextAction, s.nextPrompt
	s.nextAction = nil
	s.nextPrompt = ""
	return action, prompt
}

// DialogsSeen returns the count of dialogs dismissed so far.
func (s *Sentinel) DialogsSeen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seenCount
}

// Detach stops listening for dialogs.
func (s *Sentinel) Detach() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *Sentinel) dismiss(ctx context.Context, action types.AlertActionKind, promptText string) {
	params := map[string]any{"accept": action != types.AlertDismiss}
	if action == types.AlertSendKeys {
		params["promptText"] = promptText
	}
	if _, err := s.conn.Send(ctx, "Page.handleJavaScriptDialog", params); err != nil {
		logging.Warn(ctx, "popup sentinel failed to dismiss dialog", "error", err)
	}
}

// SetWindowBaseline records the current window/handle count to compare
// future counts against.
func (s *Sentinel) SetWindowBaseline(count int) {
	s.baselineWindows = count
}

// CheckWindowCount compares the live count against the baseline and
// returns a warning message if it changed; it never returns an error,
// per this warn-only semantics for this condition.
func (s *Sentinel) CheckWindowCount(current int) (warning string, changed bool) {
	if current == s.baselineWindows {
		return "", false
	}
	return fmt.Sprintf("window count changed from %d to %d", s.baselineWindows, current), true
}

// modalOverlaySelectorList is the fixed selector list §4.8 names: ARIA
// dialog roles plus the class names the common modal frameworks in use
// attach to their overlay container.
const modalOverlaySelectorList = "[role=dialog]:not([aria-hidden=true]), " +
	"[role=alertdialog]:not([aria-hidden=true]), " +
	".modal.show, .modal.in, .MuiModal-root, .ReactModal__Overlay, .ant-modal-wrap, .v-overlay--active"

// ModalOverlayScript is evaluated via Runtime.evaluate to warn-only detect
// a visible DOM modal overlay matching modalOverlaySelectorList.
const ModalOverlayScript = `(function() {
  var els = document.querySelectorAll('` + modalOverlaySelectorList + `');
  for (var i = 0; i < els.length; i++) {
    var style = window.getComputedStyle(els[i]);
    if (style.display === 'none' || style.visibility === 'hidden') continue;
    var rect = els[i].getBoundingClientRect();
    if (rect.width > 0 && rect.height > 0) return true;
  }
  return false;
})()`

// CheckModalOverlay evaluates ModalOverlayScript over conn and returns a
// warning message (never an error) when a covering overlay is detected.
func (s *Sentinel) CheckModalOverlay(ctx context.Context) (warning string, detected bool) {
	raw, err := s.conn.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    ModalOverlayScript,
		"returnByValue": true,
	})
	if err != nil {
		logging.Warn(ctx, "popup sentinel modal overlay check failed", "error", err)
		return "", false
	}
	var result struct {
		Result struct {
			Value bool `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", false
	}
	if result.Result.Value {
		return "a DOM modal overlay is covering the viewport", true
	}
	return "", false
}
