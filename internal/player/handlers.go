package player

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/types"
	"github.com/brennhill/autoqa-engine/internal/wait"
)

// dispatch implements §4.11.3's per-event-type handler table.
func (e *Engine) dispatch(ctx context.Context, ev types.RecordedEvent, index int) error {
	switch ev.EventType {
	case types.EventNavigate:
		return e.navigate(ctx, ev.URL)
	case types.EventClick:
		return e.handleClick(ctx, ev)
	case types.EventDoubleClick:
		return e.handleSimpleElementAction(ctx, ev, "dblclick")
	case types.EventContextMenu:
		return e.handleSimpleElementAction(ctx, ev, "contextmenu")
	case types.EventInput:
		return e.handleInput(ctx, ev)
	case types.EventKeyPress:
		return e.handleKeyPress(ctx, ev)
	case types.EventSelect:
		return e.handleSelect(ctx, ev)
	case types.EventScroll:
		return e.handleScroll(ctx, ev)
	case types.EventAlert:
		return e.handleAlert(ctx, ev)
	case types.EventWindowSwitch:
		return e.handleWindowSwitch(ctx, ev)
	case types.EventHover:
		return e.handleSimpleElementAction(ctx, ev, "mouseover")
	case types.EventFrameSwitch:
		return nil // frame context is handled uniformly via frameChain (§4.11.3)
	case types.EventDragDrop:
		// unimplemented by design (§4.11.3): logged, not failed
		logging.Warn(ctx, "DRAG_DROP is not implemented; skipping step", "index", index)
		return nil
	case types.EventWait:
		return nil // pacing delay alone satisfies this step (§4.11.3)
	case types.EventCheckpoint:
		return e.evaluateCheckpoint(ctx, ev)
	default:
		return apierrors.Newf(apierrors.KindConfig, "no handler registered for eventType %q", ev.EventType)
	}
}

func (e *Engine) waitClickable(ctx context.Context, strategy types.LocatorStrategy, value string) error {
	deadline, cancel := wait.WithDeadline(ctx, e.cfg.ExplicitWait())
	defer cancel()
	windowExpr := e.winExpr()
	return wait.ForClickable(deadline, func(ctx context.Context) (bool, error) {
		expr := fmt.Sprintf(`(function(el) {
  if (!el) return false;
  var style = (%s).getComputedStyle(el);
  if (style.display === 'none' || style.visibility === 'hidden') return false;
  var rect = el.getBoundingClientRect();
  return rect.width > 0 && rect.height > 0 && !el.disabled;
})(%s)`, windowExpr, elementRefExpr(windowExpr, strategy, value))
		raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true})
		if err != nil {
			return false, err
		}
		return decodeBoolResult(raw)
	})
}

func (e *Engine) handleClick(ctx context.Context, ev types.RecordedEvent) error {
	loc, err := e.resolve(ctx, ev)
	if err != nil {
		if ev.Coordinates != nil {
			return e.clickAtPoint(ctx, ev.Coordinates.X, ev.Coordinates.Y)
		}
		return err
	}
	if err := e.waitClickable(ctx, loc.Strategy, loc.Value); err != nil {
		return err
	}
	return e.evalAction(ctx, fmt.Sprintf("(function(el){ if(!el) throw new Error('no element'); el.click(); return true; })(%s)", elementRefExpr(e.winExpr(), loc.Strategy, loc.Value)))
}

func (e *Engine) clickAtPoint(ctx context.Context, x, y float64) error {
	expr := fmt.Sprintf("(function(){ var el = (%s).document.elementFromPoint(%f, %f); if(!el) throw new Error('elementFromPoint found nothing'); el.click(); return true; })()", e.winExpr(), x, y)
	return e.evalAction(ctx, expr)
}

func (e *Engine) handleSimpleElementAction(ctx context.Context, ev types.RecordedEvent, domEventType string) error {
	loc, err := e.resolve(ctx, ev)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(function(el) {
  if (!el) throw new Error('no element');
  var rect = el.getBoundingClientRect();
  var ev = new MouseEvent(%s, {bubbles: true, cancelable: true, clientX: rect.x + rect.width/2, clientY: rect.y + rect.height/2});
  el.dispatchEvent(ev);
  return true;
})(%s)`, quoteJS(domEventType), elementRefExpr(e.winExpr(), loc.Strategy, loc.Value))
	return e.evalAction(ctx, expr)
}

func (e *Engine) handleInput(ctx context.Context, ev types.RecordedEvent) error {
	if ev.InputData == nil {
		return apierrors.New(apierrors.KindConfig, "INPUT event has no inputData")
	}
	loc, err := e.resolve(ctx, ev)
	if err != nil {
		return err
	}
	keys := ""
	if ev.InputData.Keys != nil {
		keys = *ev.InputData.Keys
	}
	expr := fmt.Sprintf(`(function(el) {
  if (!el) throw new Error('no element');
  if ('value' in el) { el.value = ''; el.value = %s; } else { el.textContent = %s; }
  el.dispatchEvent(new Event('input', {bubbles: true}));
  el.dispatchEvent(new Event('change', {bubbles: true}));
  return true;
})(%s)`, quoteJS(keys), quoteJS(keys), elementRefExpr(e.winExpr(), loc.Strategy, loc.Value))
	return e.evalAction(ctx, expr)
}

var namedKeys = map[string]bool{
	"Enter": true, "Tab": true, "Escape": true, "Backspace": true, "Delete": true,
	"ArrowUp": true, "ArrowDown": true, "ArrowLeft": true, "ArrowRight": true,
	"Home": true, "End": true, "PageUp": true, "PageDown": true, "Space": true,
}

func (e *Engine) handleKeyPress(ctx context.Context, ev types.RecordedEvent) error {
	if ev.InputData == nil || !namedKeys[ev.InputData.KeyCode] {
		return apierrors.Newf(apierrors.KindConfig, "KEY_PRESS has unrecognized keyCode %q", keyCodeOf(ev))
	}

	windowExpr := e.winExpr()
	targetExpr := fmt.Sprintf("(%s).document.activeElement", windowExpr)
	if ev.Element.HasAnyLocatableField() {
		loc, err := e.resolve(ctx, ev)
		if err != nil {
			return err
		}
		targetExpr = elementRefExpr(windowExpr, loc.Strategy, loc.Value)
	}

	modFlags := modifierFlags(ev.InputData.Modifiers)
	expr := fmt.Sprintf(`(function(el) {
  if (!el) throw new Error('no element');
  var opts = Object.assign({key: %s, bubbles: true, cancelable: true}, %s);
  el.dispatchEvent(new KeyboardEvent('keydown', opts));
  el.dispatchEvent(new KeyboardEvent('keyup', opts));
  return true;
})(%s)`, quoteJS(ev.InputData.KeyCode), modFlags, targetExpr)
	return e.evalAction(ctx, expr)
}

// xpathTextLiteral quotes s as an XPath string literal, falling back to
// concat() when s itself contains both quote characters (mirrors
// internal/heal's xpathLiteral).
func xpathTextLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2-1)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

func keyCodeOf(ev types.RecordedEvent) string {
	if ev.InputData == nil {
		return ""
	}
	return ev.InputData.KeyCode
}

func modifierFlags(mods []types.Modifier) string {
	flags := map[string]bool{}
	for _, m := range mods {
		switch m {
		case types.ModifierCtrl:
			flags["ctrlKey"] = true
		case types.ModifierShift:
			flags["shiftKey"] = true
		case types.ModifierAlt:
			flags["altKey"] = true
		case types.ModifierMeta:
			flags["metaKey"] = true
		}
	}
	out := "{"
	first := true
	for _, k := range []string{"ctrlKey", "shiftKey", "altKey", "metaKey"} {
		if !first {
			out += ", "
		}
		out += fmt.Sprintf("%s: %v", k, flags[k])
		first = false
	}
	return out + "}"
}

func (e *Engine) handleSelect(ctx context.Context, ev types.RecordedEvent) error {
	loc, err := e.resolve(ctx, ev)
	if err != nil {
		return err
	}
	if ev.InputData == nil || ev.InputData.SelectedOption == nil {
		return apierrors.New(apierrors.KindConfig, "SELECT event has no selectedOption")
	}
	opt := ev.InputData.SelectedOption

	index := "null"
	if opt.Index != nil {
		index = fmt.Sprintf("%d", *opt.Index)
	}
	windowExpr := e.winExpr()
	doc := fmt.Sprintf("(%s).document", windowExpr)
	xpath := fmt.Sprintf("//*[normalize-space(text())=%s]", xpathTextLiteral(opt.Text))
	expr := fmt.Sprintf(`(function(el) {
  if (!el) throw new Error('no element');
  function fire() { el.dispatchEvent(new Event('change', {bubbles: true})); }
  if (el.tagName.toLowerCase() === 'select') {
    var opts = Array.from(el.options);
    var byText = opts.find(o => o.text === %s);
    var byValue = opts.find(o => o.value === %s);
    var idx = %s;
    if (byText) { el.value = byText.value; fire(); return true; }
    if (byValue) { el.value = byValue.value; fire(); return true; }
    if (idx !== null && opts[idx]) { el.selectedIndex = idx; fire(); return true; }
    throw new Error('no matching option');
  }
  el.click();
  var xp = %s;
  var match = %s.evaluate(xp, el, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
           || %s.evaluate(xp, %s, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
  if (!match) throw new Error('no matching custom dropdown option');
  match.click();
  return true;
})(%s)`, quoteJS(opt.Text), quoteJS(opt.Value), index, quoteJS(xpath), doc, doc, doc, elementRefExpr(windowExpr, loc.Strategy, loc.Value))
	return e.evalAction(ctx, expr)
}

func (e *Engine) handleScroll(ctx context.Context, ev types.RecordedEvent) error {
	windowExpr := e.winExpr()
	if ev.Element.HasAnyLocatableField() {
		loc, err := e.resolve(ctx, ev)
		if err != nil {
			return err
		}
		expr := fmt.Sprintf("(function(el){ if(!el) throw new Error('no element'); el.scrollIntoView({block:'center', behavior:'smooth'}); return true; })(%s)", elementRefExpr(windowExpr, loc.Strategy, loc.Value))
		return e.evalAction(ctx, expr)
	}
	x, y := 0.0, 0.0
	if ev.Coordinates != nil {
		x, y = ev.Coordinates.X, ev.Coordinates.Y
	}
	return e.evalAction(ctx, fmt.Sprintf("(function(){ (%s).scrollTo(%f, %f); return true; })()", windowExpr, x, y))
}

// handleAlert confirms the native dialog that the preceding step's action
// was armed (via the Play loop's lookahead) to trigger was actually seen
// and resolved by the popup sentinel with this event's action; the
// sentinel itself performs the resolution as soon as the dialog opens,
// since that can race ahead of per-step dispatch (§4.8, §4.11.3).
func (e *Engine) handleAlert(ctx context.Context, ev types.RecordedEvent) error {
	baseline := e.dialogBaseline
	deadline, cancel := wait.WithDeadline(ctx, e.cfg.ExplicitWait())
	defer cancel()
	return wait.ForAlertPresent(deadline, func(ctx context.Context) (bool, error) {
		return e.sentinel.DialogsSeen() > baseline, nil
	})
}

// handleWindowSwitch implements §4.11.3's WINDOW_SWITCH: a previously seen
// windowHandle is re-attached by replaying its remembered session id;
// otherwise the newly opened page target is found by diffing
// Target.getTargets before and after, attached via flat-session-id
// multiplexing, and made the active session so every later step's
// Runtime.evaluate/Page.* command addresses that window instead of the
// connection's original default target.
func (e *Engine) handleWindowSwitch(ctx context.Context, ev types.RecordedEvent) error {
	if ev.WindowHandle != "" {
		if sessionID, ok := e.trackedWindows[ev.WindowHandle]; ok {
			e.activeSession = sessionID
			return nil
		}
	}

	raw, err := e.conn.Send(ctx, "Target.getTargets", nil)
	if err != nil {
		return err
	}
	baseline, err := pageTargetIDs(raw)
	if err != nil {
		return err
	}

	var newTargetID string
	deadline, cancel := wait.WithDeadline(ctx, e.cfg.ExplicitWait())
	defer cancel()
	if err := wait.ForNewWindow(deadline, func(ctx context.Context) (bool, error) {
		raw, err := e.conn.Send(ctx, "Target.getTargets", nil)
		if err != nil {
			return false, err
		}
		current, err := pageTargetIDs(raw)
		if err != nil {
			return false, err
		}
		for id := range current {
			if !baseline[id] {
				newTargetID = id
				return true, nil
			}
		}
		return false, nil
	}); err != nil {
		return err
	}

	sessionID, err := e.conn.AttachToTarget(ctx, newTargetID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindProtocolError, "attaching to newly opened window", err)
	}
	e.activeSession = sessionID
	if ev.WindowHandle != "" {
		e.trackedWindows[ev.WindowHandle] = sessionID
	}
	return nil
}

// pageTargetIDs returns the targetId of every "page"-type target in a
// Target.getTargets result, keyed for set-difference against a baseline.
func pageTargetIDs(raw []byte) (map[string]bool, error) {
	var result struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
		} `json:"targetInfos"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, apierrors.Wrap(apierrors.KindProtocolError, "decoding Target.getTargets result", err)
	}
	ids := make(map[string]bool, len(result.TargetInfos))
	for _, t := range result.TargetInfos {
		if t.Type == "page" {
			ids[t.TargetID] = true
		}
	}
	return ids, nil
}
