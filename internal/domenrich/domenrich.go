// Package domenrich is the L2 DOM enricher (§4.2): given the raw
// target of a captured browser event, it runs a single scripted
// Runtime.evaluate call to resolve stable identity (css path, xpath,
// attributes, bounding box, normalized text) and the frame chain the
// target lives inside, so L3/M1 never have to round-trip multiple
// protocol calls per captured event.
//
// Grounded on gasoline-mcp's internal/tools/interact/selector.go
// (ExtractElementList's nested-JSON walk over a single evaluated payload)
// and internal/capture/websocket.go's pattern of treating each inbound
// browser-side payload as one opaque JSON blob decoded into a typed
// struct, adapted here to decode the *result* of our own evaluate call
// instead of an extension's push.
package domenrich

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/types"
)

const maxTextChars = 200

// enrichScript computes identity for `target` (a DOM element reference
// the caller has already bound to a local variable in the evaluated
// expression) in one round trip. It is deliberately conservative: no
// external library calls, pure DOM/CSSOM APIs only, since this script
// runs inside the target page with no network access (air-gapped).
const enrichScript = `(function(el) {
  function cssPath(e) {
    if (!(e instanceof Element)) return '';
    var path = [];
    while (e && e.nodeType === Node.ELEMENT_NODE) {
      var selector = e.nodeName.toLowerCase();
      if (e.id) { selector += '#' + e.id; path.unshift(selector); break; }
      var sib = e, nth = 1;
      while (sib = sib.previousElementSibling) { if (sib.nodeName.toLowerCase() === selector) nth++; }
      if (nth !== 1) selector += ':nth-of-type(' + nth + ')';
      path.unshift(selector);
      e = e.parentElement;
    }
    return path.join(' > ');
  }
  function xpath(e) {
    if (!(e instanceof Element)) return '';
    var segs = [];
    for (; e && e.nodeType === Node.ELEMENT_NODE; e = e.parentElement) {
      var idx = 1, sib = e.previousSibling;
      for (; sib; sib = sib.previousSibling) { if (sib.nodeType === Node.ELEMENT_NODE && sib.nodeName === e.nodeName) idx++; }
      segs.unshift(e.nodeName.toLowerCase() + '[' + idx + ']');
    }
    return '/' + segs.join('/');
  }
  var rect = el.getBoundingClientRect();
  var attrs = {};
  for (var i = 0; i < el.attributes.length; i++) { attrs[el.attributes[i].name] = el.attributes[i].value; }
  var frameChain = [];
  var w = window;
  while (w !== w.top) {
    var fe = w.frameElement;
    frameChain.unshift(fe ? cssPath(fe) : '');
    w = w.parent;
  }
  return JSON.stringify({
    tagName: el.tagName.toLowerCase(),
    id: el.id || '',
    name: el.getAttribute('name') || '',
    className: el.className || '',
    css: cssPath(el),
    xpath: xpath(el),
    text: (el.textContent || '').trim(),
    value: (el.value !== undefined ? String(el.value) : ''),
    type: el.getAttribute('type') || '',
    attributes: attrs,
    boundingBox: {x: rect.x, y: rect.y, w: rect.width, h: rect.height},
    frameChain: frameChain
  });
})(%s)`

type evaluateResult struct {
	Result struct {
		Value string `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text string `json:"text"`
	} `json:"exceptionDetails,omitempty"`
}

type enrichPayload struct {
	TagName     string            `json:"tagName"`
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	ClassName   string            `json:"className"`
	CSS         string            `json:"css"`
	XPath       string            `json:"xpath"`
	Text        string            `json:"text"`
	Value       string            `json:"value"`
	Type        string            `json:"type"`
	Attributes  map[string]string `json:"attributes"`
	BoundingBox struct {
		X, Y, W, H float64
	} `json:"boundingBox"`
	FrameChain []string `json:"frameChain"`
}

// Enrich evaluates enrichScript against elementExpr (a JS expression that
// resolves to the target Element, e.g. "document.activeElement" or a
// reference the caller already obtained from an input/DOM event) and
// returns the resolved ElementInfo and frame chain.
func Enrich(ctx context.Context, conn *protocol.Connector, elementExpr string) (*types.ElementInfo, []string, error) {
	expression := fmt.Sprintf(enrichScript, elementExpr)

	raw, err := conn.Send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	})
	if err != nil {
		return nil, nil, apierrors.Wrap(apierrors.KindProtocolError, "evaluating DOM enrichment script", err)
	}

	var result evaluateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, nil, apierrors.Wrap(apierrors.KindProtocolError, "decoding evaluate result", err)
	}
	if result.ExceptionDetails != nil {
		return nil, nil, apierrors.Newf(apierrors.KindProtocolError, "DOM enrichment script threw: %s", result.ExceptionDetails.Text)
	}

	var payload enrichPayload
	if err := json.Unmarshal([]byte(result.Result.Value), &payload); err != nil {
		return nil, nil, apierrors.Wrap(apierrors.KindProtocolError, "decoding enrichment payload", err)
	}

	text := payload.Text
	if len(text) > maxTextChars {
		text = text[:maxTextChars]
	}

	info := &types.ElementInfo{
		TagName:    payload.TagName,
		ID:         payload.ID,
		Name:       payload.Name,
		ClassName:  payload.ClassName,
		CSS:        payload.CSS,
		XPath:      payload.XPath,
		Text:       text,
		Value:      payload.Value,
		Type:       payload.Type,
		Attributes: payload.Attributes,
		BoundingBox: &types.BoundingBox{
			X: payload.BoundingBox.X, Y: payload.BoundingBox.Y,
			W: payload.BoundingBox.W, H: payload.BoundingBox.H,
		},
	}
	return info, payload.FrameChain, nil
}
