package player

import (
	"encoding/json"
	"fmt"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/heal"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// elementRefExpr builds the JS expression that resolves to the DOM node
// identified by a resolved locator, the action-dispatch counterpart to
// domenrich's read-only enrichment expression. windowExpr is the JS
// expression for the window to resolve against (frame.Navigator's
// CurrentWindowExpr, or the literal "window" at the top level) so a
// locator recorded inside an entered frame chain resolves against that
// frame's document instead of the top-level one (§4.9/§4.11.2).
func elementRefExpr(windowExpr string, strategy types.LocatorStrategy, value string) string {
	quoted, _ := json.Marshal(value)
	doc := fmt.Sprintf("(%s).document", windowExpr)
	switch strategy {
	case types.StrategyID:
		return fmt.Sprintf("%s.getElementById(%s)", doc, quoted)
	case types.StrategyName:
		return fmt.Sprintf("%s.getElementsByName(%s)[0]", doc, quoted)
	case types.StrategyCSS:
		return fmt.Sprintf("%s.querySelector(%s)", doc, quoted)
	case types.StrategyXPath, types.StrategyText:
		return fmt.Sprintf("%s.evaluate(%s, %s, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", doc, quoted, doc)
	case types.StrategyHealed:
		if heal.LooksLikeXPath(value) {
			return fmt.Sprintf("%s.evaluate(%s, %s, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", doc, quoted, doc)
		}
		return fmt.Sprintf("%s.querySelector(%s)", doc, quoted)
	default:
		return "null"
	}
}

func decodeBoolResult(raw []byte) (bool, error) {
	var result struct {
		Result struct {
			Value bool `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, apierrors.Wrap(apierrors.KindProtocolError, "decoding boolean evaluate result", err)
	}
	return result.Result.Value, nil
}

func decodeStringResult(raw []byte) (string, error) {
	var result struct {
		Result struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", apierrors.Wrap(apierrors.KindProtocolError, "decoding string evaluate result", err)
	}
	return result.Result.Value, nil
}

func quoteJS(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}
