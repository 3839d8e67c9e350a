package player

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"regexp"
	"strings"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// evaluateCheckpoint implements §4.11.4: a non-mutating assertion
// compared against live page state. A missing expectedValue passes
// trivially with a logged warning rather than failing the step.
func (e *Engine) evaluateCheckpoint(ctx context.Context, ev types.RecordedEvent) error {
	cp := ev.CheckpointData
	if cp == nil {
		return apierrors.New(apierrors.KindConfig, "CHECKPOINT event has no checkpointData")
	}

	if cp.CheckpointType == types.CheckpointScreenshot {
		return e.evaluateScreenshotCheckpoint(ctx, cp)
	}

	actual, err := e.checkpointActual(ctx, ev, cp)
	if err != nil {
		return err
	}

	if cp.ExpectedValue == nil {
		logging.Warn(ctx, "checkpoint has no expectedValue, passing trivially", "checkpoint", cp.CheckpointName)
		return nil
	}
	return assertMatch(cp.CheckpointName, actual, *cp.ExpectedValue, cp)
}

func (e *Engine) checkpointActual(ctx context.Context, ev types.RecordedEvent, cp *types.CheckpointData) (string, error) {
	switch cp.CheckpointType {
	case types.CheckpointURL:
		return e.currentURL(ctx)
	case types.CheckpointTitle:
		return e.currentTitle(ctx)
	case types.CheckpointText:
		loc, err := e.resolve(ctx, ev)
		if err != nil {
			return "", err
		}
		return e.elementText(ctx, loc.Strategy, loc.Value)
	case types.CheckpointAttribute:
		if cp.AttributeName == "" {
			return "", apierrors.New(apierrors.KindConfig, "ATTRIBUTE checkpoint has no attributeName")
		}
		loc, err := e.resolve(ctx, ev)
		if err != nil {
			return "", err
		}
		return e.elementAttribute(ctx, loc.Strategy, loc.Value, cp.AttributeName)
	case types.CheckpointElementExists:
		loc, err := e.resolve(ctx, ev)
		if err != nil {
			return "false", nil
		}
		exists, qErr := e.queryExists(ctx, loc.Strategy, loc.Value)
		if qErr != nil {
			return "", qErr
		}
		return fmt.Sprintf("%v", exists), nil
	default:
		return "", apierrors.Newf(apierrors.KindConfig, "unknown checkpointType %q", cp.CheckpointType)
	}
}

func (e *Engine) currentURL(ctx context.Context) (string, error) {
	expr := fmt.Sprintf("(%s).location.href", e.winExpr())
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true})
	if err != nil {
		return "", err
	}
	return decodeStringResult(raw)
}

func (e *Engine) currentTitle(ctx context.Context) (string, error) {
	expr := fmt.Sprintf("(%s).document.title", e.winExpr())
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true})
	if err != nil {
		return "", err
	}
	return decodeStringResult(raw)
}

func (e *Engine) elementText(ctx context.Context, strategy types.LocatorStrategy, value string) (string, error) {
	expr := fmt.Sprintf("(function(el){ if(!el) throw new Error('no element'); return (el.innerText !== undefined ? el.innerText : el.textContent) || ''; })(%s)", elementRefExpr(e.winExpr(), strategy, value))
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true})
	if err != nil {
		return "", err
	}
	return decodeStringResult(raw)
}

func (e *Engine) elementAttribute(ctx context.Context, strategy types.LocatorStrategy, value, attrName string) (string, error) {
	expr := fmt.Sprintf("(function(el){ if(!el) throw new Error('no element'); return el.getAttribute(%s) || ''; })(%s)", quoteJS(attrName), elementRefExpr(e.winExpr(), strategy, value))
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{"expression": expr, "returnByValue": true})
	if err != nil {
		return "", err
	}
	return decodeStringResult(raw)
}

// evaluateScreenshotCheckpoint implements the SCREENSHOT branch of
// §4.11.4: captures the live viewport, decodes it alongside the
// baseline image named by cp.BaselineImagePath, and fails iff the
// fraction of differing pixels exceeds cp.ScreenshotThreshold.
func (e *Engine) evaluateScreenshotCheckpoint(ctx context.Context, cp *types.CheckpointData) error {
	raw, err := e.send(ctx, "Page.captureScreenshot", map[string]any{"format": "png"})
	if err != nil {
		return err
	}
	var screenshot struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &screenshot); err != nil {
		return apierrors.Wrap(apierrors.KindProtocolError, "decoding captureScreenshot result", err)
	}
	liveBytes, err := base64.StdEncoding.DecodeString(screenshot.Data)
	if err != nil {
		return apierrors.Wrap(apierrors.KindProtocolError, "decoding screenshot base64 payload", err)
	}

	if cp.BaselineImagePath == "" {
		return nil // no baseline recorded to diff against: trivial pass
	}
	baselineBytes, err := os.ReadFile(cp.BaselineImagePath)
	if err != nil {
		return apierrors.Wrap(apierrors.KindCheckpointFailure, "reading screenshot baseline", err)
	}

	ratio, err := pixelDiffRatio(baselineBytes, liveBytes)
	if err != nil {
		return err
	}
	if ratio > cp.ScreenshotThreshold {
		return apierrors.Newf(apierrors.KindCheckpointFailure, "checkpoint %q: screenshot diff ratio %.4f exceeds threshold %.4f", cp.CheckpointName, ratio, cp.ScreenshotThreshold)
	}
	return nil
}

func pixelDiffRatio(a, b []byte) (float64, error) {
	imgA, _, err := image.Decode(bytes.NewReader(a))
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindCheckpointFailure, "decoding baseline image", err)
	}
	imgB, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return 0, apierrors.Wrap(apierrors.KindCheckpointFailure, "decoding captured screenshot", err)
	}

	boundsA, boundsB := imgA.Bounds(), imgB.Bounds()
	if boundsA.Dx() != boundsB.Dx() || boundsA.Dy() != boundsB.Dy() {
		return 1, nil // dimension mismatch counts as total difference
	}

	var diffPixels, totalPixels int
	for y := 0; y < boundsA.Dy(); y++ {
		for x := 0; x < boundsA.Dx(); x++ {
			totalPixels++
			if !pixelsEqual(imgA.At(boundsA.Min.X+x, boundsA.Min.Y+y), imgB.At(boundsB.Min.X+x, boundsB.Min.Y+y)) {
				diffPixels++
			}
		}
	}
	if totalPixels == 0 {
		return 0, nil
	}
	return float64(diffPixels) / float64(totalPixels), nil
}

// pixelsEqual implements §4.11.4's exact-RGB mismatch rule: two pixels
// differ iff any 8-bit channel differs at all, with no tolerance band.
func pixelsEqual(a, b color.Color) bool {
	ca := color.RGBAModel.Convert(a).(color.RGBA)
	cb := color.RGBAModel.Convert(b).(color.RGBA)
	return ca == cb
}

// assertMatch implements the comparison rules of §4.11.4: optional
// case folding, then one of four match modes.
func assertMatch(label, actual, expected string, cp *types.CheckpointData) error {
	a, e := actual, expected
	if !cp.CaseSensitive {
		a = strings.ToLower(a)
		e = strings.ToLower(e)
	}

	var ok bool
	switch cp.MatchMode {
	case types.MatchEquals, "":
		ok = a == e
	case types.MatchContains:
		ok = strings.Contains(a, e)
	case types.MatchStartsWith:
		ok = strings.HasPrefix(a, e)
	case types.MatchRegex:
		pattern := expected
		if !cp.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, reErr := regexp.Compile(pattern)
		if reErr != nil {
			return apierrors.Wrap(apierrors.KindConfig, "compiling checkpoint regex", reErr)
		}
		ok = re.MatchString(actual)
	default:
		return apierrors.Newf(apierrors.KindConfig, "unknown matchMode %q", cp.MatchMode)
	}

	if !ok {
		return apierrors.Newf(apierrors.KindCheckpointFailure, "checkpoint %q: expected %q, got %q", label, expected, actual)
	}
	return nil
}
