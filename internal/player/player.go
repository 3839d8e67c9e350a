// Package player is P6, the core playback state machine (§4.11): it
// replays a RecordedSession step by step, resolving each step's target
// through P2 (optionally falling over to H2 when healing is enabled),
// driving the browser via L1, and funneling any failure through P5
// evidence collection into a single terminal PlaybackResult.
//
// Grounded on gasoline-mcp's internal/recording/playback_engine.go
// ExecutePlayback loop and PlaybackResult/PlaybackSession types, adapted
// from gasoline-mcp's continue-on-error posture to a
// stop-on-first-failure funnel (§4.11.5): this engine is verifying a
// recorded journey, not best-effort-replaying a log, so a single failed
// step must terminate the run with a structured reason rather than be
// swallowed and counted.
package player

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/config"
	"github.com/brennhill/autoqa-engine/internal/evidence"
	"github.com/brennhill/autoqa-engine/internal/frame"
	"github.com/brennhill/autoqa-engine/internal/heal"
	"github.com/brennhill/autoqa-engine/internal/llmclient"
	"github.com/brennhill/autoqa-engine/internal/locator"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/metrics"
	"github.com/brennhill/autoqa-engine/internal/popup"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/tracing"
	"github.com/brennhill/autoqa-engine/internal/types"
	"github.com/brennhill/autoqa-engine/internal/wait"
)

const blankPageSentinel = "about:blank"

// Engine replays one RecordedSession against a live connector.
type Engine struct {
	conn     *protocol.Connector
	nav      *frame.Navigator
	sentinel *popup.Sentinel
	cfg      config.PlayerConfig
	healCfg  heal.Config
	llm      *llmclient.Client
	objRepo  *types.ObjectRepository

	// trackedWindows maps a recorded windowHandle to the flat session id
	// AttachToTarget returned for it, so a later WINDOW_SWITCH back to an
	// already-visited handle re-addresses that target instead of
	// re-discovering it (§4.11.3).
	trackedWindows map[string]string
	// activeSession is the flat session id subsequent commands are tagged
	// with; empty addresses this connection's original default target.
	activeSession  string
	consoleLog     strings.Builder
	dialogBaseline int
}

// NewEngine constructs a player bound to conn. llm and objRepo are
// optional; pass nil to disable healing / object-repository resolution.
func NewEngine(conn *protocol.Connector, cfg config.PlayerConfig, healCfg heal.Config, llm *llmclient.Client, objRepo *types.ObjectRepository) *Engine {
	return &Engine{
		conn:           conn,
		nav:            frame.NewNavigator(conn),
		sentinel:       popup.Attach(conn),
		cfg:            cfg,
		healCfg:        healCfg,
		llm:            llm,
		objRepo:        objRepo,
		trackedWindows: map[string]string{},
	}
}

// Close detaches the popup sentinel. Callers own the underlying
// Connector's lifecycle.
func (e *Engine) Close() {
	e.sentinel.Detach()
}

// PlaybackResult is the single terminal outcome of a Play call (§4.11.5).
type PlaybackResult struct {
	Success        bool
	StepsCompleted int
	TotalSteps     int
	FailureReason  string
	EvidenceDir    string
}

// Play replays every event in sess in order, stopping at the first
// step-level failure.
func (e *Engine) Play(ctx context.Context, sess types.RecordedSession, sessionID string) (*PlaybackResult, error) {
	total := len(sess.Events)

	if err := e.prePlayback(ctx, sess); err != nil {
		return e.fail(ctx, sessionID, 0, total, err)
	}

	for i, ev := range sess.Events {
		e.armUpcomingAlert(sess.Events, i)

		stepCtx, span := tracing.StartStep(ctx, i, string(ev.EventType))
		start := time.Now()
		err := e.step(stepCtx, ev, i)
		metrics.StepDuration.WithLabelValues(string(ev.EventType)).Observe(time.Since(start).Seconds())
		span.End()

		if err != nil {
			metrics.StepsExecuted.WithLabelValues(string(ev.EventType), "failed").Inc()
			return e.fail(ctx, sessionID, i, total, err)
		}
		metrics.StepsExecuted.WithLabelValues(string(ev.EventType), "ok").Inc()

		select {
		case <-ctx.Done():
			return e.fail(ctx, sessionID, i+1, total, apierrors.New(apierrors.KindInterrupted, "playback cancelled"))
		case <-time.After(e.cfg.StepDelay()):
		}
	}

	return &PlaybackResult{Success: true, StepsCompleted: total, TotalSteps: total}, nil
}

// prePlayback implements §4.11.1: if the recording doesn't open with
// a NAVIGATE, but some event names a non-blank URL, navigate there first
// so element lookups on a freshly-started browser have a page to act on.
func (e *Engine) prePlayback(ctx context.Context, sess types.RecordedSession) error {
	if len(sess.Events) == 0 {
		return nil
	}
	if sess.Events[0].EventType == types.EventNavigate {
		return nil
	}
	for _, ev := range sess.Events {
		if ev.URL != "" && ev.URL != blankPageSentinel {
			return e.navigate(ctx, ev.URL)
		}
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, sessionID string, stepsCompleted, total int, stepErr error) (*PlaybackResult, error) {
	e.nav.ExitFrames()

	apiErr, ok := asAPIError(stepErr)
	if !ok {
		apiErr = apierrors.Wrap(apierrors.KindProtocolError, "unclassified playback failure", stepErr)
	}
	metrics.ErrorsByKind.WithLabelValues(string(apiErr.Kind)).Inc()

	reason := apiErr.Terminal(stepsCompleted, total)

	bundle, evErr := evidence.Collect(ctx, e.conn, e.cfg.EvidenceDir, sessionID, stepsCompleted,
		evidence.Options{
			Screenshot:  e.cfg.ScreenshotOnFailure,
			PageSource:  e.cfg.PageSourceOnFailure,
			ConsoleLogs: e.cfg.ConsoleLogsOnFailure,
		},
		e.consoleLog.String(), reason)
	if evErr != nil {
		logging.Warn(ctx, "evidence collection failed after playback failure", "error", evErr)
	}

	return &PlaybackResult{
		Success:        false,
		StepsCompleted: stepsCompleted,
		TotalSteps:     total,
		FailureReason:  reason,
		EvidenceDir:    bundle.Dir,
	}, apiErr
}

func asAPIError(err error) (*apierrors.Error, bool) {
	apiErr, ok := err.(*apierrors.Error)
	return apiErr, ok
}

// step runs the per-step protocol of §4.11.2 for one event.
func (e *Engine) step(ctx context.Context, ev types.RecordedEvent, index int) error {
	e.runSentinelChecks(ctx)

	enteredFrames := len(ev.FrameChain) > 0
	if enteredFrames {
		fctx, span := tracing.StartPhase(ctx, "frame_enter")
		err := e.nav.EnterFrames(fctx, ev.FrameChain)
		span.End()
		if err != nil {
			return err
		}
	}
	defer func() {
		if enteredFrames {
			e.nav.ExitFrames()
		}
	}()

	if ev.ObjectName != "" && ev.Element == nil && e.objRepo != nil {
		if obj, ok := e.objRepo.Lookup(ev.ObjectName); ok {
			ev.Element = elementInfoFromBestLocator(obj)
		}
	}

	dctx, span := tracing.StartPhase(ctx, "dispatch")
	err := e.dispatch(dctx, ev, index)
	span.End()
	return err
}

// armUpcomingAlert primes the popup sentinel with the next step's explicit
// dialog action before dispatching the current step, since the dialog the
// current step's action opens can be observed and auto-resolved by the
// sentinel before the ALERT step itself ever runs (§4.8, §4.11.3).
func (e *Engine) armUpcomingAlert(events []types.RecordedEvent, index int) {
	if index+1 >= len(events) || events[index+1].EventType != types.EventAlert {
		return
	}
	next := events[index+1]
	action := types.AlertAccept
	promptText := ""
	if next.InputData != nil {
		if next.InputData.AlertAction != "" {
			action = next.InputData.AlertAction
		}
		promptText = next.InputData.PromptText
	}
	e.dialogBaseline = e.sentinel.DialogsSeen()
	e.sentinel.HandleNext(action, promptText)
}

func (e *Engine) runSentinelChecks(ctx context.Context) {
	if warning, changed := e.sentinel.CheckWindowCount(len(e.trackedWindows)); changed {
		logging.Warn(ctx, "popup sentinel: window count changed", "detail", warning)
	}
	if warning, detected := e.sentinel.CheckModalOverlay(ctx); detected {
		logging.Warn(ctx, "popup sentinel: modal overlay detected", "detail", warning)
	}
}

// elementInfoFromBestLocator copies an ObjectRepository TestObject's
// ID/NAME/CSS/XPATH locators into the matching fields of a synthetic
// ElementInfo (a later locator of the same strategy replaces an earlier
// one; other strategies are ignored) so the normal P2 cascade can
// still drive resolution uniformly, regardless of whether identity came
// from the recording or the repository.
func elementInfoFromBestLocator(obj types.TestObject) *types.ElementInfo {
	info := &types.ElementInfo{}
	for _, loc := range obj.Locators {
		switch loc.Strategy {
		case types.StrategyID:
			info.ID = loc.Value
		case types.StrategyName:
			info.Name = loc.Value
		case types.StrategyCSS:
			info.CSS = loc.Value
		case types.StrategyXPath:
			info.XPath = loc.Value
		}
	}
	return info
}

// resolve runs the P2 cascade against ev.Element, falling over to H2
// healing when the cascade is exhausted and healing is enabled.
func (e *Engine) resolve(ctx context.Context, ev types.RecordedEvent) (*types.ElementLocator, error) {
	loc, err := locator.Resolve(ctx, ev.Element, e.cfg.LocatorFallbackAttempts, e.queryExists)
	if err == nil {
		metrics.LocatorAttempts.WithLabelValues(string(loc.Strategy), "ok").Inc()
		return loc, nil
	}
	metrics.LocatorAttempts.WithLabelValues("cascade", "failed").Inc()

	if !e.cfg.HealingEnabled {
		return nil, err
	}

	snippet, snipErr := e.pageSourceSnippet(ctx)
	if snipErr != nil {
		snippet = ""
	}
	result, healErr := heal.Attempt(ctx, e.healCfg, e.llm, snippet, ev.Element, err)
	if healErr != nil {
		metrics.HealingAttempts.WithLabelValues("exhausted", "failed").Inc()
		return nil, healErr
	}
	metrics.HealingAttempts.WithLabelValues(result.Stage, "ok").Inc()

	if found, qErr := e.queryExists(ctx, result.Locator.Strategy, result.Locator.Value); qErr != nil || !found {
		return nil, apierrors.Wrap(apierrors.KindHealingExhausted, "healed locator did not resolve on the live page", err)
	}
	return &result.Locator, nil
}

// evalAction runs a JS expression for its side effect, treating a thrown
// exception as a dispatch failure (§4.11.3's per-handler actuation).
func (e *Engine) evalAction(ctx context.Context, expr string) error {
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	})
	if err != nil {
		return err
	}
	var result struct {
		Result struct {
			Value any `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return apierrors.Wrap(apierrors.KindProtocolError, "decoding evaluate result", err)
	}
	if result.ExceptionDetails != nil {
		return apierrors.Newf(apierrors.KindElementNotFound, "dispatch action raised: %s", result.ExceptionDetails.Text)
	}
	return nil
}

// winExpr returns the JS expression for the window this engine should
// currently dispatch against: the entered frame chain's window, or the
// top-level "window" when no frame is entered (§4.9).
func (e *Engine) winExpr() string {
	return e.nav.CurrentWindowExpr()
}

// send issues a command tagged with the currently switched-to window's
// flat session id (§4.11.3), so every per-step command after a
// WINDOW_SWITCH addresses that window instead of the connection's
// original default target.
func (e *Engine) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return e.conn.SendWithSession(ctx, e.activeSession, method, params)
}

func (e *Engine) queryExists(ctx context.Context, strategy types.LocatorStrategy, value string) (bool, error) {
	ref := elementRefExpr(e.winExpr(), strategy, value)
	expr := fmt.Sprintf("(%s) != null && (%s) !== undefined", ref, ref)
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
	})
	if err != nil {
		return false, err
	}
	return decodeBoolResult(raw)
}

func (e *Engine) pageSourceSnippet(ctx context.Context) (string, error) {
	expr := fmt.Sprintf("(%s).document.documentElement.outerHTML", e.winExpr())
	raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
	})
	if err != nil {
		return "", err
	}
	return decodeStringResult(raw)
}

func (e *Engine) navigate(ctx context.Context, url string) error {
	if url == "" || url == blankPageSentinel {
		return apierrors.New(apierrors.KindFrameNavigation, "navigate event has an empty or blank-page URL")
	}
	if _, err := e.send(ctx, "Page.navigate", map[string]string{"url": url}); err != nil {
		return apierrors.Wrap(apierrors.KindFrameNavigation, "navigating to "+url, err)
	}

	deadline, cancel := wait.WithDeadline(ctx, e.cfg.PageLoadTimeout())
	defer cancel()
	return wait.ForPageLoad(deadline, func(ctx context.Context) (bool, error) {
		raw, err := e.send(ctx, "Runtime.evaluate", map[string]any{
			"expression":    "document.readyState === 'complete'",
			"returnByValue": true,
		})
		if err != nil {
			return false, err
		}
		return decodeBoolResult(raw)
	})
}
