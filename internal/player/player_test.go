package player

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/brennhill/autoqa-engine/internal/config"
	"github.com/brennhill/autoqa-engine/internal/heal"
	"github.com/brennhill/autoqa-engine/internal/protocol"
	"github.com/brennhill/autoqa-engine/internal/types"
)

var upgrader = websocket.Upgrader{}

// fakeEngineServer answers the small slice of CDP methods the player
// exercises. Runtime.evaluate replies come from the test's onEvaluate
// hook when it claims the expression, and are {"value": true} otherwise,
// so tests control resolution per scenario by matching on the expression.
type fakeEngineServer struct {
	t          *testing.T
	onEvaluate func(expr string) (json.RawMessage, bool)
}

func (f *fakeEngineServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg protocol.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Method {
			case "Page.navigate":
				conn.WriteJSON(protocol.Message{ID: msg.ID, Result: json.RawMessage(`{}`)})
			case "Page.captureScreenshot":
				result, _ := json.Marshal(map[string]string{"data": ""})
				conn.WriteJSON(protocol.Message{ID: msg.ID, Result: result})
			case "Page.handleJavaScriptDialog":
				conn.WriteJSON(protocol.Message{ID: msg.ID, Result: json.RawMessage(`{}`)})
			case "Target.getTargets":
				result, _ := json.Marshal(map[string]any{"targetInfos": []map[string]string{{"type": "page"}}})
				conn.WriteJSON(protocol.Message{ID: msg.ID, Result: result})
			case "Runtime.evaluate":
				var params struct {
					Expression string `json:"expression"`
				}
				json.Unmarshal(msg.Params, &params)
				if f.onEvaluate != nil {
					if raw, ok := f.onEvaluate(params.Expression); ok {
						conn.WriteJSON(protocol.Message{ID: msg.ID, Result: raw})
						continue
					}
				}
				result, _ := json.Marshal(map[string]any{"result": map[string]any{"value": true}})
				conn.WriteJSON(protocol.Message{ID: msg.ID, Result: result})
			default:
				conn.WriteJSON(protocol.Message{ID: msg.ID, Result: json.RawMessage(`{}`)})
			}
		}
	}
}

func newTestEngine(t *testing.T, onEvaluate func(expr string) (json.RawMessage, bool)) (*Engine, func()) {
	t.Helper()
	f := &fakeEngineServer{t: t, onEvaluate: onEvaluate}
	srv := httptest.NewServer(f.handler())

	conn, err := protocol.Connect(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), protocol.Options{})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	cfg := config.PlayerConfig{
		ExplicitWaitSec:         1,
		PageLoadTimeoutSec:      1,
		StepDelayMs:             0,
		LocatorFallbackAttempts: 4,
		HealingEnabled:          false,
		EvidenceDir:             t.TempDir(),
	}
	e := NewEngine(conn, cfg, heal.DefaultConfig(), nil, nil)

	return e, func() {
		e.Close()
		conn.Close()
		srv.Close()
	}
}

func boolValue(v bool) (json.RawMessage, bool) {
	raw, _ := json.Marshal(map[string]any{"result": map[string]any{"value": v}})
	return raw, true
}

func TestPlaySucceedsOnAllPassingSteps(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		return boolValue(true)
	})
	defer cleanup()

	sess := types.RecordedSession{
		Events: []types.RecordedEvent{
			{EventType: types.EventNavigate, URL: "https://example.test"},
			{EventType: types.EventClick, Element: &types.ElementInfo{ID: "submit"}},
			{EventType: types.EventWait},
		},
	}

	result, err := e.Play(context.Background(), sess, "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.StepsCompleted != 3 {
		t.Fatalf("expected success with 3 steps completed, got %+v", result)
	}
}

func TestPlayStopsAtFirstFailure(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		if strings.Contains(expr, "readyState") {
			return boolValue(true)
		}
		return boolValue(false)
	})
	defer cleanup()

	sess := types.RecordedSession{
		Events: []types.RecordedEvent{
			{EventType: types.EventNavigate, URL: "https://example.test"},
			{EventType: types.EventClick, Element: &types.ElementInfo{ID: "missing"}},
			{EventType: types.EventWait},
		},
	}

	result, err := e.Play(context.Background(), sess, "sess-2")
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if result.StepsCompleted != 1 {
		t.Fatalf("expected to stop after step 1, got %d completed", result.StepsCompleted)
	}
	if result.FailureReason == "" {
		t.Error("expected a non-empty failure reason")
	}
}

func TestDispatchDragDropIsSkippedNotFailed(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, nil)
	defer cleanup()

	err := e.dispatch(context.Background(), types.RecordedEvent{EventType: types.EventDragDrop}, 0)
	if err != nil {
		t.Fatalf("expected DRAG_DROP to be a no-op, got %v", err)
	}
}

func TestDispatchFrameSwitchIsNoOp(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, nil)
	defer cleanup()

	err := e.dispatch(context.Background(), types.RecordedEvent{EventType: types.EventFrameSwitch}, 0)
	if err != nil {
		t.Fatalf("expected FRAME_SWITCH to be a no-op, got %v", err)
	}
}

func TestHandleClickFallsBackToCoordinatesOnLocatorFailure(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		if strings.Contains(expr, "elementFromPoint") {
			return boolValue(true)
		}
		return boolValue(false)
	})
	defer cleanup()

	ev := types.RecordedEvent{
		EventType:   types.EventClick,
		Element:     &types.ElementInfo{ID: "ghost"},
		Coordinates: &types.Coordinates{X: 10, Y: 20},
	}
	if err := e.dispatch(context.Background(), ev, 0); err != nil {
		t.Fatalf("expected coordinate fallback to succeed, got %v", err)
	}
}

func TestHandleClickFailsWithNoLocatorAndNoCoordinates(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		return boolValue(false)
	})
	defer cleanup()

	ev := types.RecordedEvent{EventType: types.EventClick, Element: &types.ElementInfo{ID: "ghost"}}
	if err := e.dispatch(context.Background(), ev, 0); err == nil {
		t.Fatal("expected failure with no locator and no coordinates")
	}
}

func TestHandleInputRequiresInputData(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, nil)
	defer cleanup()

	ev := types.RecordedEvent{EventType: types.EventInput, Element: &types.ElementInfo{ID: "field"}}
	if err := e.dispatch(context.Background(), ev, 0); err == nil {
		t.Fatal("expected INPUT without inputData to fail")
	}
}

func TestHandleKeyPressRejectsUnknownKeyCode(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, nil)
	defer cleanup()

	ev := types.RecordedEvent{
		EventType: types.EventKeyPress,
		InputData: &types.InputData{KeyCode: "Xyzzy"},
	}
	if err := e.dispatch(context.Background(), ev, 0); err == nil {
		t.Fatal("expected unrecognized keyCode to fail")
	}
}

func TestHandleKeyPressAcceptsNamedKey(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		return boolValue(true)
	})
	defer cleanup()

	ev := types.RecordedEvent{
		EventType: types.EventKeyPress,
		InputData: &types.InputData{KeyCode: "Enter", Modifiers: []types.Modifier{types.ModifierCtrl}},
	}
	if err := e.dispatch(context.Background(), ev, 0); err != nil {
		t.Fatalf("expected known keyCode to succeed, got %v", err)
	}
}

func TestCheckpointTextPassesOnMatch(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		if strings.Contains(expr, "innerText") {
			raw, _ := json.Marshal(map[string]any{"result": map[string]any{"value": "Welcome Back"}})
			return raw, true
		}
		return boolValue(true)
	})
	defer cleanup()

	expected := "welcome back"
	ev := types.RecordedEvent{
		EventType: types.EventCheckpoint,
		Element:   &types.ElementInfo{ID: "banner"},
		CheckpointData: &types.CheckpointData{
			CheckpointType: types.CheckpointText,
			MatchMode:      types.MatchEquals,
			ExpectedValue:  &expected,
		},
	}
	if err := e.dispatch(context.Background(), ev, 0); err != nil {
		t.Fatalf("expected checkpoint to pass, got %v", err)
	}
}

func TestCheckpointFailsOnMismatch(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		if strings.Contains(expr, "location.href") {
			raw, _ := json.Marshal(map[string]any{"result": map[string]any{"value": "https://example.test/login"}})
			return raw, true
		}
		return boolValue(true)
	})
	defer cleanup()

	expected := "https://example.test/dashboard"
	ev := types.RecordedEvent{
		EventType: types.EventCheckpoint,
		CheckpointData: &types.CheckpointData{
			CheckpointType: types.CheckpointURL,
			MatchMode:      types.MatchEquals,
			ExpectedValue:  &expected,
		},
	}
	if err := e.dispatch(context.Background(), ev, 0); err == nil {
		t.Fatal("expected checkpoint mismatch to fail")
	}
}

func TestCheckpointMissingExpectedValuePassesTrivially(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		raw, _ := json.Marshal(map[string]any{"result": map[string]any{"value": "https://example.test/dashboard"}})
		return raw, true
	})
	defer cleanup()

	ev := types.RecordedEvent{
		EventType: types.EventCheckpoint,
		CheckpointData: &types.CheckpointData{
			CheckpointType: types.CheckpointURL,
			MatchMode:      types.MatchEquals,
		},
	}
	if err := e.dispatch(context.Background(), ev, 0); err != nil {
		t.Fatalf("expected trivial pass with no expectedValue, got %v", err)
	}
}

func TestArmUpcomingAlertPrimesSentinelBeforeTriggeringStep(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		return boolValue(true)
	})
	defer cleanup()

	events := []types.RecordedEvent{
		{EventType: types.EventClick, Element: &types.ElementInfo{ID: "opens-dialog"}},
		{EventType: types.EventAlert, InputData: &types.InputData{AlertAction: types.AlertDismiss}},
	}
	e.armUpcomingAlert(events, 0)

	if e.dialogBaseline != 0 {
		t.Errorf("expected baseline recorded from current DialogsSeen count, got %d", e.dialogBaseline)
	}
}

func TestPrePlaybackNavigatesWhenFirstEventIsNotNavigate(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		return boolValue(true)
	})
	defer cleanup()

	sess := types.RecordedSession{
		Events: []types.RecordedEvent{
			{EventType: types.EventWait, URL: "https://example.test/start"},
		},
	}
	if err := e.prePlayback(context.Background(), sess); err != nil {
		t.Fatalf("expected prePlayback to navigate successfully, got %v", err)
	}
}

// TestStepScopesElementLookupToEnteredFrameChain confirms a step whose
// recorded event carries a frameChain actually resolves/acts against that
// frame's window, not the top-level document (§4.9/§4.11.2) — step, not
// dispatch, is what enters the chain before handing off to dispatch.
func TestStepScopesElementLookupToEnteredFrameChain(t *testing.T) {
	t.Parallel()
	var sawFrameScopedLookup bool
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		if strings.Contains(expr, "getElementById") && strings.Contains(expr, "frameElement") {
			sawFrameScopedLookup = true
		}
		return boolValue(true)
	})
	defer cleanup()

	ev := types.RecordedEvent{
		EventType:  types.EventClick,
		Element:    &types.ElementInfo{ID: "submit"},
		FrameChain: []string{"0"},
	}
	if err := e.step(context.Background(), ev, 0); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !sawFrameScopedLookup {
		t.Fatal("expected element lookup to be scoped through the entered frame chain's window expression")
	}
}

// TestStepLeavesLookupUnscopedWithoutFrameChain guards the complementary
// case: an event with no frameChain must resolve against the bare
// top-level document, not leak a stale entered-frame scope from a prior
// step (ExitFrames runs deferred at the end of step).
func TestStepLeavesLookupUnscopedWithoutFrameChain(t *testing.T) {
	t.Parallel()
	var sawTopLevelLookup bool
	e, cleanup := newTestEngine(t, func(expr string) (json.RawMessage, bool) {
		if strings.Contains(expr, "getElementById") && !strings.Contains(expr, "frameElement") {
			sawTopLevelLookup = true
		}
		return boolValue(true)
	})
	defer cleanup()

	ev := types.RecordedEvent{EventType: types.EventClick, Element: &types.ElementInfo{ID: "submit"}}
	if err := e.step(context.Background(), ev, 0); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !sawTopLevelLookup {
		t.Fatal("expected element lookup to be scoped to the top-level document")
	}
}

func TestPrePlaybackIsNoOpWhenFirstEventIsNavigate(t *testing.T) {
	t.Parallel()
	e, cleanup := newTestEngine(t, nil)
	defer cleanup()

	sess := types.RecordedSession{
		Events: []types.RecordedEvent{{EventType: types.EventNavigate, URL: "https://example.test"}},
	}
	if err := e.prePlayback(context.Background(), sess); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
