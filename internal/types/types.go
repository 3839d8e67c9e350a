// Package types defines the canonical recording/session data model (§3):
// RecordedSession, RecordedEvent, the closed EventType enum, element
// identity/locator types, input and checkpoint payloads, and the optional
// ObjectRepository collaborator. These types are immutable after persist;
// internal/session owns their JSON codec and schema evolution.
package types

import (
	"fmt"
	"strings"
)

// SchemaVersion is the current on-disk session schema version (§6).
const SchemaVersion = 1

// EventType is the closed enum of recordable user-observable interactions
// (§3). Loading an event with a value outside this set is a Config
// failure, never a silent skip (invariant 1).
type EventType string

const (
	EventNavigate     EventType = "NAVIGATE"
	EventClick        EventType = "CLICK"
	EventDoubleClick  EventType = "DOUBLE_CLICK"
	EventContextMenu  EventType = "CONTEXT_MENU"
	EventInput        EventType = "INPUT"
	EventKeyPress     EventType = "KEY_PRESS"
	EventSelect       EventType = "SELECT"
	EventScroll       EventType = "SCROLL"
	EventAlert        EventType = "ALERT"
	EventWindowSwitch EventType = "WINDOW_SWITCH"
	EventHover        EventType = "HOVER"
	EventFrameSwitch  EventType = "FRAME_SWITCH"
	EventDragDrop     EventType = "DRAG_DROP"
	EventWait         EventType = "WAIT"
	EventCheckpoint   EventType = "CHECKPOINT"
)

var knownEventTypes = map[EventType]bool{
	EventNavigate: true, EventClick: true, EventDoubleClick: true,
	EventContextMenu: true, EventInput: true, EventKeyPress: true,
	EventSelect: true, EventScroll: true, EventAlert: true,
	EventWindowSwitch: true, EventHover: true, EventFrameSwitch: true,
	EventDragDrop: true, EventWait: true, EventCheckpoint: true,
}

// Valid reports whether t is one of the fifteen known event types.
func (t EventType) Valid() bool {
	return knownEventTypes[t]
}

// LocatorStrategy is the tag on a resolved ElementLocator (§3).
type LocatorStrategy string

const (
	StrategyID     LocatorStrategy = "ID"
	StrategyName   LocatorStrategy = "NAME"
	StrategyCSS    LocatorStrategy = "CSS"
	StrategyXPath  LocatorStrategy = "XPATH"
	StrategyHealed LocatorStrategy = "HEALED"
	StrategyText   LocatorStrategy = "TEXT"
)

// Modifier is a held keyboard modifier key (§3, §4.3).
type Modifier string

const (
	ModifierCtrl  Modifier = "CTRL"
	ModifierShift Modifier = "SHIFT"
	ModifierAlt   Modifier = "ALT"
	ModifierMeta  Modifier = "META"
)

// AlertActionKind is the action taken against a native dialog (§3).
type AlertActionKind string

const (
	AlertAccept   AlertActionKind = "ACCEPT"
	AlertDismiss  AlertActionKind = "DISMISS"
	AlertSendKeys AlertActionKind = "SEND_KEYS"
)

// CheckpointType selects what CheckpointData compares (§3).
type CheckpointType string

const (
	CheckpointText           CheckpointType = "TEXT"
	CheckpointElementExists  CheckpointType = "ELEMENT_EXISTS"
	CheckpointURL            CheckpointType = "URL"
	CheckpointTitle          CheckpointType = "TITLE"
	CheckpointAttribute      CheckpointType = "ATTRIBUTE"
	CheckpointScreenshot     CheckpointType = "SCREENSHOT"
)

// MatchMode selects how CheckpointData.ExpectedValue is compared against
// the actual value (§3, §4.11.4).
type MatchMode string

const (
	MatchEquals     MatchMode = "EQUALS"
	MatchContains   MatchMode = "CONTAINS"
	MatchStartsWith MatchMode = "STARTS_WITH"
	MatchRegex      MatchMode = "REGEX"
)

// BoundingBox is an element's viewport rectangle.
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ElementInfo is the recorded identity of a DOM node (§3). Immutable.
// Invariant: for events that require an element, at least one of
// {ID, Name, CSS, XPath} is non-empty — enforced by internal/session on load.
type ElementInfo struct {
	TagName     string            `json:"tagName"`
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name,omitempty"`
	ClassName   string            `json:"className,omitempty"`
	CSS         string            `json:"css,omitempty"`
	XPath       string            `json:"xpath,omitempty"`
	Text        string            `json:"text,omitempty"` // normalized, <=200 chars
	Value       string            `json:"value,omitempty"`
	Type        string            `json:"type,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	BoundingBox *BoundingBox      `json:"boundingBox,omitempty"`
}

// HasAnyLocatableField reports whether at least one of the four primary
// identity fields the locator resolver can key off of is populated.
func (e *ElementInfo) HasAnyLocatableField() bool {
	if e == nil {
		return false
	}
	return e.ID != "" || e.Name != "" || e.CSS != "" || e.XPath != ""
}

// ElementLocator is the resolved tuple a locator strategy produced.
// Never persisted in events; events hold ElementInfo (§3).
type ElementLocator struct {
	Strategy LocatorStrategy `json:"strategy"`
	Value    string          `json:"value"`
}

// SelectedOption is the payload of a SELECT event (§3).
type SelectedOption struct {
	Text  string `json:"text,omitempty"`
	Value string `json:"value,omitempty"`
	Index *int   `json:"index,omitempty"`
}

// InputData carries exactly one of: typed keys, a keyCode+modifiers chord,
// a selected option, or an alert action (§3).
type InputData struct {
	Keys           *string         `json:"keys,omitempty"`
	KeyCode        string          `json:"keyCode,omitempty"`
	Modifiers      []Modifier      `json:"modifiers,omitempty"`
	SelectedOption *SelectedOption `json:"selectedOption,omitempty"`
	AlertAction    AlertActionKind `json:"alertAction,omitempty"`
	PromptText     string          `json:"promptText,omitempty"`
}

// CheckpointData is a non-mutating assertion evaluated during playback
// (§3, §4.11.4).
type CheckpointData struct {
	CheckpointType     CheckpointType `json:"checkpointType"`
	ExpectedValue      *string        `json:"expectedValue,omitempty"`
	MatchMode          MatchMode      `json:"matchMode"`
	CaseSensitive      bool           `json:"caseSensitive"`
	AttributeName      string         `json:"attributeName,omitempty"`
	BaselineImagePath  string         `json:"baselineImagePath,omitempty"`
	ScreenshotThreshold float64       `json:"screenshotThreshold"`
	CheckpointName     string         `json:"checkpointName,omitempty"`
}

// Coordinates is a screen position captured alongside mouse events.
type Coordinates struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RecordedEvent is one user-observable interaction (§3). Immutable
// after persist.
type RecordedEvent struct {
	Timestamp      string          `json:"timestamp"` // ISO-8601 UTC, millisecond precision
	EventType      EventType       `json:"eventType"`
	URL            string          `json:"url,omitempty"`
	Element        *ElementInfo    `json:"element,omitempty"`
	InputData      *InputData      `json:"inputData,omitempty"`
	Coordinates    *Coordinates    `json:"coordinates,omitempty"`
	FrameChain     []string        `json:"frameChain,omitempty"`
	WindowHandle   string          `json:"windowHandle,omitempty"`
	ObjectName     string          `json:"objectName,omitempty"`
	CheckpointData *CheckpointData `json:"checkpointData,omitempty"`
	Comment        string          `json:"comment,omitempty"`
}

// RecordedSession is the ordered, append-only sequence of RecordedEvents
// plus session metadata (§3). Created once at recording start;
// frozen at save.
type RecordedSession struct {
	SessionID     string          `json:"sessionId"`
	BrowserName   string          `json:"browserName"`
	StartedAt     string          `json:"startedAt"`
	EndedAt       string          `json:"endedAt,omitempty"`
	SchemaVersion int             `json:"schemaVersion"`
	Events        []RecordedEvent `json:"events"`
}

// TestObject is an ordered list of candidate locators under a logical name
// (§3 ObjectRepository).
type TestObject struct {
	Name     string           `json:"name"`
	Locators []ElementLocator `json:"locators"`
}

// ObjectRepository maps logical names to TestObjects. An optional
// collaborator: when attached, events referencing an objectName have their
// element field populated at dispatch time if empty (§4.11.2 step 3).
type ObjectRepository struct {
	objects map[string]TestObject
}

// NewObjectRepository builds a repository from a slice of TestObjects.
func NewObjectRepository(objects []TestObject) *ObjectRepository {
	r := &ObjectRepository{objects: make(map[string]TestObject, len(objects))}
	for _, o := range objects {
		r.objects[o.Name] = o
	}
	return r
}

// Lookup returns the TestObject registered under name, if any.
func (r *ObjectRepository) Lookup(name string) (TestObject, bool) {
	if r == nil {
		return TestObject{}, false
	}
	o, ok := r.objects[name]
	return o, ok
}

// RequiresElement reports whether an event of this type must carry element
// identity to be dispatchable (used by session validation in
// internal/session.Parse).
func (t EventType) RequiresElement() bool {
	switch t {
	case EventClick, EventDoubleClick, EventContextMenu, EventInput,
		EventSelect, EventHover:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for readable error messages.
func (t EventType) String() string { return string(t) }

// ParseEventType validates a raw string against the closed enum.
func ParseEventType(raw string) (EventType, error) {
	et := EventType(strings.ToUpper(strings.TrimSpace(raw)))
	if !et.Valid() {
		return "", fmt.Errorf("unknown event type %q", raw)
	}
	return et, nil
}
