package types

import "testing"

func TestEventTypeValid(t *testing.T) {
	t.Parallel()
	for _, et := range []EventType{
		EventNavigate, EventClick, EventDoubleClick, EventContextMenu,
		EventInput, EventKeyPress, EventSelect, EventScroll, EventAlert,
		EventWindowSwitch, EventHover, EventFrameSwitch, EventDragDrop,
		EventWait, EventCheckpoint,
	} {
		if !et.Valid() {
			t.Errorf("expected %q to be valid", et)
		}
	}
	if EventType("BOGUS").Valid() {
		t.Error("expected unknown event type to be invalid")
	}
}

func TestParseEventType(t *testing.T) {
	t.Parallel()
	got, err := ParseEventType(" click ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != EventClick {
		t.Errorf("got %q, want %q", got, EventClick)
	}
	if _, err := ParseEventType("SCROLL_BAR"); err == nil {
		t.Error("expected error for unknown event type")
	}
}

func TestElementInfoHasAnyLocatableField(t *testing.T) {
	t.Parallel()
	var nilEl *ElementInfo
	if nilEl.HasAnyLocatableField() {
		t.Error("nil element should report false")
	}
	empty := &ElementInfo{TagName: "div"}
	if empty.HasAnyLocatableField() {
		t.Error("expected no locatable fields")
	}
	withID := &ElementInfo{TagName: "input", ID: "submit"}
	if !withID.HasAnyLocatableField() {
		t.Error("expected ID field to count as locatable")
	}
}

func TestRequiresElement(t *testing.T) {
	t.Parallel()
	if !EventClick.RequiresElement() {
		t.Error("expected CLICK to require an element")
	}
	if EventNavigate.RequiresElement() {
		t.Error("expected NAVIGATE to not require an element")
	}
	if EventWait.RequiresElement() {
		t.Error("expected WAIT to not require an element")
	}
}

func TestObjectRepositoryLookup(t *testing.T) {
	t.Parallel()
	repo := NewObjectRepository([]TestObject{
		{Name: "loginButton", Locators: []ElementLocator{
			{Strategy: StrategyID, Value: "login"},
			{Strategy: StrategyCSS, Value: "button.login"},
		}},
	})
	obj, ok := repo.Lookup("loginButton")
	if !ok {
		t.Fatal("expected loginButton to be found")
	}
	if len(obj.Locators) != 2 || obj.Locators[0].Strategy != StrategyID {
		t.Errorf("unexpected locators: %+v", obj.Locators)
	}
	if _, ok := repo.Lookup("missing"); ok {
		t.Error("expected missing object to not be found")
	}

	var nilRepo *ObjectRepository
	if _, ok := nilRepo.Lookup("anything"); ok {
		t.Error("expected nil repository lookup to report false")
	}
}
