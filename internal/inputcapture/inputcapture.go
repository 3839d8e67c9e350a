// Package inputcapture is the L3 input-capture source (§4.3): the
// boundary where raw user-observable interactions enter the engine.
// Since the engine is air-gapped and has no OS-level hook library
// anywhere in this pack, capture is modeled the way gasoline-mcp's own
// browser extension delivers events today — an HTTP ingest endpoint the
// in-page instrumentation POSTs one JSON event to per interaction — rather
// than inventing a fabricated native-hook dependency.
//
// Grounded on gasoline-mcp's internal/capture/websocket.go
// (HandleWebSocketEvents: decode one inbound JSON payload per call,
// validate, fan out to registered consumers) adapted from a websocket
// push to a plain HTTP POST, since L3 only needs one-directional ingest
// and no protocol-level correlation.
package inputcapture

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/types"
)

// RawEvent is the wire shape POSTed by in-page instrumentation for a
// single interaction, before L2 enrichment or L4 redaction.
type RawEvent struct {
	Timestamp      string               `json:"timestamp"`
	EventType      string               `json:"eventType"`
	URL            string               `json:"url,omitempty"`
	ElementExpr    string               `json:"elementExpr,omitempty"` // JS expression L2 evaluates to resolve the target
	InputData      *types.InputData     `json:"inputData,omitempty"`
	Coordinates    *types.Coordinates   `json:"coordinates,omitempty"`
	WindowHandle   string               `json:"windowHandle,omitempty"`
	ObjectName     string               `json:"objectName,omitempty"`
	CheckpointData *types.CheckpointData `json:"checkpointData,omitempty"`
	Comment        string               `json:"comment,omitempty"`
}

// Source is a registry of consumers notified as raw events arrive.
// Safe for concurrent use; one Source typically backs one recording
// session's HTTP listener.
type Source struct {
	mu       sync.RWMutex
	handlers []func(RawEvent)
}

// NewSource constructs an empty event source.
func NewSource() *Source {
	return &Source{}
}

// Subscribe registers fn to be called for every ingested event. The
// returned func unregisters it.
func (s *Source) Subscribe(fn func(RawEvent)) func() {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	idx := len(s.handlers) - 1
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.handlers) {
			s.handlers[idx] = nil
		}
	}
}

func (s *Source) dispatch(ev RawEvent) {
	s.mu.RLock()
	handlers := append([]func(RawEvent){}, s.handlers...)
	s.mu.RUnlock()
	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}

// Handler returns the HTTP handler that in-page instrumentation POSTs
// events to. An unknown eventType is rejected with 400 rather than
// silently dropped (invariant: no silent exception swallowing).
func (s *Source) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var ev RawEvent
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&ev); err != nil {
			logging.Warn(r.Context(), "rejecting malformed input-capture payload", "error", err)
			http.Error(w, apierrors.Wrap(apierrors.KindConfig, "malformed capture payload", err).Error(), http.StatusBadRequest)
			return
		}
		if _, err := types.ParseEventType(ev.EventType); err != nil {
			logging.Warn(r.Context(), "rejecting unknown event type", "eventType", ev.EventType)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.dispatch(ev)
		w.WriteHeader(http.StatusAccepted)
	})
}
