// Package protocol is the L1 debug-protocol connector (§4.1): a
// persistent bidirectional JSON-RPC-ish channel to a CDP-style debug
// endpoint, correlating command/response pairs by integer id and fanning
// out unsolicited events to registered listeners.
//
// Grounded on chromedp's TargetHandler (other_examples/.../handler.go: a
// `res map[int64]chan *cdp.Message` pending-command table guarded by a
// RWMutex, a monotonic command-id counter, a dedicated read-pump
// goroutine) and on gasoline-mcp's internal/bridge/conn.go and timeout.go
// connection-error classification and per-call timeout policy. Transport
// is github.com/gorilla/websocket in place of chromedp's internal RPCC
// client, and connection establishment is retried with
// github.com/sethvargo/go-retry instead of a hand-rolled backoff loop.
// Message.SessionID and AttachToTarget/SendWithSession follow chromedp's
// flat-session-id multiplexing (other_examples/.../target.go's
// `SessionID target.SessionID` field) so a second browser window opened
// mid-playback can be addressed over this same connection without
// dialing a second one.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/brennhill/autoqa-engine/internal/apierrors"
	"github.com/brennhill/autoqa-engine/internal/logging"
	"github.com/brennhill/autoqa-engine/internal/util"
)

// Message is one frame of the debug-protocol wire format: either a command
// (Method+Params, ID assigned by the sender) or its reply (ID+Result/Error),
// or an unsolicited event (Method+Params, no ID).
type Message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *protocolError  `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Options configures connection establishment.
type Options struct {
	DialTimeout  time.Duration
	RetryCount   uint64
	RetryDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 500 * time.Millisecond
	}
	if o.RetryCount == 0 {
		o.RetryCount = 3
	}
	return o
}

// Connector is a single connection to a debug-protocol endpoint.
type Connector struct {
	conn   *websocket.Conn
	nextID int64

	mu      sync.Mutex
	pending map[int64]chan *Message

	listenersMu sync.RWMutex
	listeners   map[string][]func(json.RawMessage)

	closeOnce sync.Once
	closed    chan struct{}
}

// Connect dials wsURL, retrying the dial itself (not commands) up to
// opts.RetryCount times (3 when left zero), and starts the background
// read pump.
func Connect(ctx context.Context, wsURL string, opts Options) (*Connector, error) {
	opts = opts.withDefaults()

	var conn *websocket.Conn
	backoff := retry.NewConstant(opts.RetryDelay)
	if opts.RetryCount > 0 {
		backoff = retry.WithMaxRetries(opts.RetryCount, backoff)
	}

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
		c, _, dialErr := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
		if dialErr != nil {
			logging.Warn(ctx, "debug protocol dial failed, retrying", "url", wsURL, "error", dialErr)
			return retry.RetryableError(dialErr)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransport, "dialing debug protocol endpoint", err)
	}

	c := &Connector{
		conn:      conn,
		pending:   make(map[int64]chan *Message),
		listeners: make(map[string][]func(json.RawMessage)),
		closed:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// TargetDescriptor is one entry of a debug-protocol endpoint's /json
// target list.
type TargetDescriptor struct {
	Type                 string `json:"type"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// DiscoverPageTarget implements the endpoint-discovery step of §4.1/§6:
// GET httpBaseURL+"/json" and return the webSocketDebuggerUrl of the
// first target whose type is "page" — a debug-protocol endpoint also
// lists background pages, service workers, and extension targets, and a
// recorded session was only ever captured against a page target.
func DiscoverPageTarget(ctx context.Context, httpBaseURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(httpBaseURL, "/")+"/json", nil)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindTransport, "building target-listing request", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindTransport, "fetching target list", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apierrors.Newf(apierrors.KindTransport, "target-listing endpoint returned status %d", resp.StatusCode)
	}
	var targets []TargetDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&targets); err != nil {
		return "", apierrors.Wrap(apierrors.KindTransport, "decoding target list", err)
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	return "", apierrors.New(apierrors.KindTransport, "no page target found at debug protocol endpoint")
}

// ConnectViaDiscovery performs target discovery against httpBaseURL (a
// loopback debug-protocol endpoint's HTTP origin, e.g.
// "http://127.0.0.1:9222") and connects to the first page target it
// finds. The combined discover-then-dial sequence is retried as a unit
// under opts, since a browser that is still starting up may answer the
// target-listing request before any page target exists yet.
func ConnectViaDiscovery(ctx context.Context, httpBaseURL string, opts Options) (*Connector, error) {
	opts = opts.withDefaults()

	var wsURL string
	backoff := retry.NewConstant(opts.RetryDelay)
	if opts.RetryCount > 0 {
		backoff = retry.WithMaxRetries(opts.RetryCount, backoff)
	}
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		discoverCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
		url, discErr := DiscoverPageTarget(discoverCtx, httpBaseURL)
		if discErr != nil {
			logging.Warn(ctx, "page target discovery failed, retrying", "endpoint", httpBaseURL, "error", discErr)
			return retry.RetryableError(discErr)
		}
		wsURL = url
		return nil
	})
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransport, "discovering page target", err)
	}
	return Connect(ctx, wsURL, opts)
}

// Send issues a command and blocks until its reply arrives, ctx is
// cancelled, or the connection closes.
func (c *Connector) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.sendInternal(ctx, "", method, params)
}

// SendWithSession issues a command tagged with sessionID, the flat
// session id a prior AttachToTarget returned, so the endpoint addresses
// it to that attached target rather than the connection's default one
// (§4.11.3's WINDOW_SWITCH). An empty sessionID behaves exactly like Send.
func (c *Connector) SendWithSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	return c.sendInternal(ctx, sessionID, method, params)
}

func (c *Connector) sendInternal(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindProtocolError, "encoding command params", err)
		}
		raw = encoded
	}

	id := atomic.AddInt64(&c.nextID, 1)
	reply := make(chan *Message, 1)

	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := Message{ID: id, Method: method, Params: raw, SessionID: sessionID}
	if err := c.conn.WriteJSON(msg); err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransport, fmt.Sprintf("writing command %s", method), err)
	}

	select {
	case <-ctx.Done():
		return nil, apierrors.Wrap(apierrors.KindTimeout, fmt.Sprintf("waiting for %s reply", method), ctx.Err())
	case <-c.closed:
		return nil, apierrors.New(apierrors.KindInterrupted, "connector closed while awaiting reply")
	case resp := <-reply:
		if resp.Error != nil {
			return nil, apierrors.Newf(apierrors.KindProtocolError, "%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	}
}

// AttachToTarget calls Target.attachToTarget with flatten:true, the flat
// session-id multiplexing model this connector uses so several targets
// can be addressed over the one physical connection (§4.11.3), and
// returns the session id the endpoint assigns the newly attached target.
func (c *Connector) AttachToTarget(ctx context.Context, targetID string) (string, error) {
	raw, err := c.Send(ctx, "Target.attachToTarget", map[string]any{"targetId": targetID, "flatten": true})
	if err != nil {
		return "", err
	}
	var result struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", apierrors.Wrap(apierrors.KindProtocolError, "decoding attachToTarget result", err)
	}
	if result.SessionID == "" {
		return "", apierrors.New(apierrors.KindProtocolError, "attachToTarget returned no sessionId")
	}
	return result.SessionID, nil
}

// Enable sends the conventional "<Domain>.enable" command.
func (c *Connector) Enable(ctx context.Context, domain string) error {
	_, err := c.Send(ctx, domain+".enable", nil)
	return err
}

// OnEvent registers fn to be invoked for every event matching method.
// The returned func unregisters it.
func (c *Connector) OnEvent(method string, fn func(params json.RawMessage)) func() {
	c.listenersMu.Lock()
	c.listeners[method] = append(c.listeners[method], fn)
	idx := len(c.listeners[method]) - 1
	c.listenersMu.Unlock()

	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		fns := c.listeners[method]
		if idx < len(fns) {
			fns[idx] = nil
		}
	}
}

// Close terminates the connection and fails every pending command with
// KindInterrupted.
func (c *Connector) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Connector) readLoop() {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.Close()
			return
		}

		if msg.ID != 0 {
			c.mu.Lock()
			ch, ok := c.pending[msg.ID]
			c.mu.Unlock()
			if ok {
				m := msg
				ch <- &m
			}
			continue
		}

		if msg.Method == "" {
			continue
		}
		c.listenersMu.RLock()
		fns := append([]func(json.RawMessage){}, c.listeners[msg.Method]...)
		c.listenersMu.RUnlock()
		params := msg.Params
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			// Listeners (e.g. the popup sentinel) may call back into
			// Send, which blocks on a reply only this read loop can
			// deliver; running them inline would deadlock the connector.
			fn := fn
			util.SafeGo("listener:"+msg.Method, func() { fn(params) })
		}
	}
}
