// Package bridge hosts the WebSocket endpoint the browser extension dials
// into. It multiplexes two traffic kinds over one connection: id-correlated
// request/response calls initiated by us (tab query, content read, selection
// read) and unsolicited tab lifecycle events pushed by the extension.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bearmind/bearmind/internal/applog"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned for calls issued while no extension is attached.
var ErrNotConnected = errors.New("bridge: no extension connected")

// DefaultCallTimeout bounds one round trip to the extension. Script
// injection into a busy tab can take a few seconds; 10s is generous.
const DefaultCallTimeout = 10 * time.Second

// Actions understood by the extension.
const (
	ActionQueryTabs     = "query-tabs"
	ActionReadContent   = "read-content"
	ActionReadSelection = "read-selection"
)

// Tab lifecycle events pushed by the extension.
const (
	EventTabCreated   = "tab-created"
	EventTabUpdated   = "tab-updated"
	EventTabRemoved   = "tab-removed"
	EventTabActivated = "tab-activated"
)

// OutgoingMsg is a request from us to the extension.
type OutgoingMsg struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	TabID  int    `json:"tabId,omitempty"`
}

// IncomingMsg is a message from the extension: either a response (ID set)
// or a pushed event (Event set).
type IncomingMsg struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Error string `json:"error,omitempty"`

	// Response payloads.
	Tabs        json.RawMessage `json:"tabs,omitempty"`
	ActiveTabID int             `json:"activeTabId,omitempty"`
	Content     string          `json:"content,omitempty"`
	Selection   string          `json:"selection,omitempty"`

	// Event payloads.
	Tab   json.RawMessage `json:"tab,omitempty"`
	TabID int             `json:"tabId,omitempty"`
}

// Event is a tab lifecycle notification.
type Event struct {
	Kind  string
	TabID int
}

// Bridge accepts one extension connection at a time and correlates calls.
type Bridge struct {
	port    int
	timeout time.Duration
	nextID  atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	connCtx context.Context
	pending map[string]chan IncomingMsg

	events chan Event
}

// New creates a Bridge listening (once served) on the given port.
func New(port int) *Bridge {
	return &Bridge{
		port:    port,
		timeout: DefaultCallTimeout,
		pending: make(map[string]chan IncomingMsg),
		events:  make(chan Event, 64),
	}
}

// Port returns the configured port.
func (b *Bridge) Port() int { return b.port }

// Events returns the stream of tab lifecycle events. Events are dropped,
// not blocked on, when the consumer falls behind.
func (b *Bridge) Events() <-chan Event { return b.events }

// Connected reports whether an extension is currently attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Call sends one request and waits for the matching response or timeout.
func (b *Bridge) Call(ctx context.Context, action string, tabID int) (IncomingMsg, error) {
	b.mu.Lock()
	conn := b.conn
	connCtx := b.connCtx
	b.mu.Unlock()
	if conn == nil {
		return IncomingMsg{}, ErrNotConnected
	}

	id := fmt.Sprintf("req-%d", b.nextID.Add(1))
	ch := make(chan IncomingMsg, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	data, err := json.Marshal(OutgoingMsg{ID: id, Action: action, TabID: tabID})
	if err != nil {
		return IncomingMsg{}, err
	}
	applog.Debug("bridge.call", "action", action, "id", id, "tab", tabID)
	if err := conn.Write(connCtx, websocket.MessageText, data); err != nil {
		return IncomingMsg{}, fmt.Errorf("bridge write: %w", err)
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "" {
			return resp, fmt.Errorf("bridge %s: %s", action, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		return IncomingMsg{}, fmt.Errorf("bridge %s: timed out after %s", action, b.timeout)
	case <-ctx.Done():
		return IncomingMsg{}, ctx.Err()
	}
}

// Handler returns an http.Handler that accepts WebSocket upgrades from the
// extension. A new connection replaces any existing one.
func (b *Bridge) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			applog.Error("bridge.accept", err)
			return
		}

		conn.SetReadLimit(16 << 20) // 16 MB — full page HTML can be large

		ctx := r.Context()
		b.mu.Lock()
		if b.conn != nil {
			applog.Info("bridge.replaced")
			b.conn.CloseNow()
		}
		b.conn = conn
		b.connCtx = ctx
		b.mu.Unlock()

		applog.Info("bridge.connected", "remote", r.RemoteAddr)

		defer func() {
			b.mu.Lock()
			if b.conn == conn {
				b.conn = nil
				b.connCtx = nil
			}
			b.mu.Unlock()
			conn.CloseNow()
			applog.Info("bridge.disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var msg IncomingMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				applog.Error("bridge.parse", err)
				continue
			}
			b.dispatch(msg)
		}
	})
}

func (b *Bridge) dispatch(msg IncomingMsg) {
	if msg.ID != "" {
		b.mu.Lock()
		ch := b.pending[msg.ID]
		b.mu.Unlock()
		if ch != nil {
			ch <- msg
		} else {
			applog.Debug("bridge.orphan", "id", msg.ID)
		}
		return
	}
	if msg.Event != "" {
		select {
		case b.events <- Event{Kind: msg.Event, TabID: msg.TabID}:
		default:
		}
	}
}

// ListenAndServe starts the bridge server until ctx is cancelled.
func (b *Bridge) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", b.Handler())

	addr := fmt.Sprintf("127.0.0.1:%d", b.port)
	applog.Info("bridge.start", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	return srv.ListenAndServe()
}
