package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport carries one request/response exchange with the helper.
type Transport interface {
	Call(ctx context.Context, action string, payload any) (json.RawMessage, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, action string, payload any) (json.RawMessage, error)

func (f TransportFunc) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	return f(ctx, action, payload)
}

// Frame is the envelope exchanged with the helper bridge. Requests carry
// Action and Payload, responses carry OK, Error and Data.
type Frame struct {
	ID      string          `json:"id"`
	Action  string          `json:"action,omitempty"`
	Payload any             `json:"payload,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ErrHelperClosed is returned for calls pending when the connection drops.
var ErrHelperClosed = errors.New("helper connection closed")

// WebSocketTransport talks to the helper bridge over a websocket. The
// connection is dialled lazily and re-dialled after a failure.
type WebSocketTransport struct {
	url    string
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan Frame
	nextID  uint64

	writeMu sync.Mutex
}

func NewWebSocketTransport(url string) *WebSocketTransport {
	return &WebSocketTransport{
		url:     url,
		dialer:  websocket.DefaultDialer,
		pending: make(map[string]chan Frame),
	}
}

func (t *WebSocketTransport) connect(ctx context.Context) (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return t.conn, nil
	}
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial helper %s: %w", t.url, err)
	}
	t.conn = conn
	go t.readLoop(conn)
	return conn, nil
}

func (t *WebSocketTransport) Call(ctx context.Context, action string, payload any) (json.RawMessage, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	reply := make(chan Frame, 1)
	t.mu.Lock()
	t.nextID++
	id := strconv.FormatUint(t.nextID, 10)
	t.pending[id] = reply
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	t.writeMu.Lock()
	err = conn.WriteJSON(Frame{ID: id, Action: action, Payload: payload})
	t.writeMu.Unlock()
	if err != nil {
		t.drop(conn)
		return nil, fmt.Errorf("send %s: %w", action, err)
	}

	select {
	case f, ok := <-reply:
		if !ok {
			return nil, ErrHelperClosed
		}
		if !f.OK {
			if f.Error == "" {
				f.Error = "request rejected"
			}
			return nil, fmt.Errorf("helper %s: %s", action, f.Error)
		}
		return f.Data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("helper %s: %w", action, ctx.Err())
	}
}

func (t *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.drop(conn)
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[f.ID]
		if ok {
			delete(t.pending, f.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

// drop forgets conn and fails every call still waiting on it.
func (t *WebSocketTransport) drop(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != conn {
		return
	}
	_ = conn.Close()
	t.conn = nil
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// Close shuts the connection down.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	t.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()
	t.drop(conn)
	return nil
}
