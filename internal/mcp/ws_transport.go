// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// wsTransport is a JSON-RPC transport over a WebSocket connection.
// The WebSocket protocol cannot carry custom auth headers from browser
// contexts, so the URL is used as-is without header injection.
type wsTransport struct {
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	started bool
	closed  bool

	// writeMu serializes writes; gorilla permits one concurrent writer.
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *rawResponse

	notifyMu sync.RWMutex
	onNotify func(mcp.JSONRPCNotification)

	done chan struct{}
}

// rawResponse is an incoming JSON-RPC frame before routing.
type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rawRPCError    `json:"error,omitempty"`
}

type rawRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func newWSTransport(url string, logger *slog.Logger) *wsTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &wsTransport{
		url:     url,
		logger:  logger,
		pending: make(map[string]chan *rawResponse),
		done:    make(chan struct{}),
	}
}

// Start dials the WebSocket endpoint and begins the read loop.
func (t *wsTransport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial %s: %w", t.url, err)
	}

	t.conn = conn
	t.started = true
	go t.readLoop()

	return nil
}

func (t *wsTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.failPending(err)
			return
		}

		var frame rawResponse
		if err := json.Unmarshal(data, &frame); err != nil {
			t.logger.Debug("dropping unparseable websocket frame", "error", err)
			continue
		}

		// Frames with a method and no id are server notifications.
		if frame.Method != "" && len(frame.ID) == 0 {
			var notification mcp.JSONRPCNotification
			if err := json.Unmarshal(data, &notification); err != nil {
				t.logger.Debug("dropping unparseable notification", "error", err)
				continue
			}
			t.notifyMu.RLock()
			handler := t.onNotify
			t.notifyMu.RUnlock()
			if handler != nil {
				handler(notification)
			}
			continue
		}

		if len(frame.ID) == 0 {
			continue
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[string(frame.ID)]
		if ok {
			delete(t.pending, string(frame.ID))
		}
		t.pendingMu.Unlock()

		if ok {
			ch <- &frame
		}
	}
}

// failPending unblocks every in-flight request after a read failure.
func (t *wsTransport) failPending(err error) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.logger.Debug("websocket read loop ended", "url", t.url, "error", err)
	}
}

// SendRequest writes a request frame and waits for its response.
func (t *wsTransport) SendRequest(ctx context.Context, request transport.JSONRPCRequest) (*transport.JSONRPCResponse, error) {
	t.mu.Lock()
	if !t.started || t.conn == nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("websocket transport not started")
	}
	conn := t.conn
	t.mu.Unlock()

	idBytes, err := json.Marshal(request.ID)
	if err != nil {
		return nil, fmt.Errorf("marshal request id: %w", err)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan *rawResponse, 1)
	t.pendingMu.Lock()
	t.pending[string(idBytes)] = ch
	t.pendingMu.Unlock()

	t.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	t.writeMu.Unlock()
	if err != nil {
		t.pendingMu.Lock()
		delete(t.pending, string(idBytes))
		t.pendingMu.Unlock()
		return nil, fmt.Errorf("websocket write: %w", err)
	}

	select {
	case frame, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("websocket connection closed while awaiting response")
		}
		if frame.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", frame.Error.Code, frame.Error.Message)
		}
		return &transport.JSONRPCResponse{
			JSONRPC: frame.JSONRPC,
			ID:      request.ID,
			Result:  frame.Result,
		}, nil
	case <-ctx.Done():
		t.pendingMu.Lock()
		delete(t.pending, string(idBytes))
		t.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("websocket transport closed")
	}
}

// SendNotification writes a notification frame without waiting.
func (t *wsTransport) SendNotification(ctx context.Context, notification mcp.JSONRPCNotification) error {
	t.mu.Lock()
	if !t.started || t.conn == nil {
		t.mu.Unlock()
		return fmt.Errorf("websocket transport not started")
	}
	conn := t.conn
	t.mu.Unlock()

	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// SetNotificationHandler registers the handler for server-initiated
// notifications.
func (t *wsTransport) SetNotificationHandler(handler func(notification mcp.JSONRPCNotification)) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	t.onNotify = handler
}

// Close tears down the connection. Safe to call more than once.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)

	if t.conn != nil {
		// Best effort close frame before dropping the socket.
		deadline := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.writeMu.Lock()
		_ = t.conn.WriteMessage(websocket.CloseMessage, deadline)
		t.writeMu.Unlock()
		return t.conn.Close()
	}
	return nil
}

// GetSessionId implements transport.Interface. WebSocket connections
// have no protocol-level session id.
func (t *wsTransport) GetSessionId() string {
	return ""
}
