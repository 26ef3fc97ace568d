package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event is one outbound message delivered over the channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// AckResult mirrors pkg/apperr's ack envelope.
type AckResult struct {
	Success bool   `json:"success"`
	Hash    string `json:"hash,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Channel is a connected event-channel client: it multiplexes
// outbound broadcasts onto Events() and resolves one ack future per
// emitted message.
type Channel struct {
	ws       *websocket.Conn
	events   chan Event
	mu       sync.Mutex
	pending  map[string]chan ackFrame
	closeErr error
}

type ackFrame struct {
	AckID string `json:"ackId"`
	AckResult
}

type inboundFrame struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId"`
	Data  json.RawMessage `json:"data"`
}

// Dial opens the event channel against baseURL (http:// or https://),
// authenticating via the apiKey query parameter.
func Dial(baseURL, apiKey string) (*Channel, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"
	u.RawQuery = "apiKey=" + url.QueryEscape(apiKey)

	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial channel: %w", err)
	}

	c := &Channel{
		ws:      ws,
		events:  make(chan Event, 32),
		pending: make(map[string]chan ackFrame),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the channel of broadcasts the peer receives.
func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) readLoop() {
	defer close(c.events)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.closeErr = err
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		if frame.AckID != "" && frame.Event == "" {
			c.resolveAck(raw, frame.AckID)
			continue
		}
		c.events <- Event{Name: frame.Event, Data: frame.Data}
	}
}

func (c *Channel) resolveAck(raw []byte, ackID string) {
	c.mu.Lock()
	ch, ok := c.pending[ackID]
	if ok {
		delete(c.pending, ackID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	var ack ackFrame
	_ = json.Unmarshal(raw, &ack)
	ch <- ack
}

func (c *Channel) emit(ctx context.Context, event string, payload any) (AckResult, error) {
	ackID := uuid.NewString()
	data, err := json.Marshal(payload)
	if err != nil {
		return AckResult{}, fmt.Errorf("marshal payload: %w", err)
	}

	waiter := make(chan ackFrame, 1)
	c.mu.Lock()
	c.pending[ackID] = waiter
	c.mu.Unlock()

	msg := inboundFrame{Event: event, AckID: ackID, Data: data}
	if err := c.ws.WriteJSON(msg); err != nil {
		return AckResult{}, fmt.Errorf("write event: %w", err)
	}

	select {
	case ack := <-waiter:
		return ack.AckResult, nil
	case <-ctx.Done():
		return AckResult{}, ctx.Err()
	}
}

// CreateFile emits created-file and waits for its ack.
func (c *Channel) CreateFile(ctx context.Context, path string) (AckResult, error) {
	return c.emit(ctx, "created-file", map[string]string{"path": path})
}

// ModifyFile emits modified-file and waits for its ack.
func (c *Channel) ModifyFile(ctx context.Context, path, content string) (AckResult, error) {
	return c.emit(ctx, "modified-file", map[string]string{"path": path, "content": content})
}

// DeleteFile emits deleted-file and waits for its ack.
func (c *Channel) DeleteFile(ctx context.Context, path string) (AckResult, error) {
	return c.emit(ctx, "deleted-file", map[string]string{"path": path})
}

// RenameFile emits renamed-file and waits for its ack.
func (c *Channel) RenameFile(ctx context.Context, oldPath, newPath string) (AckResult, error) {
	return c.emit(ctx, "renamed-file", map[string]string{"oldPath": oldPath, "newPath": newPath})
}

// Close closes the underlying connection.
func (c *Channel) Close() error {
	return c.ws.Close()
}
