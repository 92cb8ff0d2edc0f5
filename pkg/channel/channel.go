// Package channel is the websocket side of the messaging channel: it dials
// the gateway with a bearer credential, decodes the event envelope and
// dispatches to a Handler, and serializes outbound intents.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Surajsingh419/chat-system/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Handler receives decoded channel events. All callbacks run on the read
// goroutine, in arrival order.
type Handler interface {
	HandleConnect()
	HandleDisconnect()
	HandleConnectError(err error)
	HandleAllUsers(users []model.User)
	HandleRecentMessages(h model.RecentMessages)
	HandleMessage(msg model.Message)
	HandleTyping(ev model.TypingEvent)
	HandleStopTyping(ev model.TypingEvent)
}

// Client is a single gateway connection. It does not reconnect; on loss it
// reports HandleDisconnect and the owner may dial again.
type Client struct {
	conn    *websocket.Conn
	handler Handler

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the gateway websocket endpoint, e.g.
// "ws://localhost:8080/ws", authenticating with the bearer token. No events
// flow until Start attaches a handler, so the owner can finish wiring the
// state layer first.
func Dial(ctx context.Context, rawURL, token string) (*Client, error) {
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("dial %s: %w", rawURL, model.ErrAuthentication)
		}
		return nil, fmt.Errorf("dial %s: %w", rawURL, err)
	}

	return &Client{
		conn: conn,
		done: make(chan struct{}),
	}, nil
}

// Start attaches the handler, fires HandleConnect and begins the read and
// keepalive loops. Call exactly once per dialed client.
func (c *Client) Start(handler Handler) {
	c.handler = handler
	handler.HandleConnect()
	go c.readLoop()
	go c.pingLoop()
}

func (c *Client) readLoop() {
	defer func() {
		c.Close()
		c.handler.HandleDisconnect()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("channel read failed", "error", err)
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("channel dropped undecodable frame", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env model.Envelope) {
	switch env.Type {
	case model.EventAllUsers:
		var users []model.User
		if c.decode(env, &users) {
			c.handler.HandleAllUsers(users)
		}
	case model.EventRecentMessages:
		var h model.RecentMessages
		if c.decode(env, &h) {
			c.handler.HandleRecentMessages(h)
		}
	case model.EventMessage:
		var msg model.Message
		if c.decode(env, &msg) {
			// Normalize here so nothing downstream sees the nested
			// sender/receiver variants.
			c.handler.HandleMessage(msg.Normalized())
		}
	case model.EventTyping:
		var ev model.TypingEvent
		if c.decode(env, &ev) {
			c.handler.HandleTyping(ev)
		}
	case model.EventStopTyping:
		var ev model.TypingEvent
		if c.decode(env, &ev) {
			c.handler.HandleStopTyping(ev)
		}
	case model.EventError:
		var ev model.ErrorEvent
		if !c.decode(env, &ev) {
			return
		}
		if ev.Message == "Authentication error" {
			c.handler.HandleConnectError(fmt.Errorf("gateway: %w", model.ErrAuthentication))
			return
		}
		c.handler.HandleConnectError(fmt.Errorf("gateway: %s", ev.Message))
	default:
		slog.Debug("channel ignored unknown event", "type", env.Type)
	}
}

func (c *Client) decode(env model.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		slog.Warn("channel dropped malformed event", "type", env.Type, "error", err)
		return false
	}
	return true
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) send(eventType string, data any) error {
	env, err := model.NewEnvelope(eventType, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("write %s: %w", eventType, err)
	}
	return nil
}

// JoinPrivateChat subscribes to the DM conversation with targetUserID; the
// gateway answers with a recentMessages push echoing nonce.
func (c *Client) JoinPrivateChat(targetUserID string, nonce uint64) error {
	return c.send(model.EventJoinPrivateChat, model.JoinPrivateChat{TargetUserID: targetUserID, Nonce: nonce})
}

func (c *Client) SendMessage(out model.SendMessage) error {
	return c.send(model.EventSendMessage, out)
}

// Typing signals typing activity toward targetUserID. The gateway stamps the
// sender's id and username from the connection claims.
func (c *Client) Typing(targetUserID string) error {
	return c.send(model.EventTyping, model.TypingEvent{TargetUserID: targetUserID})
}

func (c *Client) StopTyping(targetUserID string) error {
	return c.send(model.EventStopTyping, model.TypingEvent{TargetUserID: targetUserID})
}

func (c *Client) RequestAllUsers() error {
	return c.send(model.EventGetAllUsers, struct{}{})
}

// Close performs the close handshake and releases the connection. Safe to
// call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
