package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Surajsingh419/chat-system/pkg/model"
)

type collectingHandler struct {
	connected    chan struct{}
	disconnected chan struct{}
	errs         chan error
	users        chan []model.User
	histories    chan model.RecentMessages
	messages     chan model.Message
	typings      chan model.TypingEvent
	stops        chan model.TypingEvent
}

func newCollectingHandler() *collectingHandler {
	return &collectingHandler{
		connected:    make(chan struct{}, 1),
		disconnected: make(chan struct{}, 1),
		errs:         make(chan error, 4),
		users:        make(chan []model.User, 4),
		histories:    make(chan model.RecentMessages, 4),
		messages:     make(chan model.Message, 4),
		typings:      make(chan model.TypingEvent, 4),
		stops:        make(chan model.TypingEvent, 4),
	}
}

func (h *collectingHandler) HandleConnect()                              { h.connected <- struct{}{} }
func (h *collectingHandler) HandleDisconnect()                           { h.disconnected <- struct{}{} }
func (h *collectingHandler) HandleConnectError(err error)                { h.errs <- err }
func (h *collectingHandler) HandleAllUsers(users []model.User)           { h.users <- users }
func (h *collectingHandler) HandleRecentMessages(m model.RecentMessages) { h.histories <- m }
func (h *collectingHandler) HandleMessage(msg model.Message)             { h.messages <- msg }
func (h *collectingHandler) HandleTyping(ev model.TypingEvent)           { h.typings <- ev }
func (h *collectingHandler) HandleStopTyping(ev model.TypingEvent)       { h.stops <- ev }

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeGateway upgrades one connection and exposes both directions.
type fakeGateway struct {
	srv      *httptest.Server
	conns    chan *websocket.Conn
	received chan model.Envelope
	tokens   chan string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	g := &fakeGateway{
		conns:    make(chan *websocket.Conn, 1),
		received: make(chan model.Envelope, 16),
		tokens:   make(chan string, 1),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.tokens <- r.Header.Get("Authorization")
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.conns <- conn
		for {
			var env model.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			g.received <- env
		}
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func (g *fakeGateway) wsURL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *fakeGateway) push(t *testing.T, eventType string, data any) {
	t.Helper()
	env, err := model.NewEnvelope(eventType, data)
	if err != nil {
		t.Fatal(err)
	}
	conn := <-g.conns
	g.conns <- conn
	if err := conn.WriteJSON(env); err != nil {
		t.Fatal(err)
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestDialSendsBearerToken(t *testing.T) {
	g := newFakeGateway(t)
	h := newCollectingHandler()

	c, err := Dial(context.Background(), g.wsURL(), "tok123")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	c.Start(h)

	waitFor(t, h.connected, "connect callback")
	if got := waitFor(t, g.tokens, "auth header"); got != "Bearer tok123" {
		t.Fatalf("auth header = %q", got)
	}
}

func TestDialAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), "bad")
	if !errors.Is(err, model.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestInboundEventsDispatch(t *testing.T) {
	g := newFakeGateway(t)
	h := newCollectingHandler()

	c, err := Dial(context.Background(), g.wsURL(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Start(h)
	waitFor(t, h.connected, "connect callback")

	g.push(t, model.EventAllUsers, []model.User{{ID: "1", Username: "alice", IsOnline: true}})
	users := waitFor(t, h.users, "allUsers")
	if len(users) != 1 || users[0].Username != "alice" {
		t.Fatalf("users = %+v", users)
	}

	// Nested sender shape normalizes at the boundary.
	g.push(t, model.EventMessage, model.Message{
		ID:      5,
		Sender:  &model.UserRef{ID: "1", Username: "alice"},
		Content: "hello",
	})
	msg := waitFor(t, h.messages, "message")
	if msg.SenderID != "1" || msg.SenderUsername != "alice" {
		t.Fatalf("message not normalized: %+v", msg)
	}

	g.push(t, model.EventTyping, model.TypingEvent{UserID: "1", Username: "alice", TargetUserID: "2"})
	ev := waitFor(t, h.typings, "typing")
	if ev.Username != "alice" {
		t.Fatalf("typing = %+v", ev)
	}

	g.push(t, model.EventStopTyping, model.TypingEvent{Username: "alice"})
	waitFor(t, h.stops, "stopTyping")

	g.push(t, model.EventRecentMessages, model.RecentMessages{TargetUserID: "1", Nonce: 7})
	hist := waitFor(t, h.histories, "recentMessages")
	if hist.Nonce != 7 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestServerAuthErrorEvent(t *testing.T) {
	g := newFakeGateway(t)
	h := newCollectingHandler()

	c, err := Dial(context.Background(), g.wsURL(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Start(h)
	waitFor(t, h.connected, "connect callback")

	g.push(t, model.EventError, model.ErrorEvent{Message: "Authentication error"})
	err = waitFor(t, h.errs, "connect error")
	if !errors.Is(err, model.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
}

func TestOutboundIntents(t *testing.T) {
	g := newFakeGateway(t)
	h := newCollectingHandler()

	c, err := Dial(context.Background(), g.wsURL(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.Start(h)
	waitFor(t, h.connected, "connect callback")

	if err := c.JoinPrivateChat("2", 3); err != nil {
		t.Fatal(err)
	}
	env := waitFor(t, g.received, "join intent")
	if env.Type != model.EventJoinPrivateChat {
		t.Fatalf("type = %s", env.Type)
	}
	var join model.JoinPrivateChat
	if err := json.Unmarshal(env.Data, &join); err != nil {
		t.Fatal(err)
	}
	if join.TargetUserID != "2" || join.Nonce != 3 {
		t.Fatalf("join = %+v", join)
	}

	if err := c.SendMessage(model.SendMessage{Content: "hi", TargetUserID: "2", MessageType: model.TypeText}); err != nil {
		t.Fatal(err)
	}
	env = waitFor(t, g.received, "send intent")
	if env.Type != model.EventSendMessage {
		t.Fatalf("type = %s", env.Type)
	}

	if err := c.Typing("2"); err != nil {
		t.Fatal(err)
	}
	env = waitFor(t, g.received, "typing intent")
	if env.Type != model.EventTyping {
		t.Fatalf("type = %s", env.Type)
	}
	var ev model.TypingEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.TargetUserID != "2" || ev.UserID != "" {
		t.Fatalf("typing intent = %+v, identity is stamped server-side", ev)
	}

	if err := c.StopTyping("2"); err != nil {
		t.Fatal(err)
	}
	env = waitFor(t, g.received, "stop-typing intent")
	if env.Type != model.EventStopTyping {
		t.Fatalf("type = %s", env.Type)
	}

	if err := c.RequestAllUsers(); err != nil {
		t.Fatal(err)
	}
	env = waitFor(t, g.received, "getAllUsers intent")
	if env.Type != model.EventGetAllUsers {
		t.Fatalf("type = %s", env.Type)
	}
}

func TestDisconnectReported(t *testing.T) {
	g := newFakeGateway(t)
	h := newCollectingHandler()

	c, err := Dial(context.Background(), g.wsURL(), "tok")
	if err != nil {
		t.Fatal(err)
	}
	c.Start(h)
	waitFor(t, h.connected, "connect callback")

	conn := <-g.conns
	conn.Close()

	waitFor(t, h.disconnected, "disconnect callback")
}
