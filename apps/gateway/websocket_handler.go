package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Surajsingh419/chat-system/pkg/auth"
	"github.com/Surajsingh419/chat-system/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Generous enough for a text
	// message plus attachment metadata; uploads themselves go over HTTP.
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated identity from the token claims.
	ID       string
	Username string
}

// readPump decodes intent envelopes from the websocket connection and
// dispatches them to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("error: %v", err)
			}
			break
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("Client %s sent undecodable frame: %v", c.ID, err)
			continue
		}

		switch env.Type {
		case model.EventGetAllUsers:
			c.hub.sendSnapshot(c)

		case model.EventJoinPrivateChat:
			var join model.JoinPrivateChat
			if err := json.Unmarshal(env.Data, &join); err != nil {
				log.Printf("Client %s sent bad join intent: %v", c.ID, err)
				continue
			}
			if join.TargetUserID == "" {
				continue
			}
			c.hub.sendHistory(c, join)

		case model.EventSendMessage:
			var req model.SendMessage
			if err := json.Unmarshal(env.Data, &req); err != nil {
				log.Printf("Client %s sent bad send intent: %v", c.ID, err)
				continue
			}
			if req.TargetUserID == "" {
				continue
			}
			c.hub.publishMessage(c, req)

		case model.EventTyping, model.EventStopTyping:
			var ev model.TypingEvent
			if err := json.Unmarshal(env.Data, &ev); err != nil {
				log.Printf("Client %s sent bad typing intent: %v", c.ID, err)
				continue
			}
			if ev.TargetUserID == "" {
				continue
			}
			c.hub.publishTyping(c, env.Type, ev)

		default:
			log.Printf("Client %s sent unknown intent %q", c.ID, env.Type)
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs handles websocket requests from the peer.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	tokenString := r.Header.Get("Authorization")
	if tokenString == "" {
		// Try query param as fallback (standard for some WS clients)
		tokenString = r.URL.Query().Get("token")
	}

	if tokenString == "" {
		log.Println("Unauthorized: No token provided")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	// Remove "Bearer " prefix if present
	if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
		tokenString = tokenString[7:]
	}

	claims, err := auth.ValidateToken(tokenString)
	if err != nil {
		log.Printf("Unauthorized: Invalid token: %v", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
		ID:       claims.UserID,
		Username: claims.Username,
	}
	client.hub.register <- client

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}
