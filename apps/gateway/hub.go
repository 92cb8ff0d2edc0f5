package main

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/Surajsingh419/chat-system/pkg/config"
	"github.com/Surajsingh419/chat-system/pkg/db"
	"github.com/Surajsingh419/chat-system/pkg/model"
	"github.com/Surajsingh419/chat-system/pkg/snowflake"
)

const (
	onlineSetKey    = "users:online"
	lastSeenHashKey = "users:last_seen"
	historyLimit    = 100
)

type Hub struct {
	clients    map[string]map[*Client]bool // user_id -> connections
	publish    chan model.Envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	producer   *kafka.Writer
	redis      *redis.Client
	db         *db.Session
	snowflake  *snowflake.Node
}

func NewHub(cfg config.Gateway, session *db.Session) *Hub {
	producer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.KafkaTopic,
		Balancer: &kafka.LeastBytes{},
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})

	// Consumer for fanout
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		Topic:       cfg.KafkaTopic,
		GroupID:     "gateway-group-" + time.Now().String(), // Unique group for fanout (broadcast to all gateways)
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	// In production, node ID should be unique per instance (e.g., from env
	// var or service discovery)
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	h := &Hub{
		clients:    make(map[string]map[*Client]bool),
		publish:    make(chan model.Envelope),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		producer:   producer,
		redis:      rdb,
		db:         session,
		snowflake:  node,
	}

	// Fanout: every gateway instance reads the full stream and delivers to
	// whichever participants it holds connections for.
	go func() {
		defer consumer.Close()
		for {
			m, err := consumer.ReadMessage(context.Background())
			if err != nil {
				log.Printf("Gateway consumer error: %v", err)
				break
			}

			var env model.Envelope
			if err := json.Unmarshal(m.Value, &env); err != nil {
				log.Printf("Failed to unmarshal envelope from Kafka: %v", err)
				continue
			}

			for _, userID := range recipients(env) {
				h.deliver(userID, m.Value)
			}
		}
	}()

	return h
}

// recipients decides which users an event fans out to: chat messages go to
// both participants (the sender sees their own message through the echo),
// typing events only to the target.
func recipients(env model.Envelope) []string {
	switch env.Type {
	case model.EventMessage:
		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Printf("Failed to unmarshal message event: %v", err)
			return nil
		}
		msg = msg.Normalized()
		if msg.SenderID == msg.ReceiverID {
			return []string{msg.SenderID}
		}
		return []string{msg.SenderID, msg.ReceiverID}
	case model.EventTyping, model.EventStopTyping:
		var ev model.TypingEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			log.Printf("Failed to unmarshal typing event: %v", err)
			return nil
		}
		return []string{ev.TargetUserID}
	default:
		return nil
	}
}

func (h *Hub) deliver(userID string, payload []byte) {
	if userID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	clients, ok := h.clients[userID]
	if !ok {
		return
	}
	for client := range clients {
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(clients, client)
		}
	}
}

func (h *Hub) Run() {
	defer h.producer.Close()
	defer h.redis.Close()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ID] == nil {
				h.clients[client.ID] = make(map[*Client]bool)
			}
			h.clients[client.ID][client] = true
			h.mu.Unlock()

			if err := h.redis.SAdd(context.Background(), onlineSetKey, client.ID).Err(); err != nil {
				log.Printf("Failed to set presence for %s: %v", client.ID, err)
			}
			log.Printf("Client registered: %s (%s)", client.ID, client.Username)

			// Everyone gets a fresh snapshot when presence changes.
			go h.broadcastSnapshot()

		case client := <-h.unregister:
			h.mu.Lock()
			last := false
			if clients, ok := h.clients[client.ID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.ID)
						last = true
					}
				}
			}
			h.mu.Unlock()

			if last {
				ctx := context.Background()
				if err := h.redis.SRem(ctx, onlineSetKey, client.ID).Err(); err != nil {
					log.Printf("Failed to delete presence for %s: %v", client.ID, err)
				}
				ts := time.Now().UTC().Format(time.RFC3339)
				if err := h.redis.HSet(ctx, lastSeenHashKey, client.ID, ts).Err(); err != nil {
					log.Printf("Failed to record last seen for %s: %v", client.ID, err)
				}
				log.Printf("Client unregistered: %s", client.ID)
				go h.broadcastSnapshot()
			}

		case env := <-h.publish:
			jsonMsg, err := json.Marshal(env)
			if err != nil {
				log.Printf("Failed to marshal envelope: %v", err)
				continue
			}

			err = h.producer.WriteMessages(context.Background(),
				kafka.Message{
					Value: jsonMsg,
					Time:  time.Now(),
				},
			)
			if err != nil {
				log.Printf("Failed to write message to Kafka: %v", err)
			}
		}
	}
}

// snapshotUsers joins the Scylla user directory with the Redis online set
// and last-seen hash into the wire-shaped presence snapshot.
func (h *Hub) snapshotUsers(ctx context.Context) []model.User {
	online := make(map[string]bool)
	if members, err := h.redis.SMembers(ctx, onlineSetKey).Result(); err != nil {
		log.Printf("Failed to fetch online set: %v", err)
	} else {
		for _, id := range members {
			online[id] = true
		}
	}

	lastSeen, err := h.redis.HGetAll(ctx, lastSeenHashKey).Result()
	if err != nil {
		log.Printf("Failed to fetch last seen hash: %v", err)
	}

	var users []model.User
	iter := h.db.Query(`SELECT id, username FROM users`).Iter()
	var id, username string
	for iter.Scan(&id, &username) {
		u := model.User{ID: id, Username: username, IsOnline: online[id]}
		if raw, ok := lastSeen[id]; ok && !u.IsOnline {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				u.LastSeen = &ts
			}
		}
		users = append(users, u)
	}
	if err := iter.Close(); err != nil {
		log.Printf("Failed to iterate users: %v", err)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

func (h *Hub) sendSnapshot(c *Client) {
	users := h.snapshotUsers(context.Background())
	env, err := model.NewEnvelope(model.EventAllUsers, users)
	if err != nil {
		log.Printf("Failed to build allUsers event: %v", err)
		return
	}
	payload, _ := json.Marshal(env)
	h.deliver(c.ID, payload)
}

func (h *Hub) broadcastSnapshot() {
	users := h.snapshotUsers(context.Background())
	env, err := model.NewEnvelope(model.EventAllUsers, users)
	if err != nil {
		log.Printf("Failed to build allUsers event: %v", err)
		return
	}
	payload, _ := json.Marshal(env)

	h.mu.RLock()
	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	h.mu.RUnlock()

	for _, id := range ids {
		h.deliver(id, payload)
	}
}

// sendHistory pushes the stored conversation between the caller and the join
// target, oldest first, echoing the client's nonce so stale pushes can be
// dropped on the other end.
func (h *Hub) sendHistory(c *Client, join model.JoinPrivateChat) {
	key := model.ConversationKey(c.ID, join.TargetUserID)

	iter := h.db.Query(`SELECT id, sender_id, receiver_id, sender_username, content, message_type, file_data, created_at
		FROM messages WHERE conversation_key = ? LIMIT ?`, key, historyLimit).Iter()

	var messages []model.Message
	var (
		id                                 int64
		senderID, receiverID, senderName   string
		content, messageType, fileDataJSON string
		createdAt                          time.Time
	)
	for iter.Scan(&id, &senderID, &receiverID, &senderName, &content, &messageType, &fileDataJSON, &createdAt) {
		msg := model.Message{
			ID:             id,
			SenderID:       senderID,
			ReceiverID:     receiverID,
			SenderUsername: senderName,
			Content:        content,
			MessageType:    model.MessageType(messageType),
			CreatedAt:      createdAt,
		}
		if fileDataJSON != "" {
			var fd model.FileData
			if err := json.Unmarshal([]byte(fileDataJSON), &fd); err == nil {
				msg.FileData = &fd
			}
		}
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		log.Printf("Failed to load history for %s: %v", key, err)
		return
	}

	// Stored newest-first; the thread renders oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	env, err := model.NewEnvelope(model.EventRecentMessages, model.RecentMessages{
		TargetUserID: join.TargetUserID,
		Nonce:        join.Nonce,
		Messages:     messages,
	})
	if err != nil {
		log.Printf("Failed to build recentMessages event: %v", err)
		return
	}
	payload, _ := json.Marshal(env)
	h.deliver(c.ID, payload)
}

// publishMessage stamps id, sender and timestamp on a send intent and hands
// it to Kafka. Delivery back to both participants happens via the fanout
// consumer; persistence via the messaging service.
func (h *Hub) publishMessage(c *Client, req model.SendMessage) {
	content := strings.TrimSpace(req.Content)
	if content == "" && req.FileData == nil {
		return
	}

	messageType := req.MessageType
	if messageType == "" {
		messageType = model.DeriveType(req.FileData)
	}

	msg := model.Message{
		ID:             h.snowflake.Generate(),
		SenderID:       c.ID,
		ReceiverID:     req.TargetUserID,
		SenderUsername: c.Username,
		Content:        content,
		MessageType:    messageType,
		FileData:       req.FileData,
		CreatedAt:      time.Now().UTC(),
	}

	env, err := model.NewEnvelope(model.EventMessage, msg)
	if err != nil {
		log.Printf("Failed to build message event: %v", err)
		return
	}
	h.publish <- env
}

// publishTyping stamps the sender's identity from the connection claims and
// fans the ephemeral event out through the same stream as messages.
func (h *Hub) publishTyping(c *Client, eventType string, ev model.TypingEvent) {
	ev.UserID = c.ID
	ev.Username = c.Username

	env, err := model.NewEnvelope(eventType, ev)
	if err != nil {
		log.Printf("Failed to build %s event: %v", eventType, err)
		return
	}
	h.publish <- env
}
