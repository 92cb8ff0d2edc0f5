package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Surajsingh419/chat-system/pkg/db"
	"github.com/Surajsingh419/chat-system/pkg/model"
)

type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
}

func NewConsumer(brokers []string, topic string, groupID string, session *db.Session) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			log.Printf("Error reading message: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var env model.Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			log.Printf("Failed to unmarshal envelope: %v", err)
			continue
		}

		// Typing and other ephemeral events pass through the stream but are
		// never persisted.
		if env.Type != model.EventMessage {
			continue
		}

		var msg model.Message
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			log.Printf("Failed to unmarshal message: %v", err)
			continue
		}
		msg = msg.Normalized()
		if msg.SenderID == "" || msg.ReceiverID == "" {
			log.Printf("Skipping unattributable message %d", msg.ID)
			continue
		}

		c.persist(msg)
	}
}

func (c *Consumer) persist(msg model.Message) {
	key := model.ConversationKey(msg.SenderID, msg.ReceiverID)

	var fileDataJSON string
	if msg.FileData != nil {
		raw, err := json.Marshal(msg.FileData)
		if err != nil {
			log.Printf("Failed to marshal file data for %d: %v", msg.ID, err)
		} else {
			fileDataJSON = string(raw)
		}
	}

	query := `INSERT INTO messages (conversation_key, id, sender_id, receiver_id, sender_username, content, message_type, file_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if err := c.db.Query(query, key, msg.ID, msg.SenderID, msg.ReceiverID, msg.SenderUsername,
		msg.Content, string(msg.MessageType), fileDataJSON, msg.CreatedAt).Exec(); err != nil {
		log.Printf("Failed to save message to ScyllaDB: %v", err)
		return
	}

	// Both participants get the conversation row; only the recipient's
	// unread counter moves.
	q := `INSERT INTO user_conversations (user_id, other_user_id, last_updated) VALUES (?, ?, ?)`
	if err := c.db.Query(q, msg.SenderID, msg.ReceiverID, msg.CreatedAt).Exec(); err != nil {
		log.Printf("Failed to update conversation for %s: %v", msg.SenderID, err)
	}
	if err := c.db.Query(q, msg.ReceiverID, msg.SenderID, msg.CreatedAt).Exec(); err != nil {
		log.Printf("Failed to update conversation for %s: %v", msg.ReceiverID, err)
	}

	qCounter := `UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND other_user_id = ?`
	if err := c.db.Query(qCounter, msg.ReceiverID, msg.SenderID).Exec(); err != nil {
		log.Printf("Failed to increment unread count for %s: %v", msg.ReceiverID, err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
