package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/Surajsingh419/chat-system/pkg/auth"
	"github.com/Surajsingh419/chat-system/pkg/db"
	"github.com/Surajsingh419/chat-system/pkg/model"
)

type HistoryHandler struct {
	db *db.Session
}

func NewHistoryHandler(session *db.Session) *HistoryHandler {
	return &HistoryHandler{db: session}
}

// ServeHTTP returns the stored DM thread between the caller and
// ?other_user=<id>, newest first as stored.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	otherUser := r.URL.Query().Get("other_user")
	if otherUser == "" {
		http.Error(w, "other_user is required", http.StatusBadRequest)
		return
	}
	key := model.ConversationKey(claims.UserID, otherUser)

	var messages []model.Message
	iter := h.db.Query(`SELECT id, sender_id, receiver_id, sender_username, content, message_type, file_data, created_at
		FROM messages WHERE conversation_key = ?`, key).Iter()

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
		log.Printf("Failed to iterate messages: %v", err)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}
