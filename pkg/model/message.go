package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
)

// FileData describes an uploaded attachment as returned by the upload
// endpoint. Immutable once attached to a message.
type FileData struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	Mimetype     string `json:"mimetype"`
	Size         int64  `json:"size"`
}

// UserRef is the nested sender/receiver shape some producers emit instead
// of the flat id fields.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Message struct {
	ID             int64       `json:"id,omitempty"`
	SenderID       string      `json:"senderId,omitempty"`
	ReceiverID     string      `json:"receiverId,omitempty"`
	SenderUsername string      `json:"senderUsername,omitempty"`
	Sender         *UserRef    `json:"sender,omitempty"`
	Receiver       *UserRef    `json:"receiver,omitempty"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType,omitempty"`
	FileData       *FileData   `json:"fileData,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Normalized returns a copy with the flat sender/receiver fields filled in
// from the nested objects where the flat ones are missing. The wire format is
// not fully normalized upstream, so this runs once at the channel boundary
// and everything past it works on flat fields only.
func (m Message) Normalized() Message {
	if m.SenderID == "" && m.Sender != nil {
		m.SenderID = m.Sender.ID
	}
	if m.SenderUsername == "" && m.Sender != nil {
		m.SenderUsername = m.Sender.Username
	}
	if m.ReceiverID == "" && m.Receiver != nil {
		m.ReceiverID = m.Receiver.ID
	}
	if m.MessageType == "" {
		m.MessageType = DeriveType(m.FileData)
	}
	return m
}

// DeriveType picks the message type from an attachment's mimetype prefix.
func DeriveType(fd *FileData) MessageType {
	if fd == nil {
		return TypeText
	}
	if strings.HasPrefix(fd.Mimetype, "image/") {
		return TypeImage
	}
	return TypeFile
}

// ConversationKey builds the order-independent storage key for a DM between
// two users, e.g. ConversationKey("u2", "u1") == "dm:u1:u2". Gateway,
// messaging consumer and API all key history by it.
func ConversationKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}
