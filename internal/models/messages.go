package models

import "time"

// TextFormat is a hint telling the transport how to render outbound text.
type TextFormat string

const (
	// FormatPlain sends text as-is.
	FormatPlain TextFormat = ""
	// FormatMarkdown asks the transport to render Markdown.
	FormatMarkdown TextFormat = "Markdown"
)

// ChatParticipant identifies a remote messaging-service user.
type ChatParticipant struct {
	ID     int64  `json:"id"`
	ChatID int64  `json:"chat_id"`
	Handle string `json:"handle,omitempty"`
}

// Message is an inbound chat message as delivered by the transport.
type Message struct {
	SenderID     int64     `json:"sender_id"`
	SenderHandle string    `json:"sender_handle,omitempty"`
	ChatID       int64     `json:"chat_id"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

// Participant returns the identity of the message sender.
func (m *Message) Participant() ChatParticipant {
	return ChatParticipant{ID: m.SenderID, ChatID: m.ChatID, Handle: m.SenderHandle}
}

// Update is one entry of the transport's update stream.
// Message is nil for updates that carry no chat message.
type Update struct {
	ID      int      `json:"update_id"`
	Message *Message `json:"message,omitempty"`
}
