package bus

import (
	"time"
)

// InboundKind classifies what a user sent.
type InboundKind string

const (
	InboundText      InboundKind = "text"
	InboundSelection InboundKind = "selection" // button press; Content holds the button data
	InboundDocument  InboundKind = "document"
	InboundPhoto     InboundKind = "photo"
)

// Attachment is a file downloaded from the chat platform.
type Attachment struct {
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// InboundMessage represents a message received from a chat channel.
type InboundMessage struct {
	Channel    string                 `json:"channel"`
	SenderID   string                 `json:"sender_id"`
	ChatID     string                 `json:"chat_id"`
	Kind       InboundKind            `json:"kind"`
	Content    string                 `json:"content"`
	Attachment *Attachment            `json:"attachment,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// SessionKey returns a unique key for session identification. Sessions are
// per user, so one user keeps the same workflow across chats of a channel.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.SenderID
}

// Button is a reply option rendered as an inline button where the platform
// supports it.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// OutboundMessage represents a message to send to a chat channel.
type OutboundMessage struct {
	Channel  string                 `json:"channel"`
	ChatID   string                 `json:"chat_id"`
	Content  string                 `json:"content"`
	ReplyTo  string                 `json:"reply_to,omitempty"`
	Buttons  []Button               `json:"buttons,omitempty"`
	Metadata map[string]interface{} `json:"metadata"`
	// Updates, when set, carries successive full renderings of Content. The
	// channel edits the sent message in place until Updates is closed.
	Updates <-chan string `json:"-"`
}
