package model

import (
	"slices"
	"time"
)

// Direction of a message relative to the business phone number.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// MessageType is the kind of content a message carries.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
	TypeLocation MessageType = "location"
	TypeTemplate MessageType = "template"
	TypeReaction MessageType = "reaction"
)

// Content is the structured body of a message.
type Content struct {
	Text      string            `json:"text,omitempty"`
	Caption   string            `json:"caption,omitempty"`
	MediaURL  string            `json:"mediaUrl,omitempty"`
	MediaID   string            `json:"mediaId,omitempty"`
	MimeType  string            `json:"mimeType,omitempty"`
	FileName  string            `json:"fileName,omitempty"`
	Latitude  float64           `json:"latitude,omitempty"`
	Longitude float64           `json:"longitude,omitempty"`
	Template  string            `json:"template,omitempty"`
	Language  string            `json:"language,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
	Emoji     string            `json:"emoji,omitempty"`
}

// Reaction is an emoji attached to a message.
type Reaction struct {
	Emoji     string
	Direction Direction
	Sender    string
}

// Message is a single chat message.
type Message struct {
	ID             MessageID
	ExternalID     string // protocol-level id (wamid), set once sent
	ConversationID string
	Direction      Direction
	Type           MessageType
	Content        Content
	Status         Status
	Timestamp      time.Time
	ReplyTo        string
	Reactions      []Reaction
	Sender         string
}

// Matches reports whether id addresses this message by any of its ids.
func (m *Message) Matches(id string) bool {
	if id == "" {
		return false
	}
	return m.ID.Key() == id || m.ID.TempID() == id || m.ExternalID == id
}

// Clone returns a deep copy safe to hand out of a store.
func (m Message) Clone() Message {
	m.Reactions = slices.Clone(m.Reactions)
	if m.Content.Params != nil {
		params := make(map[string]string, len(m.Content.Params))
		for k, v := range m.Content.Params {
			params[k] = v
		}
		m.Content.Params = params
	}
	return m
}

// Preview renders a one-line preview of the message content.
func (m *Message) Preview() string {
	switch m.Type {
	case TypeText:
		return truncate(m.Content.Text, 100)
	case TypeImage, TypeVideo, TypeAudio, TypeDocument:
		if m.Content.Caption != "" {
			return truncate(m.Content.Caption, 100)
		}
		if m.Content.FileName != "" {
			return truncate(m.Content.FileName, 100)
		}
		return "[" + string(m.Type) + "]"
	case TypeLocation:
		return "[location]"
	case TypeTemplate:
		return "[template] " + m.Content.Template
	case TypeReaction:
		return m.Content.Emoji
	}
	return truncate(m.Content.Text, 100)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
