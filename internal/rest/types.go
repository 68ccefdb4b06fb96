package rest

import (
	"time"

	"github.com/matheus3301/wppconsole/internal/model"
)

// Pagination is the paging block of list responses.
type Pagination struct {
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// LastMessageDTO is the wire form of a conversation preview.
type LastMessageDTO struct {
	ID        string    `json:"id,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Direction string    `json:"direction"`
	Status    string    `json:"status,omitempty"`
}

// ConversationDTO is the wire form of a conversation.
type ConversationDTO struct {
	ID               string          `json:"id"`
	PhoneNumberID    string          `json:"phoneNumberId"`
	ParticipantPhone string          `json:"participantPhone"`
	Name             string          `json:"name,omitempty"`
	PlatformName     string          `json:"platformName,omitempty"`
	ConversationType string          `json:"conversationType,omitempty"`
	LastMessage      *LastMessageDTO `json:"lastMessage,omitempty"`
	UnreadCount      int             `json:"unreadCount"`
	IsArchivedByUser bool            `json:"isArchivedByUser"`
	Source           string          `json:"source,omitempty"`
}

// SourceInternal marks the reserved self conversation.
const SourceInternal = "internal"

// ToModel converts the DTO.
func (d ConversationDTO) ToModel() model.Conversation {
	c := model.Conversation{
		ID:               d.ID,
		TenantPhoneID:    d.PhoneNumberID,
		ParticipantPhone: d.ParticipantPhone,
		Name:             d.Name,
		PlatformName:     d.PlatformName,
		Type:             model.ConversationType(d.ConversationType),
		UnreadCount:      max(d.UnreadCount, 0),
		ArchivedByUser:   d.IsArchivedByUser,
		Internal:         d.Source == SourceInternal,
	}
	if c.Type == "" {
		c.Type = model.ConversationGuest
	}
	if lm := d.LastMessage; lm != nil {
		status, _ := model.ParseStatus(lm.Status)
		c.LastMessage = model.LastMessage{
			MessageID: lm.ID,
			Content:   lm.Content,
			Timestamp: lm.Timestamp,
			Direction: model.Direction(lm.Direction),
			Status:    status,
		}
	}
	return c
}

// ReactionDTO is the wire form of a reaction.
type ReactionDTO struct {
	Emoji     string `json:"emoji"`
	Direction string `json:"direction"`
	Sender    string `json:"sender,omitempty"`
}

// MessageDTO is the wire form of a message.
type MessageDTO struct {
	ID             string        `json:"id"`
	MessageID      string        `json:"messageId,omitempty"`
	ConversationID string        `json:"conversationId"`
	Direction      string        `json:"direction"`
	Type           string        `json:"type"`
	Content        model.Content `json:"content"`
	Status         string        `json:"status"`
	Timestamp      time.Time     `json:"timestamp"`
	ReplyTo        string        `json:"replyTo,omitempty"`
	Reactions      []ReactionDTO `json:"reactions,omitempty"`
	Sender         string        `json:"sender,omitempty"`
}

// ToModel converts the DTO into a confirmed message.
func (d MessageDTO) ToModel() model.Message {
	status, _ := model.ParseStatus(d.Status)
	m := model.Message{
		ID:             model.Confirmed(d.ID),
		ExternalID:     d.MessageID,
		ConversationID: d.ConversationID,
		Direction:      model.Direction(d.Direction),
		Type:           model.MessageType(d.Type),
		Content:        d.Content,
		Status:         status,
		Timestamp:      d.Timestamp,
		ReplyTo:        d.ReplyTo,
		Sender:         d.Sender,
	}
	if m.Type == "" {
		m.Type = model.TypeText
	}
	for _, r := range d.Reactions {
		m.Reactions = append(m.Reactions, model.Reaction{
			Emoji:     r.Emoji,
			Direction: model.Direction(r.Direction),
			Sender:    r.Sender,
		})
	}
	return m
}

// ConversationList is the list-conversations response.
type ConversationList struct {
	Conversations []ConversationDTO `json:"conversations"`
	Pagination    Pagination        `json:"pagination"`
	ArchivedCount int               `json:"archivedCount"`
}

// MessageList is the list-messages response.
type MessageList struct {
	Messages   []MessageDTO `json:"messages"`
	Pagination Pagination   `json:"pagination"`
}

// SendResult is returned by every send endpoint. MessageID is the
// protocol-level id, SavedMessageID the backend's own id.
type SendResult struct {
	MessageID      string    `json:"messageId"`
	SavedMessageID string    `json:"savedMessageId"`
	Timestamp      time.Time `json:"timestamp"`
}

// TextMessage is a plain text send.
type TextMessage struct {
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
	ReplyTo        string `json:"replyTo,omitempty"`
}

// TemplateMessage is a template send.
type TemplateMessage struct {
	ConversationID string            `json:"conversationId"`
	Template       string            `json:"template"`
	Language       string            `json:"language"`
	Params         map[string]string `json:"params,omitempty"`
}

// MediaMessage references media that was already uploaded.
type MediaMessage struct {
	ConversationID string `json:"conversationId"`
	Type           string `json:"type"`
	MediaID        string `json:"mediaId,omitempty"`
	MediaURL       string `json:"mediaUrl,omitempty"`
	Caption        string `json:"caption,omitempty"`
	FileName       string `json:"fileName,omitempty"`
	MimeType       string `json:"mimeType,omitempty"`
}

// ReactionMessage reacts to an existing message.
type ReactionMessage struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

// NewConversation is the create-conversation request.
type NewConversation struct {
	PhoneNumberID    string `json:"phoneNumberId"`
	ParticipantPhone string `json:"participantPhone"`
	Name             string `json:"name,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
