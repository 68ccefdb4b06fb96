package sync

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/model"
	"github.com/matheus3301/wppconsole/internal/rest"
)

// Server event types.
const (
	EventNewMessage         = "new-message"
	EventMessageEcho        = "message-echo"
	EventMessageStatus      = "message-status"
	EventMessageReaction    = "message-reaction"
	EventConversationRead   = "conversation-read"
	EventConversationUpdate = "conversation-update"
	EventNewConversation    = "new-conversation"
)

type statusEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Status         string `json:"status"`
}

type reactionEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
	Direction      string `json:"direction"`
	Sender         string `json:"sender,omitempty"`
}

type conversationUpdate struct {
	ConversationID   string `json:"conversationId"`
	IsArchivedByUser *bool  `json:"isArchivedByUser"`
}

func decode(p bus.Push, v any) error {
	if len(p.Data) == 0 {
		return fmt.Errorf("%s: empty payload", p.Type)
	}
	if err := json.Unmarshal(p.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", p.Type, err)
	}
	return nil
}

// decodeMessage reads a message payload, falling back to the envelope's
// conversation id.
func decodeMessage(p bus.Push) (model.Message, error) {
	var dto rest.MessageDTO
	if err := decode(p, &dto); err != nil {
		return model.Message{}, err
	}
	if dto.ID == "" {
		return model.Message{}, fmt.Errorf("%s: message without id", p.Type)
	}
	if dto.ConversationID == "" {
		dto.ConversationID = p.ConversationID
	}
	return dto.ToModel(), nil
}

func decodeConversation(p bus.Push) (model.Conversation, error) {
	var dto rest.ConversationDTO
	if err := decode(p, &dto); err != nil {
		return model.Conversation{}, err
	}
	if dto.ID == "" {
		dto.ID = p.ConversationID
	}
	if dto.PhoneNumberID == "" {
		dto.PhoneNumberID = p.TenantPhoneID
	}
	if dto.ID == "" {
		return model.Conversation{}, fmt.Errorf("%s: conversation without id", p.Type)
	}
	return dto.ToModel(), nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
