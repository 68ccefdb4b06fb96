package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/wppconsole/internal/bus"
	"github.com/matheus3301/wppconsole/internal/messages"
	"github.com/matheus3301/wppconsole/internal/model"
	"github.com/matheus3301/wppconsole/internal/rest"
	"go.uber.org/zap"
)

// SendFailure reports an optimistic message the backend rejected. The
// message stays visible as failed until it is resent explicitly.
type SendFailure struct {
	TempID         string
	ConversationID string
	Err            error
}

func (e *SendFailure) Error() string {
	return fmt.Sprintf("send %s failed: %v", e.TempID, e.Err)
}

func (e *SendFailure) Unwrap() error { return e.Err }

// Send sends a text message. The returned id is confirmed on success and
// pending (the temp id) on failure.
func (c *Controller) Send(ctx context.Context, conversationID, text, replyTo string) (model.MessageID, error) {
	if text == "" {
		return model.MessageID{}, errors.New("send: empty text")
	}
	return c.dispatch(ctx, model.Message{
		ConversationID: conversationID,
		Type:           model.TypeText,
		Content:        model.Content{Text: text},
		ReplyTo:        replyTo,
	})
}

// SendTemplate sends a template message.
func (c *Controller) SendTemplate(ctx context.Context, conversationID, template, language string, params map[string]string) (model.MessageID, error) {
	if template == "" {
		return model.MessageID{}, errors.New("send template: empty template name")
	}
	return c.dispatch(ctx, model.Message{
		ConversationID: conversationID,
		Type:           model.TypeTemplate,
		Content:        model.Content{Template: template, Language: language, Params: params},
	})
}

// SendMedia sends an already uploaded media item.
func (c *Controller) SendMedia(ctx context.Context, conversationID string, typ model.MessageType, content model.Content) (model.MessageID, error) {
	switch typ {
	case model.TypeImage, model.TypeVideo, model.TypeAudio, model.TypeDocument:
	default:
		return model.MessageID{}, fmt.Errorf("send media: unsupported type %q", typ)
	}
	if content.MediaID == "" && content.MediaURL == "" {
		return model.MessageID{}, errors.New("send media: media id or url required")
	}
	return c.dispatch(ctx, model.Message{
		ConversationID: conversationID,
		Type:           typ,
		Content:        content,
	})
}

// SendReaction reacts to messageID. Reactions are not optimistic: the local
// message only shows the reaction once the backend accepted it.
func (c *Controller) SendReaction(ctx context.Context, conversationID, messageID, emoji string) error {
	target := messageID
	if m, ok := c.msgs.Get(messageID); ok {
		if m.ID.IsPending() {
			return fmt.Errorf("react to %s: message not confirmed yet", messageID)
		}
		target = m.ID.ServerID()
	}
	if _, err := c.sender.SendReaction(ctx, rest.ReactionMessage{
		ConversationID: conversationID,
		MessageID:      target,
		Emoji:          emoji,
	}); err != nil {
		return fmt.Errorf("react to %s: %w", messageID, err)
	}
	c.mu.Lock()
	applied := c.msgs.ApplyReaction(target, model.Reaction{Emoji: emoji, Direction: model.Outgoing})
	c.mu.Unlock()
	if applied {
		c.emit(bus.KindMessagesChanged, conversationID)
	}
	return nil
}

// Resend sends a failed message again as a new optimistic message. The
// failed one is left in place.
func (c *Controller) Resend(ctx context.Context, tempID string) (model.MessageID, error) {
	m, ok := c.msgs.Get(tempID)
	if !ok {
		return model.MessageID{}, fmt.Errorf("resend %s: message not found", tempID)
	}
	if !m.ID.IsPending() || m.Status != model.StatusFailed {
		return model.MessageID{}, fmt.Errorf("resend %s: message is %s, not failed", tempID, m.Status)
	}
	return c.dispatch(ctx, model.Message{
		ConversationID: m.ConversationID,
		Type:           m.Type,
		Content:        m.Clone().Content,
		ReplyTo:        m.ReplyTo,
	})
}

// dispatch shows m optimistically, sends it and reconciles the outcome.
func (c *Controller) dispatch(ctx context.Context, m model.Message) (model.MessageID, error) {
	if _, ok := c.convs.Get(m.ConversationID); !ok {
		return model.MessageID{}, fmt.Errorf("send to %s: %w", m.ConversationID, model.ErrUnknownConversation)
	}
	tempID := c.newID()
	m.ID = model.Pending(tempID)
	m.Direction = model.Outgoing
	m.Status = model.StatusSending
	m.Timestamp = c.now()

	c.mu.Lock()
	if err := c.msgs.AppendOptimistic(m); err != nil {
		c.mu.Unlock()
		return model.MessageID{}, err
	}
	c.convs.UpsertFromMessageEvent(m.ConversationID, model.LastMessage{
		MessageID: tempID,
		Content:   m.Preview(),
		Timestamp: m.Timestamp,
		Direction: model.Outgoing,
		Status:    model.StatusSending,
	}, true)
	c.mu.Unlock()
	c.emit(bus.KindMessagesChanged, m.ConversationID)
	c.emit(bus.KindConversationsChanged, nil)

	res, err := c.transmit(ctx, m)
	if err != nil {
		return m.ID, c.fail(m, err)
	}

	c.mu.Lock()
	c.messageIDs.Record(res.SavedMessageID)
	c.messageIDs.Record(res.MessageID)
	c.msgs.Reconcile(tempID, messages.SendAck{
		ServerID:   res.SavedMessageID,
		ExternalID: res.MessageID,
		Status:     model.StatusSent,
		Timestamp:  res.Timestamp,
	})
	c.convs.RelabelPreview(m.ConversationID, tempID, res.SavedMessageID)
	c.convs.ApplyPreviewStatus(m.ConversationID, res.SavedMessageID, model.StatusSent)
	c.mu.Unlock()

	c.emit(bus.KindMessagesChanged, m.ConversationID)
	c.emit(bus.KindConversationsChanged, nil)
	return model.Confirmed(res.SavedMessageID), nil
}

func (c *Controller) transmit(ctx context.Context, m model.Message) (rest.SendResult, error) {
	switch m.Type {
	case model.TypeText:
		return c.sender.SendText(ctx, rest.TextMessage{
			ConversationID: m.ConversationID,
			Text:           m.Content.Text,
			ReplyTo:        m.ReplyTo,
		})
	case model.TypeTemplate:
		return c.sender.SendTemplate(ctx, rest.TemplateMessage{
			ConversationID: m.ConversationID,
			Template:       m.Content.Template,
			Language:       m.Content.Language,
			Params:         m.Content.Params,
		})
	case model.TypeImage, model.TypeVideo, model.TypeAudio, model.TypeDocument:
		return c.sender.SendMedia(ctx, rest.MediaMessage{
			ConversationID: m.ConversationID,
			Type:           string(m.Type),
			MediaID:        m.Content.MediaID,
			MediaURL:       m.Content.MediaURL,
			Caption:        m.Content.Caption,
			FileName:       m.Content.FileName,
			MimeType:       m.Content.MimeType,
		})
	}
	return rest.SendResult{}, fmt.Errorf("cannot send %s messages", m.Type)
}

func (c *Controller) fail(m model.Message, cause error) error {
	tempID := m.ID.TempID()
	c.mu.Lock()
	c.msgs.Fail(tempID)
	c.convs.ApplyPreviewStatus(m.ConversationID, tempID, model.StatusFailed)
	c.mu.Unlock()

	failure := &SendFailure{TempID: tempID, ConversationID: m.ConversationID, Err: cause}
	c.logger.Warn("send failed",
		zap.String("temp_id", tempID),
		zap.String("conversation_id", m.ConversationID),
		zap.Error(cause))
	c.emit(bus.KindMessagesChanged, m.ConversationID)
	c.emit(bus.KindSendFailed, failure)
	return failure
}
