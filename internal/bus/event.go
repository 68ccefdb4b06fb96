package bus

import (
	"encoding/json"
	"time"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Namespaces.
const (
	PushNamespace   = "push."
	SocketNamespace = "socket."
	ViewNamespace   = "view."
	NotifyNamespace = "notify."
)

// Push event kinds, one per server event type.
const (
	KindNewMessage         = "push.new-message"
	KindMessageEcho        = "push.message-echo"
	KindMessageStatus      = "push.message-status"
	KindMessageReaction    = "push.message-reaction"
	KindConversationRead   = "push.conversation-read"
	KindConversationUpdate = "push.conversation-update"
	KindNewConversation    = "push.new-conversation"
)

// Local kinds.
const (
	KindSocketStatus         = "socket.status_changed"
	KindConversationsChanged = "view.conversations_changed"
	KindMessagesChanged      = "view.messages_changed"
	KindUnreadChanged        = "view.unread_changed"
	KindSendFailed           = "view.send_failed"
	KindNotifySound          = "notify.sound"
)

// PushKind maps a server event type to its bus kind.
func PushKind(eventType string) string {
	return PushNamespace + eventType
}

// Push is the payload of every push.* event: the routing header of a
// server event plus its undecoded body.
type Push struct {
	Type           string
	EventID        string
	TenantPhoneID  string
	ConversationID string
	Data           json.RawMessage
}

// Unread is the payload of view.unread_changed.
type Unread struct {
	Main              int
	ArchivedIndicator int
}

// Sound is the payload of notify.sound.
type Sound struct {
	ConversationID string
	MessageID      string
}
