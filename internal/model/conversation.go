package model

import (
	"errors"
	"time"
)

// ErrUnknownConversation is reported when an operation references a
// conversation the local store has never seen.
var ErrUnknownConversation = errors.New("unknown conversation")

// ConversationType distinguishes conversations with the phone's owner from
// those with guests.
type ConversationType string

const (
	ConversationOwner ConversationType = "owner"
	ConversationGuest ConversationType = "guest"
)

// LastMessage is the preview snapshot shown in the conversation list.
type LastMessage struct {
	MessageID string
	Content   string
	Timestamp time.Time
	Direction Direction
	Status    Status
}

// Conversation is a thread with one participant under a tenant phone number.
type Conversation struct {
	ID               string
	TenantPhoneID    string
	ParticipantPhone string
	Name             string
	PlatformName     string
	Type             ConversationType
	LastMessage      LastMessage
	UnreadCount      int
	ArchivedByUser   bool
	Internal         bool
}

// TenantKey identifies the (tenant, participant) pair a conversation belongs to.
func (c *Conversation) TenantKey() string {
	return c.TenantPhoneID + "|" + c.ParticipantPhone
}

// DisplayName resolves the name shown for a conversation. A saved name wins;
// when the platform-reported name differs it is returned as secondary. With
// no saved name the platform name is used, and the participant phone last.
func DisplayName(c Conversation) (primary, secondary string) {
	switch {
	case c.Name != "" && c.PlatformName != "" && c.PlatformName != c.Name:
		return c.Name, c.PlatformName
	case c.Name != "":
		return c.Name, ""
	case c.PlatformName != "":
		return c.PlatformName, ""
	}
	return c.ParticipantPhone, ""
}
