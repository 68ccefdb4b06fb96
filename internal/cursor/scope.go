package cursor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ConversationScope scopes a conversation listing by tenant phone number,
// optional free-text search and the retarget-only filter.
type ConversationScope struct {
	PhoneID      string
	Search       string
	RetargetOnly bool
}

// Key encodes the scope as a pager scope key.
func (s ConversationScope) Key() string {
	flag := ""
	if s.RetargetOnly {
		flag = "r"
	}
	return s.PhoneID + "\x1f" + flag + "\x1f" + s.Search
}

// Listing drops the search query, leaving the scope of the paginated list.
func (s ConversationScope) Listing() ConversationScope {
	s.Search = ""
	return s
}

// ParseConversationScope decodes a key produced by ConversationScope.Key.
func ParseConversationScope(key string) ConversationScope {
	phone, rest, _ := strings.Cut(key, "\x1f")
	flag, search, _ := strings.Cut(rest, "\x1f")
	return ConversationScope{PhoneID: phone, Search: search, RetargetOnly: flag == "r"}
}

// MessageScope scopes a message listing to one conversation of a tenant.
type MessageScope struct {
	PhoneID        string
	ConversationID string
}

// IsSearch reports whether the scope key carries a search query. Search
// scopes never use a cursor.
func IsSearch(key string) bool {
	return ParseConversationScope(key).Search != ""
}

// MessageCursor identifies the oldest loaded message of a conversation.
// Older pages hold messages strictly before it.
type MessageCursor struct {
	MessageID string
	Timestamp time.Time
}

// Encode renders the cursor as an opaque token.
func (c MessageCursor) Encode() string {
	if c.MessageID == "" {
		return ""
	}
	return strconv.FormatInt(c.Timestamp.UnixMilli(), 10) + ":" + c.MessageID
}

// DecodeMessageCursor parses a token produced by Encode.
func DecodeMessageCursor(token string) (MessageCursor, error) {
	ts, id, ok := strings.Cut(token, ":")
	if !ok || id == "" {
		return MessageCursor{}, fmt.Errorf("malformed message cursor %q", token)
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return MessageCursor{}, fmt.Errorf("malformed message cursor %q: %w", token, err)
	}
	return MessageCursor{MessageID: id, Timestamp: time.UnixMilli(ms)}, nil
}
