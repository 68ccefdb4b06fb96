// Package archive moves conversations between the main and archived
// partitions and computes the two partition aggregates.
package archive

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppconsole/internal/model"
	"go.uber.org/zap"
)

// Remote is the backend side of archiving.
type Remote interface {
	ArchiveConversation(ctx context.Context, conversationID string) error
	UnarchiveConversation(ctx context.Context, conversationID string) error
}

// Partitions is the conversation set the manager reclassifies.
type Partitions interface {
	Get(conversationID string) (model.Conversation, bool)
	SetArchived(conversationID string, archived bool) bool
	Partition(archived bool) []model.Conversation
}

// ResyncFunc reloads the main list from the backend.
type ResyncFunc func(ctx context.Context) error

// Manager archives and unarchives conversations.
type Manager struct {
	remote Remote
	convs  Partitions
	resync ResyncFunc
	logger *zap.Logger
}

// NewManager creates an archive manager. resync may be nil.
func NewManager(remote Remote, convs Partitions, resync ResyncFunc, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{remote: remote, convs: convs, resync: resync, logger: logger}
}

// Archive moves conversationID to the archived partition. Archiving an
// already archived conversation does nothing.
func (m *Manager) Archive(ctx context.Context, conversationID string) error {
	c, ok := m.convs.Get(conversationID)
	if !ok {
		return fmt.Errorf("archive %s: %w", conversationID, model.ErrUnknownConversation)
	}
	if c.ArchivedByUser {
		return nil
	}
	if c.Internal {
		return fmt.Errorf("archive %s: internal conversation cannot be archived", conversationID)
	}
	if err := m.remote.ArchiveConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("archive %s: %w", conversationID, err)
	}
	m.convs.SetArchived(conversationID, true)
	m.logger.Info("conversation archived", zap.String("conversation_id", conversationID))
	return nil
}

// Unarchive moves conversationID back to main and resyncs the main list so
// its pagination cursor stays consistent.
func (m *Manager) Unarchive(ctx context.Context, conversationID string) error {
	c, ok := m.convs.Get(conversationID)
	if !ok {
		return fmt.Errorf("unarchive %s: %w", conversationID, model.ErrUnknownConversation)
	}
	if !c.ArchivedByUser {
		return nil
	}
	if err := m.remote.UnarchiveConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("unarchive %s: %w", conversationID, err)
	}
	m.convs.SetArchived(conversationID, false)
	m.logger.Info("conversation unarchived", zap.String("conversation_id", conversationID))
	return m.resyncMain(ctx)
}

// ApplyRemote applies an archive-state change pushed by another session. It
// only reclassifies the conversation; after a remote unarchive the caller
// runs Resync once it no longer blocks other writers.
func (m *Manager) ApplyRemote(conversationID string, archived bool) bool {
	return m.convs.SetArchived(conversationID, archived)
}

// Resync reloads the main list from the backend.
func (m *Manager) Resync(ctx context.Context) error {
	return m.resyncMain(ctx)
}

func (m *Manager) resyncMain(ctx context.Context) error {
	if m.resync == nil {
		return nil
	}
	if err := m.resync(ctx); err != nil {
		return fmt.Errorf("resync main list: %w", err)
	}
	return nil
}

// MainUnread is the number of unread messages across the main partition.
func (m *Manager) MainUnread() int {
	total := 0
	for _, c := range m.convs.Partition(false) {
		total += c.UnreadCount
	}
	return total
}

// ArchivedUnreadIndicator is the number of archived conversations with at
// least one unread message. It counts chats, not messages.
func (m *Manager) ArchivedUnreadIndicator() int {
	n := 0
	for _, c := range m.convs.Partition(true) {
		if c.UnreadCount > 0 {
			n++
		}
	}
	return n
}
