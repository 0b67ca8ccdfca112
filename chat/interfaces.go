package chat

import (
	"context"

	"tutorchat/models"
)

// ConversationSource lists conversation summaries.
type ConversationSource interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
}

// HistoryFetcher loads a conversation transcript in chronological order.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, participantID string) ([]models.Message, error)
}

// ReadMarker confirms messages as read on the server.
type ReadMarker interface {
	MarkRead(ctx context.Context, ids []string) error
}

// API is the full REST surface the session needs. *network.APIClient
// satisfies it.
type API interface {
	ConversationSource
	HistoryFetcher
	ReadMarker
}

// NavigationStore persists the selected conversation across restarts.
type NavigationStore interface {
	SaveSelection(conversationID string) error
	LoadSelection() (string, bool, error)
}

// Switcher starts a messaging session for a conversation.
type Switcher interface {
	Switch(ctx context.Context, conversation models.Conversation) error
}

// SummarySink receives conversation summary updates from the session.
type SummarySink interface {
	RecordMessage(conversationID string, msg models.Message, unread bool)
	ApplyRead(conversationID string, confirmed int)
}
