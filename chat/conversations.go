package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"tutorchat/config"
	"tutorchat/models"
)

// ListOptions configures a ConversationList.
type ListOptions struct {
	Source         ConversationSource
	Navigation     NavigationStore
	SearchDebounce time.Duration
	Notifier       Notifier
	Logger         logrus.FieldLogger
	// OnChange is called after the visible list or a summary changes.
	OnChange func()
}

func (o ListOptions) withDefaults() ListOptions {
	if o.SearchDebounce <= 0 {
		o.SearchDebounce = time.Duration(config.DefaultSearchDebounceMillis) * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.Notifier == nil {
		o.Notifier = LogNotifier{Logger: o.Logger}
	}
	return o
}

// ConversationList holds conversation summaries, the search filter and the
// current selection. All summary mutations go through one mutex.
type ConversationList struct {
	opts     ListOptions
	debounce *Debouncer

	mu           sync.Mutex
	all          []models.Conversation
	query        string
	pendingQuery string
	visible      []models.Conversation
	selected     string
	switcher     Switcher
}

// NewConversationList constructs an empty list.
func NewConversationList(opts ListOptions) *ConversationList {
	l := &ConversationList{opts: opts.withDefaults()}
	l.debounce = NewDebouncer(l.opts.SearchDebounce, l.applyPendingQuery)
	return l
}

// AttachSession sets the switcher Select hands conversations to.
func (l *ConversationList) AttachSession(s Switcher) {
	l.mu.Lock()
	l.switcher = s
	l.mu.Unlock()
}

// Load replaces the summaries with the server's list.
func (l *ConversationList) Load(ctx context.Context) error {
	conversations, err := l.opts.Source.ListConversations(ctx)
	if err != nil {
		l.opts.Notifier.Notify(Notice{Kind: NoticeAPI, Message: "could not load conversations", Err: err})
		return fmt.Errorf("load conversations: %w", err)
	}

	l.mu.Lock()
	l.all = append([]models.Conversation(nil), conversations...)
	l.refilterLocked()
	l.mu.Unlock()

	l.changed()
	return nil
}

// Filter schedules a search. The visible list updates once the query has
// been stable for the debounce delay.
func (l *ConversationList) Filter(query string) {
	l.mu.Lock()
	l.pendingQuery = query
	l.mu.Unlock()
	l.debounce.Trigger()
}

// FilterNow applies query immediately, cancelling any pending search.
func (l *ConversationList) FilterNow(query string) {
	l.debounce.Stop()
	l.mu.Lock()
	l.pendingQuery = query
	l.query = query
	l.refilterLocked()
	l.mu.Unlock()
	l.changed()
}

func (l *ConversationList) applyPendingQuery() {
	l.mu.Lock()
	l.query = l.pendingQuery
	l.refilterLocked()
	l.mu.Unlock()
	l.changed()
}

// Query returns the query currently applied to the visible list.
func (l *ConversationList) Query() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.query
}

// Visible returns the filtered summaries.
func (l *ConversationList) Visible() []models.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Conversation(nil), l.visible...)
}

// All returns every summary regardless of the filter.
func (l *ConversationList) All() []models.Conversation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Conversation(nil), l.all...)
}

// Get returns the summary for id.
func (l *ConversationList) Get(id string) (models.Conversation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return models.Conversation{}, false
	}
	return l.all[i], true
}

// Selected returns the selected conversation id.
func (l *ConversationList) Selected() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selected
}

// Select makes id the active conversation, persists it, and switches the
// attached session to it.
func (l *ConversationList) Select(ctx context.Context, id string) (models.Conversation, error) {
	l.mu.Lock()
	i := l.indexLocked(id)
	if i < 0 {
		l.mu.Unlock()
		return models.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	conv := l.all[i]
	l.selected = id
	switcher := l.switcher
	l.mu.Unlock()

	if l.opts.Navigation != nil {
		if err := l.opts.Navigation.SaveSelection(id); err != nil {
			l.opts.Logger.WithField("conversation", id).WithError(err).Warn("persist selected conversation")
		}
	}
	if switcher != nil {
		if err := switcher.Switch(ctx, conv); err != nil {
			return conv, err
		}
	}

	l.changed()
	return conv, nil
}

// Restore selects the conversation persisted by a previous run, if it is
// still in the list.
func (l *ConversationList) Restore(ctx context.Context) (models.Conversation, bool, error) {
	if l.opts.Navigation == nil {
		return models.Conversation{}, false, nil
	}
	id, ok, err := l.opts.Navigation.LoadSelection()
	if err != nil {
		return models.Conversation{}, false, fmt.Errorf("load selected conversation: %w", err)
	}
	if !ok {
		return models.Conversation{}, false, nil
	}
	if _, known := l.Get(id); !known {
		return models.Conversation{}, false, nil
	}

	conv, err := l.Select(ctx, id)
	if err != nil {
		return conv, false, err
	}
	return conv, true, nil
}

// RecordMessage updates the last-message preview for a conversation and,
// for unread inbound messages, bumps its unread count.
func (l *ConversationList) RecordMessage(conversationID string, msg models.Message, unread bool) {
	l.mu.Lock()
	i := l.indexLocked(conversationID)
	if i < 0 {
		l.mu.Unlock()
		return
	}
	conv := &l.all[i]
	conv.LastMessageText = msg.Preview()
	conv.LastMessageTime = msg.SentAt
	if unread {
		conv.UnreadCount++
	}
	l.refilterLocked()
	l.mu.Unlock()
	l.changed()
}

// ApplyRead lowers the unread count by the number of messages just
// confirmed read. The count never goes below zero.
func (l *ConversationList) ApplyRead(conversationID string, confirmed int) {
	if confirmed <= 0 {
		return
	}
	l.mu.Lock()
	i := l.indexLocked(conversationID)
	if i < 0 {
		l.mu.Unlock()
		return
	}
	l.all[i].UnreadCount = max(0, l.all[i].UnreadCount-confirmed)
	l.refilterLocked()
	l.mu.Unlock()
	l.changed()
}

// Close stops the pending search.
func (l *ConversationList) Close() {
	l.debounce.Stop()
}

func (l *ConversationList) indexLocked(id string) int {
	for i := range l.all {
		if l.all[i].ParticipantID == id {
			return i
		}
	}
	return -1
}

func (l *ConversationList) refilterLocked() {
	query := strings.ToLower(strings.TrimSpace(l.query))
	visible := make([]models.Conversation, 0, len(l.all))
	for _, conv := range l.all {
		if query == "" ||
			strings.Contains(strings.ToLower(conv.DisplayName), query) ||
			strings.Contains(strings.ToLower(conv.Email), query) {
			visible = append(visible, conv)
		}
	}
	l.visible = visible
}

func (l *ConversationList) changed() {
	if l.opts.OnChange != nil {
		l.opts.OnChange()
	}
}
